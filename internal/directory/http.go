package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type HTTPDirectory struct {
	BaseURL string
	Client  *http.Client
}

type reviewerResponse struct {
	ID     string `json:"id"`
	Active bool   `json:"active"`
}

// IsActive treats an unknown reviewer as inactive; any other non-2xx answer
// is an error so the routing pass rolls back instead of silently dropping
// assignments.
func (h HTTPDirectory) IsActive(ctx context.Context, reviewerID string) (bool, error) {
	if h.Client == nil {
		h.Client = &http.Client{Timeout: 5 * time.Second}
	}

	endpoint := fmt.Sprintf("%s/reviewers/%s", h.BaseURL, url.PathEscape(reviewerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("reviewer directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("reviewer directory: status %d", resp.StatusCode)
	}

	var r reviewerResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return false, fmt.Errorf("reviewer directory: decode: %w", err)
	}
	return r.Active, nil
}
