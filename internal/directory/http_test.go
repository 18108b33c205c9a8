package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/reviewers/alice":
			_, _ = w.Write([]byte(`{"id":"alice","active":true}`))
		case "/reviewers/bob":
			_, _ = w.Write([]byte(`{"id":"bob","active":false}`))
		case "/reviewers/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	d := HTTPDirectory{BaseURL: srv.URL}
	ctx := context.Background()

	active, err := d.IsActive(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = d.IsActive(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, active)

	active, err = d.IsActive(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, active)

	_, err = d.IsActive(ctx, "broken")
	assert.Error(t, err)
}

func TestStaticDirectory(t *testing.T) {
	d := StaticDirectory{Active: map[string]bool{"alice": true}}
	ok, err := d.IsActive(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _ = d.IsActive(context.Background(), "bob")
	assert.False(t, ok)
}
