package directory

import "context"

type StaticDirectory struct {
	Active map[string]bool
}

func (d StaticDirectory) IsActive(ctx context.Context, reviewerID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return d.Active[reviewerID], nil
}
