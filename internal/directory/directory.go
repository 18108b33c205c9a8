package directory

import "context"

// Directory answers reviewer liveness for assignment creation.
type Directory interface {
	IsActive(ctx context.Context, reviewerID string) (bool, error)
}
