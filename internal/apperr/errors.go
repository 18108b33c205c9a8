package apperr

import (
	"errors"
	"fmt"
)

// Stores return these (wrapped) for factual states; services translate them
// into HTTP codes at the edge.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ValidationError reports a request that is not allowed for the actor or the
// case's current status. Nothing is mutated when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PermissionError reports an actor missing a specific permission.
type PermissionError struct {
	Permission string
	Message    string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s (requires %s)", e.Message, e.Permission)
}

func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func Permission(permission, format string, args ...any) error {
	return &PermissionError{Permission: permission, Message: fmt.Sprintf(format, args...)}
}

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(entity, id string) error {
	return fmt.Errorf("%s %q: %w", entity, id, ErrNotFound)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsPermission(err error) bool {
	var p *PermissionError
	return errors.As(err, &p)
}
