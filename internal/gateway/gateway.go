// Package gateway defines the remote mutation port the optimistic store
// persists through, and the error values adapters report with.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"organizer/internal/core"
)

// Gateway creates, patches, deletes and lists records of one resource.
// Create and Update answer with the full canonical record.
type Gateway interface {
	Create(ctx context.Context, r core.Resource, e core.Entity) (core.Entity, error)
	Update(ctx context.Context, r core.Resource, id string, patch core.Patch) (core.Entity, error)
	Delete(ctx context.Context, r core.Resource, id string) error
	List(ctx context.Context, r core.Resource) ([]core.Entity, error)
}

var (
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("gateway unavailable")
	ErrInvalid     = errors.New("rejected by gateway")
)

// Error is a rejection the gateway answered with. Its message is meant to
// be shown to the user as is.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	text := http.StatusText(e.Status)
	switch {
	case e.Status == 0:
		return e.Message
	case e.Message == "" || e.Message == text:
		return fmt.Sprintf("%d %s", e.Status, text)
	default:
		return fmt.Sprintf("%d %s: %s", e.Status, text, e.Message)
	}
}

// Is maps status codes onto the package sentinels so callers can use
// errors.Is without caring which adapter answered.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrForbidden:
		return e.Status == http.StatusForbidden || e.Status == http.StatusUnauthorized
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrUnavailable:
		return e.Status == 0 || e.Status >= 500
	case ErrInvalid:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	}
	return false
}

// NewError builds an Error for status with a message.
func NewError(status int, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// Temporary reports whether err is worth retrying later by hand.
func Temporary(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
