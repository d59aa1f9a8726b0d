// ABOUTME: Error kinds returned by the chat service
// ABOUTME: Callers map them onto transport status codes with errors.Is and errors.As

package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means the request carried no usable identity.
	ErrUnauthenticated = errors.New("unauthorized")

	// ErrForbidden means the caller's role may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the targeted message does not exist.
	ErrNotFound = errors.New("message not found")

	// ErrDuplicate means a send with the same client id was already accepted.
	ErrDuplicate = errors.New("duplicate message")
)

// ValidationError reports a malformed request. Nothing was written or published.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// StoreError wraps a persistence failure. Nothing was published.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// outcome labels an error for the mutation counter.
func outcome(err error) string {
	var verr *ValidationError
	var serr *StoreError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &serr):
		return "store_error"
	default:
		return "error"
	}
}
