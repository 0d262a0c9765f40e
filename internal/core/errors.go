package core

import (
	"errors"

	"github.com/parley-chat/parley-server/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeNotFound   = "not_found"
	ErrCodeConflict   = "conflict"
	ErrCodeValidation = "validation_error"
	ErrCodeTransport  = "transport_error"
	ErrCodeInternal   = "internal_error"
)

// Error wraps a code and human-readable message. Errors are reported back
// to the originating connection only, never broadcast.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func coreError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// fromStore maps store sentinel errors onto the core taxonomy.
func fromStore(err error, msg string) *Error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return coreError(ErrCodeNotFound, msg)
	case errors.Is(err, store.ErrConflict):
		return coreError(ErrCodeConflict, msg)
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
