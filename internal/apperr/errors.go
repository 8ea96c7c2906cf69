// Package apperr defines the error taxonomy shared by the store and its adapters.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrStorage    = errors.New("storage failure")
)

// Error is a classified application error. Kind is one of the sentinels above,
// Message is safe to show to a client.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel this error is classified as.
func (e *Error) Is(target error) bool { return e.Kind == target }

// Validation returns a client error describing bad input.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns an error for an unknown note id.
func NotFound(id int64) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("note %d not found", id)}
}

// Conflict returns an error for a failed revision precondition.
func Conflict(id int64) error {
	return &Error{Kind: ErrConflict, Message: fmt.Sprintf("note %d was modified concurrently", id)}
}

// Storage wraps a failure of the underlying medium. The cause is kept for logs
// and never exposed through PublicMessage.
func Storage(op string, err error) error {
	return &Error{Kind: ErrStorage, Message: op, Err: err}
}

// HTTPStatus maps an error to the response status code.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a message that can be sent to a client. Storage and
// unclassified errors collapse to "internal error".
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind != ErrStorage && ae.Message != "" {
		return ae.Message
	}
	return "internal error"
}
