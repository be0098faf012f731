package swarm

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is; none of them is retryable.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
)

// ErrDuplicate is returned by a Tx when an insert hits a unique key.
var ErrDuplicate = errors.New("duplicate key")

// Error is an engine outcome carrying one kind and a caller-facing message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

func validationf(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Msg: fmt.Sprintf(format, args...)}
}

func conflictf(format string, args ...any) error {
	return &Error{Kind: ErrConflict, Msg: fmt.Sprintf(format, args...)}
}

// notFoundOrNotOwner is the only error creator-only operations return for a
// missing swarm, a non-creator caller or a swarm in the wrong state. The
// message is identical in every case.
func notFoundOrNotOwner() error {
	return &Error{Kind: ErrNotFound, Msg: "swarm not found or not authorized"}
}

// Message returns the caller-facing text of err, or "" when err is not an
// engine error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return ""
}

// NewError builds an engine-style error for packages that share these kinds.
func NewError(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
