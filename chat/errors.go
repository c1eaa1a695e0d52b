package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a request missing a required field. Nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown user id.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable marks a failed read or write against the message store.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Error carries the failed operation alongside one of the sentinel kinds above.
// errors.Is matches both the kind and the underlying cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	out := "chat: " + e.Op + ": " + e.Kind.Error()
	if e.Msg != "" {
		out += ": " + e.Msg
	}
	if e.Err != nil {
		out += ": " + e.Err.Error()
	}
	return out
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func validationError(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func notFoundError(op, userID string, err error) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf("user %q", userID), Err: err}
}

func storeError(op string, err error) error {
	return &Error{Kind: ErrStoreUnavailable, Op: op, Err: err}
}
