package vault

import (
	"errors"
	"fmt"
)

// ErrNotFound covers both "absent" and "owned by another user". The
// two cases are deliberately indistinguishable so the API never leaks
// whether a guessed id exists.
var ErrNotFound = errors.New("not found")

// ValidationError reports malformed caller input, raised before any
// side effect is attempted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TransportError wraps a failure from the remote object transport.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StoreError wraps a metadata persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
