package domain

import (
	"errors"
	"fmt"
)

var (
	// Store-level outcomes
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrEventProcessed     = errors.New("webhook event already processed")
	ErrUserNotFound       = fmt.Errorf("user: %w", ErrNotFound)
	ErrPaymentNotFound    = fmt.Errorf("payment: %w", ErrNotFound)
)

// Code classifies errors returned to callers of the client-facing operations.
type Code string

const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodePermissionDenied   Code = "permission_denied"
	CodeInvalidArgument    Code = "invalid_argument"
	CodeNotFound           Code = "not_found"
	CodeFailedPrecondition Code = "failed_precondition"
	CodeInternal           Code = "internal"
)

// Error is the typed error surfaced by use cases. errors.Is matches on Code,
// so errors.Is(err, domain.ErrFailedPrecondition) works for any message.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

var (
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated}
	ErrPermissionDenied   = &Error{Code: CodePermissionDenied}
	ErrFailedPrecondition = &Error{Code: CodeFailedPrecondition}
	ErrInternal           = &Error{Code: CodeInternal}
)

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

func Unauthenticated(msg string) error { return &Error{Code: CodeUnauthenticated, Msg: msg} }

func PermissionDenied(msg string) error { return &Error{Code: CodePermissionDenied, Msg: msg} }

func InvalidArgument(msg string) error {
	return &Error{Code: CodeInvalidArgument, Msg: msg, Err: ErrInvalidArgument}
}

func NotFound(msg string) error { return &Error{Code: CodeNotFound, Msg: msg, Err: ErrNotFound} }

func FailedPrecondition(msg string) error {
	return &Error{Code: CodeFailedPrecondition, Msg: msg}
}

// Internal wraps a gateway or store failure; the underlying message is kept.
func Internal(msg string, err error) error {
	return &Error{Code: CodeInternal, Msg: msg, Err: err}
}

// CodeOf returns the classification of err. Unclassified errors are internal,
// except bare ErrNotFound/ErrInvalidArgument sentinels coming from the store.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	}
	return CodeInternal
}
