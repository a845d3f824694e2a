package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error the engine returns to a caller matches exactly one
// of these through errors.Is.
var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)

// Specific causes. They are carried in Error.Err so callers can match them
// directly.
var (
	ErrAlreadyExists       = errors.New("already exists")
	ErrBalanceNotFound     = errors.New("balance not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrWouldGoNegative     = errors.New("balance would go negative")
	ErrPositionExists      = errors.New("position already exists")
	ErrPositionNotFound    = errors.New("position not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotBuyTransaction   = errors.New("transaction is not a buy")
	ErrSwapFailed          = errors.New("swap failed")
	ErrPriceNotFound       = errors.New("price not found")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrLockHeld            = errors.New("lock already held")
)

// Error is the engine's typed error: a kind for programmatic handling, a
// machine-readable code, and a human-readable detail.
type Error struct {
	Kind   error
	Code   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap exposes both the kind and the specific cause to errors.Is.
func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(kind error, code string, cause error, format string, args ...any) *Error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Code: code, Detail: detail, Err: cause}
}

// Validationf reports malformed or out-of-range input.
func Validationf(code, format string, args ...any) *Error {
	return newError(ErrValidation, code, nil, format, args...)
}

// Invalidf is Validationf carrying a specific cause.
func Invalidf(cause error, code, format string, args ...any) *Error {
	return newError(ErrValidation, code, cause, format, args...)
}

// NotFoundf reports a missing balance, position, transaction or agent.
func NotFoundf(cause error, code, format string, args ...any) *Error {
	return newError(ErrNotFound, code, cause, format, args...)
}

// Conflictf reports a state conflict such as a duplicate position or an
// insufficient balance.
func Conflictf(cause error, code, format string, args ...any) *Error {
	return newError(ErrConflict, code, cause, format, args...)
}

// Unavailablef reports that a collaborator could not be reached.
func Unavailablef(cause error, code, format string, args ...any) *Error {
	return newError(ErrUnavailable, code, cause, format, args...)
}

// KindOf returns the kind name of err: "validation", "not_found", "conflict",
// "unavailable" or "internal".
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "internal"
	}
}
