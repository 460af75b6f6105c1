package cfq

import (
	"errors"
	"fmt"
	"strings"
)

// Error represents a structured scheduler error with context
type Error struct {
	Op    string    // Operation that failed (e.g., "INSERT", "STORE")
	Class int       // Fairness class (-1 if not applicable)
	Key   int64     // Fairness key (0 if not applicable)
	Code  ErrorCode // High-level error category
	Msg   string    // Human-readable message
	Inner error     // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.Class >= 0 {
		parts = append(parts, fmt.Sprintf("class=%d", e.Class))
	}
	if e.Key != 0 {
		parts = append(parts, fmt.Sprintf("key=%d", e.Key))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("cfq: %s (%s)", msg, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("cfq: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches sentinels and other structured errors by code
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if se, ok := target.(SentinelError); ok {
		return string(e.Code) == strings.TrimPrefix(string(se), "cfq: ")
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeInvalidParameters  ErrorCode = "invalid parameters"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeInvalidInsert      ErrorCode = "invalid insert point"
	ErrCodeInvariantViolation ErrorCode = "invariant violation"
	ErrCodeNotFound           ErrorCode = "not found"
	ErrCodeClosed             ErrorCode = "device closed"
	ErrCodeIOError            ErrorCode = "I/O error"
)

// SentinelError is a plain comparable error value
type SentinelError string

func (e SentinelError) Error() string {
	return string(e)
}

const (
	ErrInvalidParameters  SentinelError = "cfq: invalid parameters"
	ErrInsufficientMemory SentinelError = "cfq: insufficient memory"
	ErrInvalidInsert      SentinelError = "cfq: invalid insert point"
	ErrNotFound           SentinelError = "cfq: not found"
	ErrClosed             SentinelError = "cfq: device closed"
	ErrIOError            SentinelError = "cfq: I/O error"
)

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Class: -1,
		Code:  code,
		Msg:   msg,
	}
}

// NewClassError creates an error tied to a fairness class and key
func NewClassError(op string, class int, key int64, code ErrorCode, msg string) *Error {
	return &Error{
		Op:    op,
		Class: class,
		Key:   key,
		Code:  code,
		Msg:   msg,
	}
}

// WrapError wraps an existing error with scheduler context
func WrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}

	var ce *Error
	if errors.As(inner, &ce) {
		return &Error{
			Op:    op,
			Class: ce.Class,
			Key:   ce.Key,
			Code:  ce.Code,
			Msg:   ce.Msg,
			Inner: ce.Inner,
		}
	}

	return &Error{
		Op:    op,
		Class: -1,
		Code:  code,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// invariant panics with an invariant-violation error when cond is false.
// Broken bookkeeping is a programming error, never a runtime condition.
func invariant(cond bool, op, format string, args ...any) {
	if !cond {
		panic(NewError(op, ErrCodeInvariantViolation, fmt.Sprintf(format, args...)))
	}
}
