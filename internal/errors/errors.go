package errors

import (
	"errors"
	"fmt"
)

// Code classifies engine errors. Absence of a value is never an error:
// lookups report misses through a boolean, not through this package.
type Code string

const (
	CodeInvalidArgument  Code = "invalid_argument"
	CodeCapacityExceeded Code = "capacity_exceeded"
	CodeRefreshFailed    Code = "refresh_failed"
	CodeTaskNotFound     Code = "task_not_found"
	CodeBreakerOpen      Code = "breaker_open"
)

// CacheError is the error type returned by all engine APIs.
type CacheError struct {
	Code       Code
	Message    string
	underlying error
}

func (e *CacheError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *CacheError) Unwrap() error {
	return e.underlying
}

// Is matches on Code so callers can compare against the sentinels below
// without caring about the wrapped detail.
func (e *CacheError) Is(target error) bool {
	var ce *CacheError
	if errors.As(target, &ce) {
		return e.Code == ce.Code
	}
	return false
}

// WithDetail returns a copy carrying extra context.
func (e *CacheError) WithDetail(format string, args ...any) *CacheError {
	return &CacheError{
		Code:    e.Code,
		Message: e.Message + ": " + fmt.Sprintf(format, args...),
	}
}

// Wrap returns a copy with an underlying cause attached.
func (e *CacheError) Wrap(err error) *CacheError {
	return &CacheError{
		Code:       e.Code,
		Message:    e.Message,
		underlying: err,
	}
}

// Common errors
var (
	ErrInvalidKey = &CacheError{
		Code:    CodeInvalidArgument,
		Message: "invalid cache key",
	}

	ErrInvalidNamespace = &CacheError{
		Code:    CodeInvalidArgument,
		Message: "invalid namespace",
	}

	ErrInvalidTTL = &CacheError{
		Code:    CodeInvalidArgument,
		Message: "ttl must not be negative",
	}

	ErrInvalidTag = &CacheError{
		Code:    CodeInvalidArgument,
		Message: "invalid dependency tag",
	}

	ErrInvalidPriority = &CacheError{
		Code:    CodeInvalidArgument,
		Message: "invalid refresh priority",
	}

	ErrNilFetcher = &CacheError{
		Code:    CodeInvalidArgument,
		Message: "refresh task requires a fetch function",
	}

	ErrTaskNotFound = &CacheError{
		Code:    CodeTaskNotFound,
		Message: "refresh task not found",
	}

	ErrCapacityExceeded = &CacheError{
		Code:    CodeCapacityExceeded,
		Message: "memory ceiling exceeded",
	}

	ErrRefreshFailed = &CacheError{
		Code:    CodeRefreshFailed,
		Message: "refresh failed",
	}
)

// Is reports whether any error in err's chain matches target. Exposed so
// callers need only this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain matching target's type.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// InvalidArgument builds a one-off invalid-argument error.
func InvalidArgument(format string, args ...any) *CacheError {
	return &CacheError{
		Code:    CodeInvalidArgument,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsInvalidArgument reports whether err is any invalid-argument error.
func IsInvalidArgument(err error) bool {
	var ce *CacheError
	return errors.As(err, &ce) && ce.Code == CodeInvalidArgument
}
