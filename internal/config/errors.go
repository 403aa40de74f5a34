package config

import "fmt"

// ErrorCode classifies configuration failures.
type ErrorCode string

const (
	ErrMissing ErrorCode = "missing"
	ErrInvalid ErrorCode = "invalid"
)

// Error is a configuration problem found at start-up. It is not recoverable
// at runtime.
type Error struct {
	Code  ErrorCode
	Key   string
	Value string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "invalid configuration"
	}
	switch e.Code {
	case ErrMissing:
		return fmt.Sprintf("%s is required", e.Key)
	case ErrInvalid:
		return fmt.Sprintf("invalid %s=%q", e.Key, e.Value)
	default:
		return "invalid configuration"
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func missing(key string) error {
	return &Error{Code: ErrMissing, Key: key}
}
