package utils

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks setup problems (missing per-service settings, bad
// thresholds) that must surface as hard failures rather than empty results.
var ErrConfiguration = errors.New("configuration error")

// AppError wraps an operation, human-facing message, and underlying error.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// ConfigError builds an AppError that matches ErrConfiguration.
func ConfigError(op, format string, args ...any) error {
	return &AppError{Op: op, Msg: fmt.Sprintf(format, args...), Err: ErrConfiguration}
}

// IsConfigError reports whether err is a configuration failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
