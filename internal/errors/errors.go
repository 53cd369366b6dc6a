// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfigInvalid  = errors.New("invalid configuration")
	ErrWatchlistEmpty = errors.New("watchlist is empty")
	ErrFetchFailed    = errors.New("quote fetch failed")
	ErrBadResponse    = errors.New("malformed provider response")
	ErrTimeout        = errors.New("operation timed out")
	ErrRateLimited    = errors.New("rate limited")
	ErrDataNotFound   = errors.New("data not found")
	ErrDatabaseError  = errors.New("database error")
	ErrNotStarted     = errors.New("poller not started")
)

// ConfigError represents a startup-level configuration problem, such as a
// watchlist that fails to load or carries an invalid target.
type ConfigError struct {
	Source  string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config error [%s]: %s: %v", e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("config error [%s]: %s", e.Source, e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigInvalid
}

// Is lets errors.Is(err, ErrConfigInvalid) match every ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewConfigError creates a new ConfigError.
func NewConfigError(source, message string, err error) *ConfigError {
	return &ConfigError{
		Source:  source,
		Message: message,
		Err:     err,
	}
}

// FetchError represents a failed poll-cycle fetch from the quote provider.
type FetchError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch error [%s]: %s: %v", e.Provider, msg, e.Err)
	}
	return fmt.Sprintf("fetch error [%s]: %s", e.Provider, msg)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrFetchFailed) match every FetchError.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}

// Temporary reports whether the next cycle could plausibly succeed where this
// one failed: timeouts, throttling and provider-side errors.
func (e *FetchError) Temporary() bool {
	if errors.Is(e.Err, ErrTimeout) || errors.Is(e.Err, ErrRateLimited) {
		return true
	}
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// NewFetchError creates a new FetchError.
func NewFetchError(provider string, statusCode int, message string, err error) *FetchError {
	return &FetchError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
