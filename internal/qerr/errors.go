// Package qerr defines the error types of the job processing core.
//
// The executor maps them to job states: every error type except
// ValidationError results in a terminal ERROR job, ValidationError is
// raised before a job row exists.
package qerr

import (
	"fmt"
	"time"
)

// ValidationError reports a malformed job creation request, e.g. an
// unknown application. The request is rejected before a job row is
// inserted.
type ValidationError struct {
	Reason string
}

func NewValidationError(format string, a ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, a...)}
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ConfigurationError reports an unresolvable module or a collaborator
// authentication failure. Jobs failing with it are not retried
// automatically.
type ConfigurationError struct {
	Reason string
}

func NewConfigurationError(format string, a ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, a...)}
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// ModuleProcessingError wraps a domain error raised by a module's
// Process method.
type ModuleProcessingError struct {
	Module string
	Err    error
}

func NewModuleProcessingError(module string, err error) *ModuleProcessingError {
	return &ModuleProcessingError{Module: module, Err: err}
}

func (e *ModuleProcessingError) Error() string {
	return fmt.Sprintf("module %s failed: %s", e.Module, e.Err)
}

func (e *ModuleProcessingError) Unwrap() error {
	return e.Err
}

// ConflictError is returned when a dashboard merge could not be
// serialized within the bounded number of retries.
type ConflictError struct {
	Attempts int
	Err      error
}

func NewConflictError(attempts int, err error) *ConflictError {
	return &ConflictError{Attempts: attempts, Err: err}
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting concurrent write, gave up after %d attempts: %s", e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// RetryableError marks an error as transient.
// The github client returns it e.g. when the API ratelimit is
// exceeded.
type RetryableError struct {
	// Err is the wrapped original error
	Err error
	// After is the earliest point in time that the operation can be retried
	After time.Time
}

func NewRetryableError(originalErr error, retryAfter time.Time) *RetryableError {
	return &RetryableError{
		Err:   originalErr,
		After: retryAfter,
	}
}

func NewRetryableAnytimeError(originalErr error) *RetryableError {
	return &RetryableError{
		Err: originalErr,
	}
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) Error() string {
	if e.After.IsZero() {
		return fmt.Sprintf("retryable error: %s", e.Err)
	}

	return fmt.Sprintf("retryable error (after %s): %s", e.After, e.Err)
}
