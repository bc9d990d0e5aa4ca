// Package domain defines the core task entities and the error taxonomy
// shared by the worker engine.
package domain

import "errors"

// Common domain errors used across the worker engine.
var (
	// ErrValidation is returned when task arguments fail handler
	// validation. Bad input is not transient, so it is never retried.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownTaskType is returned when no handler is registered for a
	// task's type. Such tasks are poison messages and are never retried.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrDuplicateTaskType is returned when a handler is registered for a
	// type name that already has one.
	ErrDuplicateTaskType = errors.New("duplicate task type")

	// ErrTransient is returned for failures that are expected to resolve
	// on retry: automation timeouts, session crashes, network blips.
	ErrTransient = errors.New("transient execution error")

	// ErrPoolExhausted is returned when a browser session could not be
	// acquired within the configured timeout. Treated as transient.
	ErrPoolExhausted = errors.New("session pool exhausted")

	// ErrFeatureMismatch is returned when scoring input disagrees with the
	// fitted model's feature shape. A data contract violation, not retried.
	ErrFeatureMismatch = errors.New("feature shape mismatch")

	// ErrFatalStartup is returned for process-fatal startup failures such
	// as missing connectivity settings or an unreadable blacklist/dataset.
	ErrFatalStartup = errors.New("fatal startup error")
)

// Retryable reports whether a task execution error warrants another
// attempt. Validation failures, unknown task types, and feature mismatches
// can never succeed on retry; everything else is assumed transient.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrUnknownTaskType),
		errors.Is(err, ErrFeatureMismatch):
		return false
	default:
		return true
	}
}
