// Package errs defines the error categories the orchestration layer reports.
// Callers wrap one of these sentinels with fmt.Errorf("...: %w", ...) and
// handlers match with errors.Is to pick the HTTP status class.
package errs

import "errors"

var (
	// ErrValidation marks a malformed or incomplete request. No side effects
	// have occurred when it is returned.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a reference to an unknown transaction or correlation
	// id. No mutation has occurred.
	ErrNotFound = errors.New("not found")

	// ErrProvider marks a call the payment provider rejected or failed.
	ErrProvider = errors.New("provider error")

	// ErrConflict marks a business-rule conflict: duplicate idempotency key,
	// refund amount exceeding the original charge, double settlement.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks a timeout or network failure where the provider-side
	// outcome is unknown. Not retried automatically inside the request path.
	ErrTransient = errors.New("transient error")
)
