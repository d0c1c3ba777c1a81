package utils

import "errors"

// Error taxonomy shared by the domain services. Controllers map these to HTTP
// statuses; everything else wraps them with fmt.Errorf("...: %w", err).
var (
	// ErrValidation marks a malformed request. No state change happened.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown server/alert/action id.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a duplicate non-terminal action.
	ErrConflict = errors.New("conflict")

	// ErrInvalidTransition marks a state-machine violation.
	ErrInvalidTransition = errors.New("invalid transition")
)
