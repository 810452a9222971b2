package validator

import "errors"

var (
	// Invocation failures. These never leave Validate; they end up in result messages.
	ErrTimeout          = errors.New("validator timeout")
	ErrExecution        = errors.New("validator execution error")
	ErrUnavailable      = errors.New("validator unavailable")
	ErrRequirementUnmet = errors.New("runtime requirement unmet")
	ErrDeadline         = errors.New("verification deadline exceeded")

	// Registry misuse.
	ErrUnknownValidator   = errors.New("unknown validator")
	ErrDuplicateValidator = errors.New("duplicate validator")
	ErrInvalidMetadata    = errors.New("invalid validator metadata")
)
