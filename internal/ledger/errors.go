package ledger

import (
	"errors"
	"fmt"
)

// Error taxonomy. Operations wrap one of these sentinels so callers can
// classify failures with errors.Is.
var (
	ErrValidation            = errors.New("validation error")
	ErrAuthenticationFailure = errors.New("authentication failure")
	ErrNotFound              = errors.New("entry not found")
	ErrAlreadyInvalidated    = errors.New("entry already invalidated")
	ErrTamperDetected        = errors.New("tamper detected")
	ErrChainBroken           = errors.New("chain broken")
	ErrStorage               = errors.New("storage failure")
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	CodeOK                    Code = ""
	CodeValidation            Code = "VALIDATION_ERROR"
	CodeAuthenticationFailure Code = "AUTHENTICATION_FAILURE"
	CodeNotFound              Code = "NOT_FOUND"
	CodeAlreadyInvalidated    Code = "ALREADY_INVALIDATED"
	CodeInvalidated           Code = "INVALIDATED"
	CodeTamperDetected        Code = "TAMPER_DETECTED"
	CodeChainBroken           Code = "CHAIN_BROKEN"
	CodeStorage               Code = "STORAGE_FAILURE"
)

// ValidationErrorf returns an error wrapping ErrValidation.
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Classify maps err onto its stable Code. Unclassified non-nil errors are
// reported as storage failures.
func Classify(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrAuthenticationFailure):
		return CodeAuthenticationFailure
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyInvalidated):
		return CodeAlreadyInvalidated
	case errors.Is(err, ErrTamperDetected):
		return CodeTamperDetected
	case errors.Is(err, ErrChainBroken):
		return CodeChainBroken
	default:
		return CodeStorage
	}
}

// Retryable reports whether retrying the failed operation could succeed.
// Integrity failures are hard stops that need manual investigation.
func Retryable(err error) bool {
	return Classify(err) == CodeStorage
}

// storageError wraps a collaborator error as ErrStorage while keeping the
// original error in the chain.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case CodeStorage:
		if errors.Is(err, ErrStorage) {
			return err
		}
		return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
	default:
		return err
	}
}
