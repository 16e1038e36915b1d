package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAdmissionRejected = errors.New("admission rejected")
	ErrStoreUnavailable  = errors.New("durable store unavailable")
	ErrProviderFailure   = errors.New("provider failure")
	ErrAlreadyDriven     = errors.New("job already driven")
)

// ValidationError is returned for malformed or out-of-range submissions.
// No job exists when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// ProviderError wraps a failed or unusable provider call. Its message is
// what ends up in the job's failure reason.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Provider == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderFailure, e.Err}
}
