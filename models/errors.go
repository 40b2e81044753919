package models

import "fmt"

// ValidationError rejects user input before any work is done. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// ProviderError wraps an embedding or generation provider failure.
// Transient failures (rate limiting, 5xx) are retried with backoff before
// one of these surfaces.
type ProviderError struct {
	Provider  string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// CapacityError means a payload exceeded the provider's size limit even
// after the higher-capacity fallback attempt. Not retried; the caller must
// split the input.
type CapacityError struct {
	Provider string
	Message  string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s capacity exceeded: %s (split the input into smaller documents and retry)", e.Provider, e.Message)
}

// PersistenceError is a fatal store write failure. Batches written before
// the failure remain persisted; there is no rollback.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
