package models

import "errors"

// Error kinds surfaced by the context service. Wrap with fmt.Errorf("...: %w", kind)
// and classify with errors.Is.
var (
	// ErrInvalidInput marks malformed requests. Not retryable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks lookups or deletes for ids no tier holds.
	ErrNotFound = errors.New("not found")

	// ErrCapacityExhausted marks a long-term write rejected by a collaborator
	// after rollback. Retryable.
	ErrCapacityExhausted = errors.New("capacity exhausted")

	// ErrCollaboratorFailure marks a vector or graph store error on the write
	// path. Read-path collaborator errors degrade the response instead.
	ErrCollaboratorFailure = errors.New("collaborator failure")

	// ErrDeadlineExceeded marks a retrieval that ran out of time before any
	// source produced results.
	ErrDeadlineExceeded = errors.New("deadline exceeded")
)
