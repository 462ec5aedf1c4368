// Package apperrors defines the error taxonomy shared across the engine.
// Sentinel errors classify failures so callers can decide between
// "fix the request" (ErrNotFound, ErrInvalidState), "retry later"
// (ErrConflict, ErrJobAlreadyActive) and "infra issue" (EmbeddingServiceError).
package apperrors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a referenced tenant, version, source or job does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState indicates an operation against an entity in the wrong
	// lifecycle state, e.g. publishing a version that is not a draft.
	ErrInvalidState = errors.New("invalid state")

	// ErrConflict indicates an optimistic concurrency check failed on a
	// pointer swap. The caller should re-read and retry.
	ErrConflict = errors.New("conflict")

	// ErrJobAlreadyActive indicates a queued or running index job already
	// exists for the tenant (single-flight invariant).
	ErrJobAlreadyActive = errors.New("index job already active")

	// ErrNoPriorVersion indicates rollback found no earlier published
	// version to return to.
	ErrNoPriorVersion = errors.New("no prior published version")
)

// SourceFetchError reports a failure to fetch or extract one knowledge-base
// source. It is non-fatal to the enclosing index job and is aggregated into
// the job stats.
type SourceFetchError struct {
	SourceID uuid.UUID
	Err      error
}

func (e *SourceFetchError) Error() string {
	return fmt.Sprintf("fetch source %s: %v", e.SourceID, e.Err)
}

func (e *SourceFetchError) Unwrap() error {
	return e.Err
}

// EmbeddingServiceError reports a failure from the embedding or vector-store
// collaborator. It is fatal to the enclosing index job; the caller may
// re-enqueue.
type EmbeddingServiceError struct {
	Op  string
	Err error
}

func (e *EmbeddingServiceError) Error() string {
	return fmt.Sprintf("embedding service: %s: %v", e.Op, e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error {
	return e.Err
}
