package models

import (
	"time"

	"github.com/google/uuid"
)

// IndexJobStatus is the lifecycle state of an indexing job.
type IndexJobStatus string

const (
	JobStatusQueued  IndexJobStatus = "queued"
	JobStatusRunning IndexJobStatus = "running"
	JobStatusSuccess IndexJobStatus = "success"
	JobStatusFailed  IndexJobStatus = "failed"
)

// Active reports whether the status counts against the one-active-job-per-
// tenant invariant.
func (s IndexJobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// FrozenSource is the copy of a KBSource captured at enqueue time. Jobs
// operate on this frozen list only; registry edits made while a job runs do
// not affect it.
type FrozenSource struct {
	ID        uuid.UUID    `json:"id"`
	Type      KBSourceType `json:"source_type"`
	SourceURL *string      `json:"source_url,omitempty"`
	FilePath  *string      `json:"file_path,omitempty"`
	Title     *string      `json:"title,omitempty"`
	LastHash  *string      `json:"last_hash,omitempty"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
}

// Expired reports whether the frozen source should be skipped at the given
// instant. Expiry is evaluated at run time, not enqueue time.
func (s FrozenSource) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}

// IndexJobStats summarizes one job run.
type IndexJobStats struct {
	SourcesTotal     int `json:"sources_total"`
	SourcesProcessed int `json:"sources_processed"`
	SourcesSkipped   int `json:"sources_skipped"`
	SourcesFailed    int `json:"sources_failed"`
	ChunksCount      int `json:"chunks_count"`
	EmbedTimeMS      int `json:"embed_time_ms"`
	UpsertTimeMS     int `json:"upsert_time_ms"`
}

// IndexJob is one knowledge-base indexing run for a tenant. At most one job
// per tenant may be queued or running at any time; the storage layer enforces
// this with a partial unique index. Stored in engine_kb_index_jobs.
type IndexJob struct {
	ID       uuid.UUID      `json:"id"`
	TenantID uuid.UUID      `json:"tenant_id"`
	Status   IndexJobStatus `json:"status"`

	TriggeredBy *string `json:"triggered_by,omitempty"`
	Reason      *string `json:"reason,omitempty"`

	// Sources is the frozen input list captured at enqueue time.
	Sources []FrozenSource `json:"sources"`

	// Force disables the content-hash diff so every source is re-embedded
	// and the tenant's collection is rebuilt from scratch.
	Force bool `json:"force"`

	Stats     *IndexJobStats `json:"stats,omitempty"`
	ErrorText *string        `json:"error_text,omitempty"`

	// CancelRequested marks the job for cancellation; the worker checks it
	// before the atomic activation step.
	CancelRequested bool `json:"cancel_requested"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
