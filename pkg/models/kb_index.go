package models

import (
	"time"

	"github.com/google/uuid"
)

// KBIndexStatus is the lifecycle state of one retrieval index generation.
type KBIndexStatus string

const (
	// IndexStatusBuilding is a generation still being populated by a job.
	IndexStatusBuilding KBIndexStatus = "building"
	// IndexStatusActive is the generation the retrieval collaborator queries.
	IndexStatusActive KBIndexStatus = "active"
	// IndexStatusSuperseded is a previously active generation retained for
	// debugging until garbage collection.
	IndexStatusSuperseded KBIndexStatus = "superseded"
	// IndexStatusDiscarded is a generation whose job failed or was cancelled
	// before activation.
	IndexStatusDiscarded KBIndexStatus = "discarded"
)

// KBIndex represents one completed, queryable retrieval index generation.
// Stored in engine_kb_indexes.
type KBIndex struct {
	ID       uuid.UUID     `json:"id"`
	TenantID uuid.UUID     `json:"tenant_id"`
	Label    string        `json:"label"`
	Status   KBIndexStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	ActivatedAt *time.Time `json:"activated_at,omitempty"`
}

// ActiveIndexPointer is the per-tenant reference to the generation currently
// served to retrieval. Updated only by a successful index job, atomically
// with the job's success transition. Stored in engine_active_index_state.
type ActiveIndexPointer struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	IndexID   uuid.UUID `json:"index_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
