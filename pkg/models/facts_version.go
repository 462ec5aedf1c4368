package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FactsVersionStatus is the lifecycle state of a facts version.
type FactsVersionStatus string

const (
	// VersionStatusDraft is a newly created, unpublished version.
	VersionStatusDraft FactsVersionStatus = "draft"
	// VersionStatusPublished is the version the chat runtime currently sees.
	// At most one version per tenant holds this status.
	VersionStatusPublished FactsVersionStatus = "published"
	// VersionStatusArchived is a formerly published version retained for rollback.
	VersionStatusArchived FactsVersionStatus = "archived"
)

// IsValid returns true if the status is a known lifecycle state.
func (s FactsVersionStatus) IsValid() bool {
	switch s {
	case VersionStatusDraft, VersionStatusPublished, VersionStatusArchived:
		return true
	default:
		return false
	}
}

// FactsVersion is one immutable configuration version for a tenant.
// Only status and publish metadata change after creation; the snapshot
// payload never does. Stored in engine_facts_versions.
type FactsVersion struct {
	ID       uuid.UUID          `json:"id"`
	TenantID uuid.UUID          `json:"tenant_id"`
	Status   FactsVersionStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`

	// PublishedAt survives archival so rollback can order history by it.
	PublishedAt *time.Time `json:"published_at,omitempty"`
	PublishedBy *string    `json:"published_by,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

// FactsSnapshot is the complete serialized configuration payload captured
// at version creation time (contacts, hours, transport, pages, promotions).
// 1:1 with its FactsVersion, deleted together, never mutated.
// Stored in engine_facts_snapshots.
type FactsSnapshot struct {
	VersionID uuid.UUID       `json:"version_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// PublishedPointer is the single source of truth for what the chat runtime
// sees right now. One row per tenant in engine_published_state; updated only
// by publish and rollback, always inside the same transaction as the status
// change on the affected versions.
type PublishedPointer struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	VersionID uuid.UUID `json:"version_id"`
	UpdatedAt time.Time `json:"updated_at"`
}
