package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Change log actions. Every mutating operation on versioned entities writes
// exactly one entry with one of these actions.
const (
	ChangeActionCreate   = "create"
	ChangeActionUpdate   = "update"
	ChangeActionDelete   = "delete"
	ChangeActionPublish  = "publish"
	ChangeActionRollback = "rollback"
	ChangeActionIndex    = "index"
)

// Entity table names recorded in change log entries.
const (
	ChangeEntityFactsVersions = "engine_facts_versions"
	ChangeEntityKBSources     = "engine_kb_sources"
	ChangeEntityKBIndexes     = "engine_kb_indexes"
)

// ChangeLogEntry is one append-only audit record. Entries are written
// synchronously inside the same transaction as the mutation they describe,
// so the log can never show an entry without a committed state change.
// Stored in engine_change_log.
type ChangeLogEntry struct {
	ID          int64           `json:"id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	Actor       string          `json:"actor"`
	EntityTable string          `json:"entity_table"`
	EntityID    *uuid.UUID      `json:"entity_id,omitempty"`
	Action      string          `json:"action"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Reason      *string         `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
