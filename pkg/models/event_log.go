package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventLogEntry is one chat/runtime analytics event, keyed by trace and
// session identifiers. Append-only and independent of the facts store.
// Stored in engine_event_log.
type EventLogEntry struct {
	ID        int64           `json:"id"`
	TraceID   uuid.UUID       `json:"trace_id"`
	SessionID uuid.UUID       `json:"session_id"`
	UserID    *string         `json:"user_id,omitempty"`
	TenantID  *uuid.UUID      `json:"tenant_id,omitempty"`
	Channel   *string         `json:"channel,omitempty"`
	EventName string          `json:"event_name"`

	// FactsVersionID records which published snapshot the runtime was
	// serving when the event fired, for after-the-fact analysis.
	FactsVersionID *uuid.UUID      `json:"facts_version_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
