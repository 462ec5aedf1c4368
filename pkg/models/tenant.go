// Package models contains domain types for facts-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents one business location with its own facts versions,
// knowledge-base sources and retrieval index.
// Stored in engine_tenants table.
type Tenant struct {
	ID       uuid.UUID `json:"id"`
	Slug     string    `json:"slug"` // URL-safe handle used by the admin API
	Name     string    `json:"name"`
	Timezone string    `json:"timezone"`

	CreatedAt time.Time `json:"created_at"`
}
