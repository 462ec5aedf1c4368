package models

import (
	"time"

	"github.com/google/uuid"
)

// KBSourceType is the kind of external document a source points at.
type KBSourceType string

const (
	SourceTypeURL  KBSourceType = "url"
	SourceTypePDF  KBSourceType = "pdf"
	SourceTypeFile KBSourceType = "file"
)

// IsValid returns true if the source type is supported.
func (t KBSourceType) IsValid() bool {
	switch t {
	case SourceTypeURL, SourceTypePDF, SourceTypeFile:
		return true
	default:
		return false
	}
}

// KBSource is one external knowledge-base source document registered for a
// tenant. Admin CRUD mutates the descriptive fields; the indexing job updates
// LastHash/LastFetchedAt after each fetch attempt.
// Stored in engine_kb_sources.
type KBSource struct {
	ID       uuid.UUID    `json:"id"`
	TenantID uuid.UUID    `json:"tenant_id"`
	Enabled  bool         `json:"enabled"`
	Type     KBSourceType `json:"source_type"`

	// Location: URL sources use SourceURL, file sources use FilePath,
	// PDF sources may use either.
	SourceURL *string `json:"source_url,omitempty"`
	FilePath  *string `json:"file_path,omitempty"`

	Title       *string `json:"title,omitempty"`
	ContentType *string `json:"content_type,omitempty"`

	// LastHash is the content hash observed at the last successful fetch.
	// An unchanged hash makes the source a no-op candidate for the next
	// job's diff step.
	LastHash      *string    `json:"last_hash,omitempty"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`

	// ExpiresAt, when set and in the past, excludes the source from indexing.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the source should be skipped at the given instant.
func (s *KBSource) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}
