package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/repositories"
)

// FactsService manages the versioned facts store: draft creation, atomic
// publish, rollback and reads of the published snapshot.
type FactsService struct {
	versions  repositories.FactsVersionRepository
	changeLog repositories.ChangeLogRepository
	logger    *zap.Logger
}

// NewFactsService creates a new FactsService.
func NewFactsService(
	versions repositories.FactsVersionRepository,
	changeLog repositories.ChangeLogRepository,
	logger *zap.Logger,
) *FactsService {
	return &FactsService{
		versions:  versions,
		changeLog: changeLog,
		logger:    logger.Named("facts"),
	}
}

// CreateDraftInput is the payload for creating a new draft version.
type CreateDraftInput struct {
	TenantID uuid.UUID
	Payload  json.RawMessage
	Actor    string
	Notes    *string
}

// CreateDraft validates the payload and stores a new draft version with its
// snapshot. Drafts are invisible to runtime reads until published.
func (s *FactsService) CreateDraft(ctx context.Context, input CreateDraftInput) (*models.FactsVersion, error) {
	if len(input.Payload) == 0 || !json.Valid(input.Payload) {
		return nil, fmt.Errorf("payload must be a valid JSON document")
	}

	version := &models.FactsVersion{
		TenantID:  input.TenantID,
		CreatedBy: input.Actor,
		Notes:     input.Notes,
	}
	if err := s.versions.CreateDraft(ctx, version, input.Payload); err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}

	s.logger.Info("draft created",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("version_id", version.ID.String()))
	return version, nil
}

// PublishInput is the payload for publishing a draft version.
type PublishInput struct {
	TenantID  uuid.UUID
	VersionID uuid.UUID

	// ExpectedCurrent is the published version the caller last observed.
	// When nil the service reads the current pointer itself; the swap is
	// still compare-and-swapped against that read, so a publish that lands
	// in between fails with ErrConflict rather than being silently
	// overwritten.
	ExpectedCurrent *uuid.UUID

	Actor string
	Notes *string
}

// Publish atomically makes the draft the tenant's published version.
func (s *FactsService) Publish(ctx context.Context, input PublishInput) (*models.FactsVersion, error) {
	expected := input.ExpectedCurrent
	if expected == nil {
		current, err := s.versions.GetPublishedVersionID(ctx, input.TenantID)
		if err != nil {
			return nil, fmt.Errorf("read published pointer: %w", err)
		}
		expected = current
	}

	version, err := s.versions.Publish(ctx, input.TenantID, input.VersionID, expected, input.Actor, input.Notes)
	if err != nil {
		return nil, err
	}

	s.logger.Info("version published",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("version_id", version.ID.String()),
		zap.String("actor", input.Actor))
	return version, nil
}

// Rollback swaps the published pointer back to the most recent previously
// published version. No new version is created; the prior snapshot is served
// as-is. Repeated rollbacks keep walking backward through the archive.
func (s *FactsService) Rollback(ctx context.Context, tenantID uuid.UUID, actor string, reason *string) (*models.FactsVersion, error) {
	version, err := s.versions.Rollback(ctx, tenantID, actor, reason)
	if err != nil {
		return nil, err
	}

	s.logger.Info("rolled back",
		zap.String("tenant_id", tenantID.String()),
		zap.String("version_id", version.ID.String()),
		zap.String("actor", actor))
	return version, nil
}

// GetPublishedSnapshot returns the payload the runtime should serve. Reads
// see either the previous or the new snapshot during a publish, never a mix.
func (s *FactsService) GetPublishedSnapshot(ctx context.Context, tenantID uuid.UUID) (json.RawMessage, error) {
	return s.versions.GetPublishedSnapshot(ctx, tenantID)
}

// GetVersion returns one version's metadata.
func (s *FactsService) GetVersion(ctx context.Context, tenantID, versionID uuid.UUID) (*models.FactsVersion, error) {
	return s.versions.Get(ctx, tenantID, versionID)
}

// GetVersionSnapshot returns one version's payload regardless of status,
// for admin inspection and diffing.
func (s *FactsService) GetVersionSnapshot(ctx context.Context, tenantID, versionID uuid.UUID) (json.RawMessage, error) {
	if _, err := s.versions.Get(ctx, tenantID, versionID); err != nil {
		return nil, err
	}
	return s.versions.GetSnapshot(ctx, versionID)
}

// ListVersions returns version history, newest first.
func (s *FactsService) ListVersions(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.FactsVersion, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.versions.List(ctx, tenantID, limit)
}

// History returns the audit trail for the tenant, newest first.
func (s *FactsService) History(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.ChangeLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.changeLog.ListByTenant(ctx, tenantID, limit)
}
