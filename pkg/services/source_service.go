package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/repositories"
)

// SourceService manages the knowledge-base source registry. Registry edits
// never touch a running job; jobs operate on the source list frozen at
// enqueue time.
type SourceService struct {
	sources repositories.KBSourceRepository
	logger  *zap.Logger
}

// NewSourceService creates a new SourceService.
func NewSourceService(sources repositories.KBSourceRepository, logger *zap.Logger) *SourceService {
	return &SourceService{
		sources: sources,
		logger:  logger.Named("sources"),
	}
}

// Create registers a new source.
func (s *SourceService) Create(ctx context.Context, source *models.KBSource, actor string) (*models.KBSource, error) {
	if err := validateSource(source); err != nil {
		return nil, err
	}
	if err := s.sources.Create(ctx, source, actor); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	s.logger.Info("source created",
		zap.String("tenant_id", source.TenantID.String()),
		zap.String("source_id", source.ID.String()),
		zap.String("source_type", string(source.Type)))
	return source, nil
}

// Get returns one source.
func (s *SourceService) Get(ctx context.Context, tenantID, sourceID uuid.UUID) (*models.KBSource, error) {
	return s.sources.Get(ctx, tenantID, sourceID)
}

// List returns all registered sources for the tenant.
func (s *SourceService) List(ctx context.Context, tenantID uuid.UUID) ([]*models.KBSource, error) {
	return s.sources.List(ctx, tenantID)
}

// Update replaces a source's descriptive fields.
func (s *SourceService) Update(ctx context.Context, source *models.KBSource, actor string) (*models.KBSource, error) {
	if err := validateSource(source); err != nil {
		return nil, err
	}
	if err := s.sources.Update(ctx, source, actor); err != nil {
		return nil, err
	}

	s.logger.Info("source updated",
		zap.String("tenant_id", source.TenantID.String()),
		zap.String("source_id", source.ID.String()))
	return source, nil
}

// Delete removes a source from the registry. A running job keeps its frozen
// copy and finishes normally.
func (s *SourceService) Delete(ctx context.Context, tenantID, sourceID uuid.UUID, actor string) error {
	if err := s.sources.Delete(ctx, tenantID, sourceID, actor); err != nil {
		return err
	}

	s.logger.Info("source deleted",
		zap.String("tenant_id", tenantID.String()),
		zap.String("source_id", sourceID.String()))
	return nil
}

func validateSource(source *models.KBSource) error {
	if !source.Type.IsValid() {
		return fmt.Errorf("unsupported source_type: %q", source.Type)
	}
	switch source.Type {
	case models.SourceTypeURL:
		if source.SourceURL == nil || *source.SourceURL == "" {
			return fmt.Errorf("source_url is required for source_type=url")
		}
	case models.SourceTypeFile:
		if source.FilePath == nil || *source.FilePath == "" {
			return fmt.Errorf("file_path is required for source_type=file")
		}
	case models.SourceTypePDF:
		hasURL := source.SourceURL != nil && *source.SourceURL != ""
		hasPath := source.FilePath != nil && *source.FilePath != ""
		if !hasURL && !hasPath {
			return fmt.Errorf("source_url or file_path is required for source_type=pdf")
		}
	}
	return nil
}
