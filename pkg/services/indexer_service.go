package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/embeddings"
	"github.com/parkwise-ai/facts-engine/pkg/fetch"
	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/repositories"
	"github.com/parkwise-ai/facts-engine/pkg/vector"
)

// IndexerService runs knowledge-base indexing jobs. At most one job per
// tenant may be queued or running (the storage layer enforces this); jobs
// for different tenants run concurrently. A job operates only on the source
// list frozen at enqueue time.
type IndexerService struct {
	db       *database.DB
	jobs     repositories.IndexJobRepository
	indexes  repositories.KBIndexRepository
	sources  repositories.KBSourceRepository
	fetcher  fetch.Fetcher
	embedder embeddings.Embedder
	store    vector.Store
	chunker  *Chunker
	logger   *zap.Logger

	// cancels maps job ID to the running job's context cancel func so an
	// admin cancel interrupts in-flight fetches, not just the checkpoints.
	cancels sync.Map

	wg sync.WaitGroup
}

// NewIndexerService creates a new IndexerService.
func NewIndexerService(
	db *database.DB,
	jobs repositories.IndexJobRepository,
	indexes repositories.KBIndexRepository,
	sources repositories.KBSourceRepository,
	fetcher fetch.Fetcher,
	embedder embeddings.Embedder,
	store vector.Store,
	chunker *Chunker,
	logger *zap.Logger,
) *IndexerService {
	return &IndexerService{
		db:       db,
		jobs:     jobs,
		indexes:  indexes,
		sources:  sources,
		fetcher:  fetcher,
		embedder: embedder,
		store:    store,
		chunker:  chunker,
		logger:   logger.Named("indexer"),
	}
}

// EnqueueInput is the payload for requesting a reindex.
type EnqueueInput struct {
	TenantID    uuid.UUID
	TriggeredBy *string
	Reason      *string

	// Force re-embeds every source and rebuilds the tenant's collection
	// from scratch, clearing points left by deleted sources.
	Force bool
}

// Enqueue freezes the tenant's enabled sources into a new queued job and
// starts a worker goroutine for it. Returns apperrors.ErrJobAlreadyActive
// when a job is already queued or running for the tenant.
func (s *IndexerService) Enqueue(ctx context.Context, input EnqueueInput) (*models.IndexJob, error) {
	enabled, err := s.sources.ListEnabled(ctx, input.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list enabled sources: %w", err)
	}

	frozen := make([]models.FrozenSource, 0, len(enabled))
	for _, src := range enabled {
		frozen = append(frozen, models.FrozenSource{
			ID:        src.ID,
			Type:      src.Type,
			SourceURL: src.SourceURL,
			FilePath:  src.FilePath,
			Title:     src.Title,
			LastHash:  src.LastHash,
			ExpiresAt: src.ExpiresAt,
		})
	}

	job := &models.IndexJob{
		TenantID:    input.TenantID,
		TriggeredBy: input.TriggeredBy,
		Reason:      input.Reason,
		Sources:     frozen,
		Force:       input.Force,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job enqueued",
		zap.String("tenant_id", input.TenantID.String()),
		zap.String("job_id", job.ID.String()),
		zap.Int("sources", len(frozen)),
		zap.Bool("force", input.Force))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runDetached(job.TenantID, job.ID)
	}()

	return job, nil
}

// Cancel flags the job for cancellation and interrupts its context. The
// worker stops at its next checkpoint; a job already past activation
// completes normally.
func (s *IndexerService) Cancel(ctx context.Context, tenantID, jobID uuid.UUID) error {
	if err := s.jobs.RequestCancel(ctx, tenantID, jobID); err != nil {
		return err
	}
	if cancel, ok := s.cancels.Load(jobID); ok {
		cancel.(context.CancelFunc)()
	}

	s.logger.Info("cancellation requested",
		zap.String("tenant_id", tenantID.String()),
		zap.String("job_id", jobID.String()))
	return nil
}

// GetJob returns one job with its stats.
func (s *IndexerService) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*models.IndexJob, error) {
	return s.jobs.Get(ctx, tenantID, jobID)
}

// ListJobs returns job history, newest first.
func (s *IndexerService) ListJobs(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.IndexJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.jobs.List(ctx, tenantID, limit)
}

// GetActiveIndex returns the generation currently served to retrieval.
func (s *IndexerService) GetActiveIndex(ctx context.Context, tenantID uuid.UUID) (*models.KBIndex, error) {
	return s.indexes.GetActive(ctx, tenantID)
}

// Wait blocks until all in-flight job workers have finished. Used during
// shutdown and by tests.
func (s *IndexerService) Wait() {
	s.wg.Wait()
}

// runDetached executes a job on its own tenant-scoped connection,
// independent of the request that enqueued it.
func (s *IndexerService) runDetached(tenantID, jobID uuid.UUID) {
	if s.db == nil {
		// No pool to open a scope from; the caller drives Run itself.
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancels.Store(jobID, cancel)
	defer func() {
		s.cancels.Delete(jobID)
		cancel()
	}()

	scope, err := s.db.WithTenant(runCtx, tenantID)
	if err != nil {
		s.logger.Error("failed to acquire tenant scope for job",
			zap.String("job_id", jobID.String()), zap.Error(err))
		return
	}
	defer scope.Close()
	ctx := database.SetTenantScope(runCtx, scope)

	if err := s.Run(ctx, tenantID, jobID); err != nil {
		s.logger.Warn("job did not complete",
			zap.String("tenant_id", tenantID.String()),
			zap.String("job_id", jobID.String()),
			zap.Error(err))
	}
}

// Run executes one job to completion: fetch each frozen source, diff its
// content hash, chunk and embed what changed, then atomically activate the
// new generation together with the job-success write. Any fatal failure
// leaves the active pointer untouched.
func (s *IndexerService) Run(ctx context.Context, tenantID, jobID uuid.UUID) error {
	job, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if err := s.jobs.MarkRunning(ctx, tenantID, jobID); err != nil {
		return err
	}

	logger := s.logger.With(
		zap.String("tenant_id", tenantID.String()),
		zap.String("job_id", jobID.String()))
	logger.Info("job started", zap.Int("sources", len(job.Sources)), zap.Bool("force", job.Force))

	index := &models.KBIndex{
		ID:       uuid.New(),
		TenantID: tenantID,
		Label:    collectionName(tenantID),
	}
	if err := s.indexes.Create(ctx, index); err != nil {
		return s.fail(ctx, tenantID, jobID, nil, fmt.Errorf("create index generation: %w", err))
	}

	if job.Force {
		if err := s.store.DeleteCollection(ctx, index.Label); err != nil {
			return s.fail(ctx, tenantID, jobID, index, &apperrors.EmbeddingServiceError{Op: "delete collection", Err: err})
		}
	}
	if err := s.store.EnsureCollection(ctx, index.Label, uint64(s.embedder.Dimensions())); err != nil {
		return s.fail(ctx, tenantID, jobID, index, &apperrors.EmbeddingServiceError{Op: "ensure collection", Err: err})
	}

	stats := &models.IndexJobStats{SourcesTotal: len(job.Sources)}
	now := time.Now()

	for _, src := range job.Sources {
		if err := s.checkCancelled(ctx, tenantID, jobID); err != nil {
			return s.fail(ctx, tenantID, jobID, index, err)
		}

		if src.Expired(now) {
			stats.SourcesSkipped++
			logger.Debug("source expired, skipping", zap.String("source_id", src.ID.String()))
			continue
		}

		doc, err := s.fetcher.FetchSource(ctx, src)
		if err != nil {
			// One unreachable source must not sink the whole job.
			stats.SourcesFailed++
			logger.Warn("source fetch failed", zap.String("source_id", src.ID.String()), zap.Error(err))
			continue
		}

		if !job.Force && src.LastHash != nil && *src.LastHash == doc.TextHash {
			stats.SourcesSkipped++
			if err := s.recordFetch(ctx, tenantID, src.ID, doc.TextHash); err != nil {
				logger.Warn("failed to record fetch result", zap.String("source_id", src.ID.String()), zap.Error(err))
			}
			continue
		}

		chunks := s.chunker.Split(src.ID, doc.Title, doc.Text)
		if len(chunks) == 0 {
			stats.SourcesSkipped++
			logger.Debug("source yielded no chunks", zap.String("source_id", src.ID.String()))
			continue
		}

		if err := s.embedAndUpsert(ctx, index.Label, doc, chunks, stats); err != nil {
			// Embedding/vector-store failures are fatal; the caller may
			// re-enqueue once the collaborator recovers.
			return s.fail(ctx, tenantID, jobID, index, err)
		}

		if err := s.recordFetch(ctx, tenantID, src.ID, doc.TextHash); err != nil {
			logger.Warn("failed to record fetch result", zap.String("source_id", src.ID.String()), zap.Error(err))
		}
		stats.SourcesProcessed++
	}

	if stats.SourcesTotal > 0 && stats.SourcesProcessed == 0 && stats.SourcesSkipped == 0 {
		return s.fail(ctx, tenantID, jobID, index, fmt.Errorf("all %d sources failed to fetch", stats.SourcesFailed))
	}

	// Last checkpoint before the point of no return: a cancellation that
	// arrives after this check lands too late and the job completes.
	if err := s.checkCancelled(ctx, tenantID, jobID); err != nil {
		return s.fail(ctx, tenantID, jobID, index, err)
	}

	actor := "indexer"
	if job.TriggeredBy != nil {
		actor = *job.TriggeredBy
	}
	if err := s.indexes.ActivateAndCompleteJob(ctx, tenantID, index.ID, jobID, stats, actor); err != nil {
		return s.fail(ctx, tenantID, jobID, index, fmt.Errorf("activate index: %w", err))
	}

	logger.Info("job succeeded",
		zap.String("index_id", index.ID.String()),
		zap.Int("processed", stats.SourcesProcessed),
		zap.Int("skipped", stats.SourcesSkipped),
		zap.Int("failed", stats.SourcesFailed),
		zap.Int("chunks", stats.ChunksCount))
	return nil
}

func (s *IndexerService) embedAndUpsert(ctx context.Context, collection string, doc *fetch.Document, chunks []Chunk, stats *models.IndexJobStats) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embedStart := time.Now()
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		var esErr *apperrors.EmbeddingServiceError
		if errors.As(err, &esErr) {
			return err
		}
		return &apperrors.EmbeddingServiceError{Op: "embed", Err: err}
	}
	stats.EmbedTimeMS += int(time.Since(embedStart).Milliseconds())

	if len(vectors) != len(chunks) {
		return &apperrors.EmbeddingServiceError{
			Op:  "embed",
			Err: fmt.Errorf("got %d vectors for %d chunks", len(vectors), len(chunks)),
		}
	}

	points := make([]vector.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vector.Point{
			ID:     c.ID,
			Vector: vectors[i],
			Payload: map[string]any{
				"source_id":  c.SourceID.String(),
				"ordinal":    c.Ordinal,
				"text":       c.Text,
				"title":      doc.Title,
				"source_url": doc.SourceURL,
			},
		}
	}

	upsertStart := time.Now()
	if err := s.store.Upsert(ctx, collection, points); err != nil {
		return &apperrors.EmbeddingServiceError{Op: "upsert", Err: err}
	}
	stats.UpsertTimeMS += int(time.Since(upsertStart).Milliseconds())
	stats.ChunksCount += len(chunks)
	return nil
}

// checkCancelled reports an error when the job's context was interrupted or
// the stored cancel flag is set.
func (s *IndexerService) checkCancelled(ctx context.Context, tenantID, jobID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("job cancelled: %w", err)
	}
	requested, err := s.jobs.IsCancelRequested(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("read cancel flag: %w", err)
	}
	if requested {
		return errors.New("job cancelled by request")
	}
	return nil
}

// fail marks the job failed and discards the building generation. The
// active pointer is never touched on this path.
func (s *IndexerService) fail(ctx context.Context, tenantID, jobID uuid.UUID, index *models.KBIndex, cause error) error {
	// When the run context was cancelled the bookkeeping still has to
	// commit, so it moves to a fresh scope off the pool.
	if ctx.Err() != nil && s.db != nil {
		bgCtx, bgCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer bgCancel()
		scope, err := s.db.WithTenant(bgCtx, tenantID)
		if err != nil {
			s.logger.Error("failed to acquire scope for job failure bookkeeping",
				zap.String("job_id", jobID.String()), zap.Error(err))
			return cause
		}
		defer scope.Close()
		ctx = database.SetTenantScope(bgCtx, scope)
	}

	if err := s.jobs.MarkFailed(ctx, tenantID, jobID, cause.Error()); err != nil {
		s.logger.Error("failed to mark job failed",
			zap.String("job_id", jobID.String()), zap.Error(err))
	}
	if index != nil {
		if err := s.indexes.MarkDiscarded(ctx, tenantID, index.ID); err != nil {
			s.logger.Error("failed to discard index generation",
				zap.String("index_id", index.ID.String()), zap.Error(err))
		}
	}
	return cause
}

func (s *IndexerService) recordFetch(ctx context.Context, tenantID, sourceID uuid.UUID, hash string) error {
	err := s.sources.RecordFetchResult(ctx, tenantID, sourceID, hash, time.Now())
	if errors.Is(err, apperrors.ErrNotFound) {
		// Source deleted mid-job; the frozen copy already did its work.
		return nil
	}
	return err
}

// collectionName derives the tenant's vector collection name. Stable across
// generations so unchanged sources keep their points.
func collectionName(tenantID uuid.UUID) string {
	return "kb_" + strings.ReplaceAll(tenantID.String(), "-", "")
}
