package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/models"
)

const pgUniqueViolation = "23505"

// IndexJobRepository manages the lifecycle of indexing jobs. The
// one-active-job-per-tenant invariant is enforced by a partial unique
// index in the database, not by application-level checks; concurrent
// Enqueue calls race on that index and exactly one wins.
type IndexJobRepository interface {
	// Enqueue inserts a queued job with its frozen source list. Returns
	// apperrors.ErrJobAlreadyActive when the tenant already has a queued
	// or running job.
	Enqueue(ctx context.Context, job *models.IndexJob) error

	// MarkRunning transitions queued -> running. Returns
	// apperrors.ErrInvalidState if the job is not queued.
	MarkRunning(ctx context.Context, tenantID, jobID uuid.UUID) error

	// MarkFailed terminates the job with an error message.
	MarkFailed(ctx context.Context, tenantID, jobID uuid.UUID, errorText string) error

	// RequestCancel flags a queued or running job for cancellation. The
	// worker honors the flag at its next checkpoint; a job past the
	// activation step completes normally.
	RequestCancel(ctx context.Context, tenantID, jobID uuid.UUID) error

	// IsCancelRequested re-reads the flag from storage.
	IsCancelRequested(ctx context.Context, tenantID, jobID uuid.UUID) (bool, error)

	Get(ctx context.Context, tenantID, jobID uuid.UUID) (*models.IndexJob, error)
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.IndexJob, error)
	// GetActive returns the tenant's queued or running job, or
	// apperrors.ErrNotFound when there is none.
	GetActive(ctx context.Context, tenantID uuid.UUID) (*models.IndexJob, error)
}

type indexJobRepository struct{}

// NewIndexJobRepository creates a new IndexJobRepository.
func NewIndexJobRepository() IndexJobRepository {
	return &indexJobRepository{}
}

var _ IndexJobRepository = (*indexJobRepository)(nil)

const selectIndexJobColumns = `
	id, tenant_id, status, triggered_by, reason, sources_json, force,
	stats_json, error_text, cancel_requested, created_at, started_at,
	finished_at`

func (r *indexJobRepository) Enqueue(ctx context.Context, job *models.IndexJob) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.Status = models.JobStatusQueued
	job.CreatedAt = time.Now()

	sourcesJSON, err := json.Marshal(job.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal frozen sources: %w", err)
	}

	_, err = scope.Conn.Exec(ctx, `
		INSERT INTO engine_kb_index_jobs (
			id, tenant_id, status, triggered_by, reason, sources_json, force, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.TenantID, job.Status, job.TriggeredBy, job.Reason,
		sourcesJSON, job.Force, job.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) &&
			pgErr.Code == pgUniqueViolation &&
			pgErr.ConstraintName == "engine_kb_index_jobs_one_active" {
			return apperrors.ErrJobAlreadyActive
		}
		return fmt.Errorf("failed to enqueue index job: %w", err)
	}
	return nil
}

func (r *indexJobRepository) MarkRunning(ctx context.Context, tenantID, jobID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	res, err := scope.Conn.Exec(ctx, `
		UPDATE engine_kb_index_jobs
		SET status = $3, started_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = $4`,
		jobID, tenantID, models.JobStatusRunning, models.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not queued: %w", jobID, apperrors.ErrInvalidState)
	}
	return nil
}

func (r *indexJobRepository) MarkFailed(ctx context.Context, tenantID, jobID uuid.UUID, errorText string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	res, err := scope.Conn.Exec(ctx, `
		UPDATE engine_kb_index_jobs
		SET status = $3, error_text = $4, finished_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status IN ($5, $6)`,
		jobID, tenantID, models.JobStatusFailed, errorText,
		models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not active: %w", jobID, apperrors.ErrInvalidState)
	}
	return nil
}

func (r *indexJobRepository) RequestCancel(ctx context.Context, tenantID, jobID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	res, err := scope.Conn.Exec(ctx, `
		UPDATE engine_kb_index_jobs
		SET cancel_requested = true
		WHERE id = $1 AND tenant_id = $2 AND status IN ($3, $4)`,
		jobID, tenantID, models.JobStatusQueued, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to request cancellation: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not active: %w", jobID, apperrors.ErrInvalidState)
	}
	return nil
}

func (r *indexJobRepository) IsCancelRequested(ctx context.Context, tenantID, jobID uuid.UUID) (bool, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return false, fmt.Errorf("no tenant scope in context")
	}

	var requested bool
	err := scope.Conn.QueryRow(ctx, `
		SELECT cancel_requested FROM engine_kb_index_jobs
		WHERE id = $1 AND tenant_id = $2`,
		jobID, tenantID).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, apperrors.ErrNotFound
		}
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}

func (r *indexJobRepository) Get(ctx context.Context, tenantID, jobID uuid.UUID) (*models.IndexJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+selectIndexJobColumns+`
		FROM engine_kb_index_jobs
		WHERE id = $1 AND tenant_id = $2`,
		jobID, tenantID)
	return scanIndexJobRow(row)
}

func (r *indexJobRepository) GetActive(ctx context.Context, tenantID uuid.UUID) (*models.IndexJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+selectIndexJobColumns+`
		FROM engine_kb_index_jobs
		WHERE tenant_id = $1 AND status IN ($2, $3)`,
		tenantID, models.JobStatusQueued, models.JobStatusRunning)
	return scanIndexJobRow(row)
}

func (r *indexJobRepository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.IndexJob, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT `+selectIndexJobColumns+`
		FROM engine_kb_index_jobs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list index jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.IndexJob
	for rows.Next() {
		job, err := scanIndexJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index jobs: %w", err)
	}
	return jobs, nil
}

func scanIndexJobRow(row pgx.Row) (*models.IndexJob, error) {
	job, err := scanIndexJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanIndexJob(row pgx.Row) (*models.IndexJob, error) {
	var (
		job         models.IndexJob
		sourcesJSON []byte
		statsJSON   []byte
	)
	err := row.Scan(
		&job.ID, &job.TenantID, &job.Status, &job.TriggeredBy, &job.Reason,
		&sourcesJSON, &job.Force, &statsJSON, &job.ErrorText,
		&job.CancelRequested, &job.CreatedAt, &job.StartedAt, &job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan index job: %w", err)
	}

	if err := json.Unmarshal(sourcesJSON, &job.Sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frozen sources: %w", err)
	}
	if len(statsJSON) > 0 {
		job.Stats = &models.IndexJobStats{}
		if err := json.Unmarshal(statsJSON, job.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job stats: %w", err)
		}
	}
	return &job, nil
}
