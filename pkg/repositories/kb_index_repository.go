package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/models"
)

// KBIndexRepository manages index generations and the per-tenant active
// pointer. Activation, job completion and pointer swap commit in a single
// transaction so retrieval never observes a half-finished switch.
type KBIndexRepository interface {
	// Create registers a new building generation before the job starts
	// populating its collection.
	Create(ctx context.Context, index *models.KBIndex) error

	// ActivateAndCompleteJob atomically: marks the generation active,
	// supersedes the previously active one, moves the active pointer,
	// records the job as succeeded with its stats, and writes the change
	// log entry. All or nothing.
	ActivateAndCompleteJob(ctx context.Context, tenantID, indexID, jobID uuid.UUID, stats *models.IndexJobStats, actor string) error

	// MarkDiscarded marks a building generation discarded after its job
	// failed or was cancelled.
	MarkDiscarded(ctx context.Context, tenantID, indexID uuid.UUID) error

	// GetActive returns the currently active generation, or
	// apperrors.ErrNotFound when the tenant has never completed a job.
	GetActive(ctx context.Context, tenantID uuid.UUID) (*models.KBIndex, error)

	Get(ctx context.Context, tenantID, indexID uuid.UUID) (*models.KBIndex, error)
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.KBIndex, error)
}

type kbIndexRepository struct{}

// NewKBIndexRepository creates a new KBIndexRepository.
func NewKBIndexRepository() KBIndexRepository {
	return &kbIndexRepository{}
}

var _ KBIndexRepository = (*kbIndexRepository)(nil)

func (r *kbIndexRepository) Create(ctx context.Context, index *models.KBIndex) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if index.ID == uuid.Nil {
		index.ID = uuid.New()
	}
	index.Status = models.IndexStatusBuilding
	index.CreatedAt = time.Now()

	_, err := scope.Conn.Exec(ctx, `
		INSERT INTO engine_kb_indexes (id, tenant_id, label, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		index.ID, index.TenantID, index.Label, index.Status, index.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create index generation: %w", err)
	}
	return nil
}

func (r *kbIndexRepository) ActivateAndCompleteJob(ctx context.Context, tenantID, indexID, jobID uuid.UUID, stats *models.IndexJobStats, actor string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	// Lock the pointer row if present; the previous active generation is
	// read under that lock.
	var previousID *uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT index_id FROM engine_active_index_state
		WHERE tenant_id = $1
		FOR UPDATE`,
		tenantID).Scan(&previousID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to load active index pointer: %w", err)
	}

	res, err := tx.Exec(ctx, `
		UPDATE engine_kb_indexes
		SET status = $3, activated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = $4`,
		indexID, tenantID, models.IndexStatusActive, models.IndexStatusBuilding)
	if err != nil {
		return fmt.Errorf("failed to activate index generation: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("index %s is not building: %w", indexID, apperrors.ErrInvalidState)
	}

	if previousID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE engine_kb_indexes SET status = $2
			WHERE id = $1 AND status = $3`,
			*previousID, models.IndexStatusSuperseded, models.IndexStatusActive)
		if err != nil {
			return fmt.Errorf("failed to supersede previous generation: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO engine_active_index_state (tenant_id, index_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (tenant_id)
		DO UPDATE SET index_id = EXCLUDED.index_id, updated_at = now()`,
		tenantID, indexID)
	if err != nil {
		return fmt.Errorf("failed to move active index pointer: %w", err)
	}

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal job stats: %w", err)
	}
	res, err = tx.Exec(ctx, `
		UPDATE engine_kb_index_jobs
		SET status = $3, stats_json = $4, finished_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = $5`,
		jobID, tenantID, models.JobStatusSuccess, statsJSON, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("job %s is not running: %w", jobID, apperrors.ErrInvalidState)
	}

	before, _ := json.Marshal(map[string]any{"active_index_id": previousID})
	after, _ := json.Marshal(map[string]any{"active_index_id": indexID, "job_id": jobID})
	err = insertChangeLogTx(ctx, tx, &models.ChangeLogEntry{
		TenantID:    tenantID,
		Actor:       actor,
		EntityTable: models.ChangeEntityKBIndexes,
		EntityID:    &indexID,
		Action:      models.ChangeActionIndex,
		Before:      before,
		After:       after,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *kbIndexRepository) MarkDiscarded(ctx context.Context, tenantID, indexID uuid.UUID) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	res, err := scope.Conn.Exec(ctx, `
		UPDATE engine_kb_indexes SET status = $3
		WHERE id = $1 AND tenant_id = $2 AND status = $4`,
		indexID, tenantID, models.IndexStatusDiscarded, models.IndexStatusBuilding)
	if err != nil {
		return fmt.Errorf("failed to discard index generation: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("index %s is not building: %w", indexID, apperrors.ErrInvalidState)
	}
	return nil
}

func (r *kbIndexRepository) GetActive(ctx context.Context, tenantID uuid.UUID) (*models.KBIndex, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT i.id, i.tenant_id, i.label, i.status, i.created_at, i.activated_at
		FROM engine_active_index_state p
		JOIN engine_kb_indexes i ON i.id = p.index_id
		WHERE p.tenant_id = $1`,
		tenantID)
	return scanKBIndexRow(row)
}

func (r *kbIndexRepository) Get(ctx context.Context, tenantID, indexID uuid.UUID) (*models.KBIndex, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT id, tenant_id, label, status, created_at, activated_at
		FROM engine_kb_indexes
		WHERE id = $1 AND tenant_id = $2`,
		indexID, tenantID)
	return scanKBIndexRow(row)
}

func (r *kbIndexRepository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.KBIndex, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, tenant_id, label, status, created_at, activated_at
		FROM engine_kb_indexes
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list index generations: %w", err)
	}
	defer rows.Close()

	var indexes []*models.KBIndex
	for rows.Next() {
		var idx models.KBIndex
		err := rows.Scan(&idx.ID, &idx.TenantID, &idx.Label, &idx.Status,
			&idx.CreatedAt, &idx.ActivatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan index generation: %w", err)
		}
		indexes = append(indexes, &idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index generations: %w", err)
	}
	return indexes, nil
}

func scanKBIndexRow(row pgx.Row) (*models.KBIndex, error) {
	var idx models.KBIndex
	err := row.Scan(&idx.ID, &idx.TenantID, &idx.Label, &idx.Status,
		&idx.CreatedAt, &idx.ActivatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan index generation: %w", err)
	}
	return &idx, nil
}
