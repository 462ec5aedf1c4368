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

// KBSourceRepository manages the registry of knowledge-base sources.
type KBSourceRepository interface {
	Create(ctx context.Context, source *models.KBSource, actor string) error
	Get(ctx context.Context, tenantID, sourceID uuid.UUID) (*models.KBSource, error)
	// List returns all sources for the tenant, enabled or not.
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.KBSource, error)
	// ListEnabled returns only enabled sources; the job freezes this list
	// at enqueue time.
	ListEnabled(ctx context.Context, tenantID uuid.UUID) ([]*models.KBSource, error)
	Update(ctx context.Context, source *models.KBSource, actor string) error
	Delete(ctx context.Context, tenantID, sourceID uuid.UUID, actor string) error
	// RecordFetchResult updates last_hash/last_fetched_at after a successful
	// fetch during a job run. No change log entry; this is job bookkeeping,
	// not an admin mutation.
	RecordFetchResult(ctx context.Context, tenantID, sourceID uuid.UUID, hash string, fetchedAt time.Time) error
}

type kbSourceRepository struct{}

// NewKBSourceRepository creates a new KBSourceRepository.
func NewKBSourceRepository() KBSourceRepository {
	return &kbSourceRepository{}
}

var _ KBSourceRepository = (*kbSourceRepository)(nil)

const selectKBSourceColumns = `
	id, tenant_id, enabled, source_type, source_url, file_path, title,
	content_type, last_hash, last_fetched_at, expires_at, created_at, updated_at`

func (r *kbSourceRepository) Create(ctx context.Context, source *models.KBSource, actor string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	now := time.Now()
	source.CreatedAt = now
	source.UpdatedAt = now

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx, `
		INSERT INTO engine_kb_sources (
			id, tenant_id, enabled, source_type, source_url, file_path, title,
			content_type, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		source.ID, source.TenantID, source.Enabled, source.Type,
		source.SourceURL, source.FilePath, source.Title,
		source.ContentType, source.ExpiresAt, source.CreatedAt, source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create kb source: %w", err)
	}

	after, _ := json.Marshal(source)
	err = insertChangeLogTx(ctx, tx, &models.ChangeLogEntry{
		TenantID:    source.TenantID,
		Actor:       actor,
		EntityTable: models.ChangeEntityKBSources,
		EntityID:    &source.ID,
		Action:      models.ChangeActionCreate,
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

func (r *kbSourceRepository) Get(ctx context.Context, tenantID, sourceID uuid.UUID) (*models.KBSource, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT `+selectKBSourceColumns+`
		FROM engine_kb_sources
		WHERE id = $1 AND tenant_id = $2`,
		sourceID, tenantID)
	return scanKBSourceRow(row)
}

func (r *kbSourceRepository) List(ctx context.Context, tenantID uuid.UUID) ([]*models.KBSource, error) {
	return r.list(ctx, tenantID, false)
}

func (r *kbSourceRepository) ListEnabled(ctx context.Context, tenantID uuid.UUID) ([]*models.KBSource, error) {
	return r.list(ctx, tenantID, true)
}

func (r *kbSourceRepository) list(ctx context.Context, tenantID uuid.UUID, enabledOnly bool) ([]*models.KBSource, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT ` + selectKBSourceColumns + `
		FROM engine_kb_sources
		WHERE tenant_id = $1`
	if enabledOnly {
		query += ` AND enabled = true`
	}
	query += ` ORDER BY created_at`

	rows, err := scope.Conn.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list kb sources: %w", err)
	}
	defer rows.Close()

	var sources []*models.KBSource
	for rows.Next() {
		s, err := scanKBSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating kb sources: %w", err)
	}
	return sources, nil
}

func (r *kbSourceRepository) Update(ctx context.Context, source *models.KBSource, actor string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	before, err := r.getForUpdateTx(ctx, tx, source.TenantID, source.ID)
	if err != nil {
		return err
	}

	source.UpdatedAt = time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE engine_kb_sources
		SET enabled = $3, source_type = $4, source_url = $5, file_path = $6,
		    title = $7, content_type = $8, expires_at = $9, updated_at = $10
		WHERE id = $1 AND tenant_id = $2`,
		source.ID, source.TenantID, source.Enabled, source.Type,
		source.SourceURL, source.FilePath, source.Title,
		source.ContentType, source.ExpiresAt, source.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update kb source: %w", err)
	}

	beforeJSON, _ := json.Marshal(before)
	afterJSON, _ := json.Marshal(source)
	err = insertChangeLogTx(ctx, tx, &models.ChangeLogEntry{
		TenantID:    source.TenantID,
		Actor:       actor,
		EntityTable: models.ChangeEntityKBSources,
		EntityID:    &source.ID,
		Action:      models.ChangeActionUpdate,
		Before:      beforeJSON,
		After:       afterJSON,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *kbSourceRepository) Delete(ctx context.Context, tenantID, sourceID uuid.UUID, actor string) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	before, err := r.getForUpdateTx(ctx, tx, tenantID, sourceID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM engine_kb_sources WHERE id = $1 AND tenant_id = $2`,
		sourceID, tenantID)
	if err != nil {
		return fmt.Errorf("failed to delete kb source: %w", err)
	}

	beforeJSON, _ := json.Marshal(before)
	err = insertChangeLogTx(ctx, tx, &models.ChangeLogEntry{
		TenantID:    tenantID,
		Actor:       actor,
		EntityTable: models.ChangeEntityKBSources,
		EntityID:    &sourceID,
		Action:      models.ChangeActionDelete,
		Before:      beforeJSON,
	})
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *kbSourceRepository) RecordFetchResult(ctx context.Context, tenantID, sourceID uuid.UUID, hash string, fetchedAt time.Time) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	res, err := scope.Conn.Exec(ctx, `
		UPDATE engine_kb_sources
		SET last_hash = $3, last_fetched_at = $4, updated_at = now()
		WHERE id = $1 AND tenant_id = $2`,
		sourceID, tenantID, hash, fetchedAt)
	if err != nil {
		return fmt.Errorf("failed to record fetch result: %w", err)
	}
	if res.RowsAffected() == 0 {
		// Source deleted while the job was running; the frozen copy keeps
		// the job itself valid.
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *kbSourceRepository) getForUpdateTx(ctx context.Context, tx pgx.Tx, tenantID, sourceID uuid.UUID) (*models.KBSource, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+selectKBSourceColumns+`
		FROM engine_kb_sources
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`,
		sourceID, tenantID)
	return scanKBSourceRow(row)
}

func scanKBSourceRow(row pgx.Row) (*models.KBSource, error) {
	s, err := scanKBSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func scanKBSource(row pgx.Row) (*models.KBSource, error) {
	var s models.KBSource
	err := row.Scan(
		&s.ID, &s.TenantID, &s.Enabled, &s.Type, &s.SourceURL, &s.FilePath,
		&s.Title, &s.ContentType, &s.LastHash, &s.LastFetchedAt,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan kb source: %w", err)
	}
	return &s, nil
}
