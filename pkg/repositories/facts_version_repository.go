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

// FactsVersionRepository manages immutable facts versions, their snapshots
// and the per-tenant published pointer. Publish and rollback are pointer
// swaps between existing snapshots, serialized by a transactional
// compare-and-swap on engine_published_state.
type FactsVersionRepository interface {
	// CreateDraft inserts a draft version with its snapshot payload and a
	// change log entry, all in one transaction.
	CreateDraft(ctx context.Context, version *models.FactsVersion, payload json.RawMessage) error

	// Publish atomically makes versionID the published version for the
	// tenant. expectedCurrent is the pointer value the caller observed
	// before publishing (nil when the tenant has never published).
	// Returns apperrors.ErrNotFound, ErrInvalidState or ErrConflict.
	Publish(ctx context.Context, tenantID, versionID uuid.UUID, expectedCurrent *uuid.UUID, actor string, notes *string) (*models.FactsVersion, error)

	// Rollback atomically swaps the pointer back to the most recently
	// archived version published before the current one. The target keeps
	// its original published_at. Returns apperrors.ErrNoPriorVersion when
	// no eligible target exists.
	Rollback(ctx context.Context, tenantID uuid.UUID, actor string, reason *string) (*models.FactsVersion, error)

	// GetPublishedVersionID reads the pointer. Returns nil when the tenant
	// has never published.
	GetPublishedVersionID(ctx context.Context, tenantID uuid.UUID) (*uuid.UUID, error)

	// GetPublishedSnapshot returns the snapshot payload of the currently
	// published version. Returns apperrors.ErrNotFound when nothing is
	// published.
	GetPublishedSnapshot(ctx context.Context, tenantID uuid.UUID) (json.RawMessage, error)

	// Get returns one version by id, scoped to the tenant.
	Get(ctx context.Context, tenantID, versionID uuid.UUID) (*models.FactsVersion, error)

	// GetSnapshot returns the payload of one version.
	GetSnapshot(ctx context.Context, versionID uuid.UUID) (json.RawMessage, error)

	// List returns version history for the tenant, newest first.
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.FactsVersion, error)
}

type factsVersionRepository struct{}

// NewFactsVersionRepository creates a new FactsVersionRepository.
func NewFactsVersionRepository() FactsVersionRepository {
	return &factsVersionRepository{}
}

var _ FactsVersionRepository = (*factsVersionRepository)(nil)

func (r *factsVersionRepository) CreateDraft(ctx context.Context, version *models.FactsVersion, payload json.RawMessage) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	version.Status = models.VersionStatusDraft
	version.CreatedAt = time.Now()

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	_, err = tx.Exec(ctx, `
		INSERT INTO engine_facts_versions (id, tenant_id, status, created_at, created_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		version.ID, version.TenantID, version.Status, version.CreatedAt,
		version.CreatedBy, version.Notes)
	if err != nil {
		return fmt.Errorf("failed to create draft version: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO engine_facts_snapshots (facts_version_id, payload, created_at)
		VALUES ($1, $2, $3)`,
		version.ID, payload, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	after, _ := json.Marshal(map[string]any{"version_id": version.ID, "status": version.Status})
	err = insertChangeLogTx(ctx, tx, &models.ChangeLogEntry{
		TenantID:    version.TenantID,
		Actor:       version.CreatedBy,
		EntityTable: models.ChangeEntityFactsVersions,
		EntityID:    &version.ID,
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

func (r *factsVersionRepository) Publish(ctx context.Context, tenantID, versionID uuid.UUID, expectedCurrent *uuid.UUID, actor string, notes *string) (*models.FactsVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	// Lock the target version and verify preconditions.
	var status models.FactsVersionStatus
	err = tx.QueryRow(ctx, `
		SELECT status FROM engine_facts_versions
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`,
		versionID, tenantID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load version: %w", err)
	}
	if status != models.VersionStatusDraft {
		return nil, fmt.Errorf("version %s has status %q: %w", versionID, status, apperrors.ErrInvalidState)
	}

	// Compare-and-swap on the pointer. A concurrent publish or rollback
	// that moved the pointer since the caller read it surfaces as zero
	// rows here (or a PK violation on first publish) and the whole
	// transaction aborts with ErrConflict.
	if expectedCurrent == nil {
		res, err := tx.Exec(ctx, `
			INSERT INTO engine_published_state (tenant_id, version_id, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (tenant_id) DO NOTHING`,
			tenantID, versionID)
		if err != nil {
			return nil, fmt.Errorf("failed to insert published pointer: %w", err)
		}
		if res.RowsAffected() == 0 {
			return nil, fmt.Errorf("published pointer already set for tenant %s: %w", tenantID, apperrors.ErrConflict)
		}
	} else {
		res, err := tx.Exec(ctx, `
			UPDATE engine_published_state
			SET version_id = $2, updated_at = now()
			WHERE tenant_id = $1 AND version_id = $3`,
			tenantID, versionID, *expectedCurrent)
		if err != nil {
			return nil, fmt.Errorf("failed to swap published pointer: %w", err)
		}
		if res.RowsAffected() == 0 {
			return nil, fmt.Errorf("published pointer moved for tenant %s: %w", tenantID, apperrors.ErrConflict)
		}

		// The previously published version is retained for rollback.
		_, err = tx.Exec(ctx, `
			UPDATE engine_facts_versions SET status = $2
			WHERE id = $1 AND status = $3`,
			*expectedCurrent, models.VersionStatusArchived, models.VersionStatusPublished)
		if err != nil {
			return nil, fmt.Errorf("failed to archive previous version: %w", err)
		}
	}

	version := &models.FactsVersion{}
	err = tx.QueryRow(ctx, `
		UPDATE engine_facts_versions
		SET status = $3, published_at = now(), published_by = $4, notes = COALESCE($5, notes)
		WHERE id = $1 AND tenant_id = $2
		RETURNING id, tenant_id, status, created_at, created_by, published_at, published_by, notes`,
		versionID, tenantID, models.VersionStatusPublished, actor, notes,
	).Scan(&version.ID, &version.TenantID, &version.Status, &version.CreatedAt,
		&version.CreatedBy, &version.PublishedAt, &version.PublishedBy, &version.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to mark version published: %w", err)
	}

	before, _ := json.Marshal(map[string]any{"published_version_id": expectedCurrent})
	after, _ := json.Marshal(map[string]any{"published_version_id": versionID})
	err = insertChangeLogTx(ctx, tx, &models.ChangeLogEntry{
		TenantID:    tenantID,
		Actor:       actor,
		EntityTable: models.ChangeEntityFactsVersions,
		EntityID:    &versionID,
		Action:      models.ChangeActionPublish,
		Before:      before,
		After:       after,
		Reason:      notes,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return version, nil
}

func (r *factsVersionRepository) Rollback(ctx context.Context, tenantID uuid.UUID, actor string, reason *string) (*models.FactsVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	// Lock the pointer row; concurrent publish/rollback for this tenant
	// serializes here.
	var currentID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT version_id FROM engine_published_state
		WHERE tenant_id = $1
		FOR UPDATE`,
		tenantID).Scan(&currentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s has no published version: %w", tenantID, apperrors.ErrNoPriorVersion)
		}
		return nil, fmt.Errorf("failed to load published pointer: %w", err)
	}

	// The rollback target is the most recently archived version published
	// before the current one. Repeated rollback keeps walking backward.
	target := &models.FactsVersion{}
	err = tx.QueryRow(ctx, `
		SELECT id, tenant_id, status, created_at, created_by, published_at, published_by, notes
		FROM engine_facts_versions
		WHERE tenant_id = $1
		  AND status = $2
		  AND published_at < (SELECT published_at FROM engine_facts_versions WHERE id = $3)
		ORDER BY published_at DESC
		LIMIT 1
		FOR UPDATE`,
		tenantID, models.VersionStatusArchived, currentID,
	).Scan(&target.ID, &target.TenantID, &target.Status, &target.CreatedAt,
		&target.CreatedBy, &target.PublishedAt, &target.PublishedBy, &target.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, apperrors.ErrNoPriorVersion)
		}
		return nil, fmt.Errorf("failed to select rollback target: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE engine_facts_versions SET status = $2 WHERE id = $1`,
		currentID, models.VersionStatusArchived)
	if err != nil {
		return nil, fmt.Errorf("failed to archive current version: %w", err)
	}

	// published_at is preserved from the target's original publish.
	_, err = tx.Exec(ctx, `
		UPDATE engine_facts_versions SET status = $2 WHERE id = $1`,
		target.ID, models.VersionStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to restore target version: %w", err)
	}
	target.Status = models.VersionStatusPublished

	res, err := tx.Exec(ctx, `
		UPDATE engine_published_state
		SET version_id = $2, updated_at = now()
		WHERE tenant_id = $1 AND version_id = $3`,
		tenantID, target.ID, currentID)
	if err != nil {
		return nil, fmt.Errorf("failed to swap published pointer: %w", err)
	}
	if res.RowsAffected() == 0 {
		return nil, fmt.Errorf("published pointer moved for tenant %s: %w", tenantID, apperrors.ErrConflict)
	}

	before, _ := json.Marshal(map[string]any{"published_version_id": currentID})
	after, _ := json.Marshal(map[string]any{"published_version_id": target.ID})
	err = insertChangeLogTx(ctx, tx, &models.ChangeLogEntry{
		TenantID:    tenantID,
		Actor:       actor,
		EntityTable: models.ChangeEntityFactsVersions,
		EntityID:    &target.ID,
		Action:      models.ChangeActionRollback,
		Before:      before,
		After:       after,
		Reason:      reason,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return target, nil
}

func (r *factsVersionRepository) GetPublishedVersionID(ctx context.Context, tenantID uuid.UUID) (*uuid.UUID, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	var versionID uuid.UUID
	err := scope.Conn.QueryRow(ctx, `
		SELECT version_id FROM engine_published_state WHERE tenant_id = $1`,
		tenantID).Scan(&versionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read published pointer: %w", err)
	}
	return &versionID, nil
}

func (r *factsVersionRepository) GetPublishedSnapshot(ctx context.Context, tenantID uuid.UUID) (json.RawMessage, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	// One committed pointer read; never blocks on in-flight publishes.
	var payload json.RawMessage
	err := scope.Conn.QueryRow(ctx, `
		SELECT s.payload
		FROM engine_published_state p
		JOIN engine_facts_snapshots s ON s.facts_version_id = p.version_id
		WHERE p.tenant_id = $1`,
		tenantID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read published snapshot: %w", err)
	}
	return payload, nil
}

func (r *factsVersionRepository) Get(ctx context.Context, tenantID, versionID uuid.UUID) (*models.FactsVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	row := scope.Conn.QueryRow(ctx, `
		SELECT id, tenant_id, status, created_at, created_by, published_at, published_by, notes
		FROM engine_facts_versions
		WHERE id = $1 AND tenant_id = $2`,
		versionID, tenantID)
	return scanFactsVersionRow(row)
}

func (r *factsVersionRepository) GetSnapshot(ctx context.Context, versionID uuid.UUID) (json.RawMessage, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	var payload json.RawMessage
	err := scope.Conn.QueryRow(ctx, `
		SELECT payload FROM engine_facts_snapshots WHERE facts_version_id = $1`,
		versionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return payload, nil
}

func (r *factsVersionRepository) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.FactsVersion, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, tenant_id, status, created_at, created_by, published_at, published_by, notes
		FROM engine_facts_versions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.FactsVersion
	for rows.Next() {
		var v models.FactsVersion
		err := rows.Scan(&v.ID, &v.TenantID, &v.Status, &v.CreatedAt,
			&v.CreatedBy, &v.PublishedAt, &v.PublishedBy, &v.Notes)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}
	return versions, nil
}

func scanFactsVersionRow(row pgx.Row) (*models.FactsVersion, error) {
	var v models.FactsVersion
	err := row.Scan(&v.ID, &v.TenantID, &v.Status, &v.CreatedAt,
		&v.CreatedBy, &v.PublishedAt, &v.PublishedBy, &v.Notes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	return &v, nil
}
