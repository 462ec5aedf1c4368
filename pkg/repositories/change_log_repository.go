package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/models"
)

// ChangeLogRepository provides read access to the append-only change log.
// Writes happen through insertChangeLogTx inside the mutating repository's
// transaction, so an entry can never exist without its committed mutation.
type ChangeLogRepository interface {
	// Create inserts a standalone entry. Use only for mutations that are a
	// single statement themselves (the statement and the entry still share
	// the caller's tenant-scoped connection).
	Create(ctx context.Context, entry *models.ChangeLogEntry) error

	// ListByTenant returns entries for a tenant, newest first.
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.ChangeLogEntry, error)

	// ListByEntity returns entries for a specific entity, newest first.
	ListByEntity(ctx context.Context, entityTable string, entityID uuid.UUID) ([]*models.ChangeLogEntry, error)
}

type changeLogRepository struct{}

// NewChangeLogRepository creates a new ChangeLogRepository.
func NewChangeLogRepository() ChangeLogRepository {
	return &changeLogRepository{}
}

var _ ChangeLogRepository = (*changeLogRepository)(nil)

const insertChangeLogSQL = `
	INSERT INTO engine_change_log (
		tenant_id, actor, entity_table, entity_id, action, before_json, after_json, reason
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id, created_at`

// insertChangeLogTx writes one entry inside the caller's transaction.
func insertChangeLogTx(ctx context.Context, tx pgx.Tx, entry *models.ChangeLogEntry) error {
	err := tx.QueryRow(ctx, insertChangeLogSQL,
		entry.TenantID, entry.Actor, entry.EntityTable, entry.EntityID,
		entry.Action, entry.Before, entry.After, entry.Reason,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert change log entry: %w", err)
	}
	return nil
}

func (r *changeLogRepository) Create(ctx context.Context, entry *models.ChangeLogEntry) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	err := scope.Conn.QueryRow(ctx, insertChangeLogSQL,
		entry.TenantID, entry.Actor, entry.EntityTable, entry.EntityID,
		entry.Action, entry.Before, entry.After, entry.Reason,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert change log entry: %w", err)
	}
	return nil
}

func (r *changeLogRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]*models.ChangeLogEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, tenant_id, actor, entity_table, entity_id, action,
		       before_json, after_json, reason, created_at
		FROM engine_change_log
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := scope.Conn.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	return scanChangeLogEntries(rows)
}

func (r *changeLogRepository) ListByEntity(ctx context.Context, entityTable string, entityID uuid.UUID) ([]*models.ChangeLogEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, tenant_id, actor, entity_table, entity_id, action,
		       before_json, after_json, reason, created_at
		FROM engine_change_log
		WHERE entity_table = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC`

	rows, err := scope.Conn.Query(ctx, query, entityTable, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query change log: %w", err)
	}
	defer rows.Close()

	return scanChangeLogEntries(rows)
}

func scanChangeLogEntries(rows pgx.Rows) ([]*models.ChangeLogEntry, error) {
	var entries []*models.ChangeLogEntry
	for rows.Next() {
		var e models.ChangeLogEntry
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.Actor, &e.EntityTable, &e.EntityID,
			&e.Action, &e.Before, &e.After, &e.Reason, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change log entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change log entries: %w", err)
	}
	return entries, nil
}
