package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/parkwise-ai/facts-engine/pkg/apperrors"
	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/models"
)

// TenantRepository provides data access for the tenant registry.
type TenantRepository interface {
	Create(ctx context.Context, tenant *models.Tenant) error
	GetBySlug(ctx context.Context, slug string) (*models.Tenant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	List(ctx context.Context) ([]*models.Tenant, error)
}

type tenantRepository struct{}

// NewTenantRepository creates a new TenantRepository.
func NewTenantRepository() TenantRepository {
	return &tenantRepository{}
}

var _ TenantRepository = (*tenantRepository)(nil)

func (r *tenantRepository) Create(ctx context.Context, tenant *models.Tenant) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	tenant.CreatedAt = time.Now()
	if tenant.Timezone == "" {
		tenant.Timezone = "UTC"
	}

	query := `
		INSERT INTO engine_tenants (id, slug, name, timezone, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := scope.Conn.Exec(ctx, query,
		tenant.ID, tenant.Slug, tenant.Name, tenant.Timezone, tenant.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

func (r *tenantRepository) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, slug, name, timezone, created_at
		FROM engine_tenants
		WHERE slug = $1`

	return scanTenant(scope.Conn.QueryRow(ctx, query, slug))
}

func (r *tenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, slug, name, timezone, created_at
		FROM engine_tenants
		WHERE id = $1`

	return scanTenant(scope.Conn.QueryRow(ctx, query, id))
}

func (r *tenantRepository) List(ctx context.Context) ([]*models.Tenant, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	query := `
		SELECT id, slug, name, timezone, created_at
		FROM engine_tenants
		ORDER BY slug`

	rows, err := scope.Conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var t models.Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.Timezone, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name, &t.Timezone, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	return &t, nil
}
