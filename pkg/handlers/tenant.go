package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/repositories"
)

type tenantContextKey string

const tenantKey tenantContextKey = "tenant"

// GetTenant retrieves the resolved tenant from the request context.
func GetTenant(ctx context.Context) (*models.Tenant, bool) {
	t, ok := ctx.Value(tenantKey).(*models.Tenant)
	return t, ok
}

// TenantMiddleware resolves the {tenant} path slug, opens a tenant-scoped
// database connection for the request and stores both in the context.
type TenantMiddleware func(next http.HandlerFunc) http.HandlerFunc

// NewTenantMiddleware creates the middleware backed by the given pool and
// tenant repository.
func NewTenantMiddleware(db *database.DB, tenants repositories.TenantRepository, logger *zap.Logger) TenantMiddleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			slug := r.PathValue("tenant")
			if slug == "" {
				if err := ErrorResponse(w, http.StatusBadRequest, "missing_tenant", "Tenant slug is required"); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}

			// Slug lookup happens outside any tenant scope; the registry
			// itself is cross-tenant.
			lookupScope, err := db.WithoutTenant(r.Context())
			if err != nil {
				logger.Error("Failed to acquire connection", zap.Error(err))
				if err := ErrorResponse(w, http.StatusServiceUnavailable, "database_unavailable", "Could not acquire database connection"); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}
			tenant, err := tenants.GetBySlug(database.SetTenantScope(r.Context(), lookupScope), slug)
			lookupScope.Close()
			if err != nil {
				status, code := mapError(err)
				if status == http.StatusNotFound {
					code = "unknown_tenant"
				}
				if err := ErrorResponse(w, status, code, "Unknown tenant: "+slug); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}

			scope, err := db.WithTenant(r.Context(), tenant.ID)
			if err != nil {
				logger.Error("Failed to acquire tenant scope", zap.Error(err))
				if err := ErrorResponse(w, http.StatusServiceUnavailable, "database_unavailable", "Could not acquire database connection"); err != nil {
					logger.Error("Failed to write error response", zap.Error(err))
				}
				return
			}
			defer scope.Close()

			ctx := database.SetTenantScope(r.Context(), scope)
			ctx = context.WithValue(ctx, tenantKey, tenant)
			next(w, r.WithContext(ctx))
		}
	}
}
