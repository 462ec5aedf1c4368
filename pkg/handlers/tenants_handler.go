package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/repositories"
)

// TenantsHandler handles the cross-tenant registry endpoints.
type TenantsHandler struct {
	db      *database.DB
	tenants repositories.TenantRepository
	logger  *zap.Logger
}

// NewTenantsHandler creates a new tenants handler.
func NewTenantsHandler(db *database.DB, tenants repositories.TenantRepository, logger *zap.Logger) *TenantsHandler {
	return &TenantsHandler{
		db:      db,
		tenants: tenants,
		logger:  logger,
	}
}

// RegisterRoutes registers the tenants handler's routes on the given mux.
func (h *TenantsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tenants", h.Create)
	mux.HandleFunc("GET /api/tenants", h.List)
}

type createTenantRequest struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
}

// Create handles POST /api/tenants
func (h *TenantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.Slug == "" || req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_fields", "slug and name are required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	scope, err := h.db.WithoutTenant(r.Context())
	if err != nil {
		h.logger.Error("Failed to acquire connection", zap.Error(err))
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "database_unavailable", "Could not acquire database connection"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	defer scope.Close()
	ctx := database.SetTenantScope(r.Context(), scope)

	tenant := &models.Tenant{
		Slug:     req.Slug,
		Name:     req.Name,
		Timezone: req.Timezone,
	}
	if err := h.tenants.Create(ctx, tenant); err != nil {
		h.logger.Error("Failed to create tenant", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "create_tenant_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, tenant); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/tenants
func (h *TenantsHandler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := h.db.WithoutTenant(r.Context())
	if err != nil {
		h.logger.Error("Failed to acquire connection", zap.Error(err))
		if err := ErrorResponse(w, http.StatusServiceUnavailable, "database_unavailable", "Could not acquire database connection"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	defer scope.Close()
	ctx := database.SetTenantScope(r.Context(), scope)

	tenants, err := h.tenants.List(ctx)
	if err != nil {
		h.logger.Error("Failed to list tenants", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_tenants_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if tenants == nil {
		tenants = make([]*models.Tenant, 0)
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"tenants": tenants}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
