package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/services"
)

// SourcesHandler handles knowledge-base source registry HTTP requests.
type SourcesHandler struct {
	sourceService *services.SourceService
	logger        *zap.Logger
}

// NewSourcesHandler creates a new sources handler.
func NewSourcesHandler(sourceService *services.SourceService, logger *zap.Logger) *SourcesHandler {
	return &SourcesHandler{
		sourceService: sourceService,
		logger:        logger,
	}
}

// RegisterRoutes registers the sources handler's routes on the given mux.
func (h *SourcesHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/tenants/{tenant}/kb/sources"

	mux.HandleFunc("POST "+base, tenantMiddleware(h.Create))
	mux.HandleFunc("GET "+base, tenantMiddleware(h.List))
	mux.HandleFunc("GET "+base+"/{source_id}", tenantMiddleware(h.Get))
	mux.HandleFunc("PUT "+base+"/{source_id}", tenantMiddleware(h.Update))
	mux.HandleFunc("DELETE "+base+"/{source_id}", tenantMiddleware(h.Delete))
}

type sourceRequest struct {
	Enabled     *bool      `json:"enabled,omitempty"`
	Type        string     `json:"source_type"`
	SourceURL   *string    `json:"source_url,omitempty"`
	FilePath    *string    `json:"file_path,omitempty"`
	Title       *string    `json:"title,omitempty"`
	ContentType *string    `json:"content_type,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Create handles POST /api/tenants/{tenant}/kb/sources
func (h *SourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	source := &models.KBSource{
		TenantID:    tenant.ID,
		Enabled:     enabled,
		Type:        models.KBSourceType(req.Type),
		SourceURL:   req.SourceURL,
		FilePath:    req.FilePath,
		Title:       req.Title,
		ContentType: req.ContentType,
		ExpiresAt:   req.ExpiresAt,
	}

	created, err := h.sourceService.Create(r.Context(), source, actorFrom(r))
	if err != nil {
		h.writeError(w, err, "create_source_failed")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, created); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/tenants/{tenant}/kb/sources
func (h *SourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	sources, err := h.sourceService.List(r.Context(), tenant.ID)
	if err != nil {
		h.writeError(w, err, "list_sources_failed")
		return
	}
	if sources == nil {
		sources = make([]*models.KBSource, 0)
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"sources": sources}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/tenants/{tenant}/kb/sources/{source_id}
func (h *SourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	sourceID, err := uuid.Parse(r.PathValue("source_id"))
	if err != nil {
		h.badRequest(w, "invalid_source_id", "Invalid source ID format")
		return
	}

	source, err := h.sourceService.Get(r.Context(), tenant.ID, sourceID)
	if err != nil {
		h.writeError(w, err, "get_source_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, source); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PUT /api/tenants/{tenant}/kb/sources/{source_id}
func (h *SourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	sourceID, err := uuid.Parse(r.PathValue("source_id"))
	if err != nil {
		h.badRequest(w, "invalid_source_id", "Invalid source ID format")
		return
	}

	var req sourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}

	existing, err := h.sourceService.Get(r.Context(), tenant.ID, sourceID)
	if err != nil {
		h.writeError(w, err, "get_source_failed")
		return
	}

	if req.Enabled != nil {
		existing.Enabled = *req.Enabled
	}
	if req.Type != "" {
		existing.Type = models.KBSourceType(req.Type)
	}
	existing.SourceURL = req.SourceURL
	existing.FilePath = req.FilePath
	existing.Title = req.Title
	existing.ContentType = req.ContentType
	existing.ExpiresAt = req.ExpiresAt

	updated, err := h.sourceService.Update(r.Context(), existing, actorFrom(r))
	if err != nil {
		h.writeError(w, err, "update_source_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, updated); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/tenants/{tenant}/kb/sources/{source_id}
func (h *SourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	sourceID, err := uuid.Parse(r.PathValue("source_id"))
	if err != nil {
		h.badRequest(w, "invalid_source_id", "Invalid source ID format")
		return
	}

	if err := h.sourceService.Delete(r.Context(), tenant.ID, sourceID, actorFrom(r)); err != nil {
		h.writeError(w, err, "delete_source_failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SourcesHandler) writeError(w http.ResponseWriter, err error, fallbackCode string) {
	status, code := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
		code = fallbackCode
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *SourcesHandler) badRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *SourcesHandler) internalError(w http.ResponseWriter, message string) {
	h.logger.Error(message)
	if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
