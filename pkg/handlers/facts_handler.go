package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/services"
)

// FactsHandler handles facts version HTTP requests: draft creation, publish,
// rollback, history and the runtime read of the published snapshot.
type FactsHandler struct {
	factsService *services.FactsService
	logger       *zap.Logger
}

// NewFactsHandler creates a new facts handler.
func NewFactsHandler(factsService *services.FactsService, logger *zap.Logger) *FactsHandler {
	return &FactsHandler{
		factsService: factsService,
		logger:       logger,
	}
}

// RegisterRoutes registers the facts handler's routes on the given mux.
func (h *FactsHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/tenants/{tenant}/facts"

	mux.HandleFunc("POST "+base+"/versions", tenantMiddleware(h.CreateDraft))
	mux.HandleFunc("GET "+base+"/versions", tenantMiddleware(h.ListVersions))
	mux.HandleFunc("GET "+base+"/versions/{version_id}", tenantMiddleware(h.GetVersion))
	mux.HandleFunc("GET "+base+"/versions/{version_id}/snapshot", tenantMiddleware(h.GetVersionSnapshot))
	mux.HandleFunc("POST "+base+"/publish", tenantMiddleware(h.Publish))
	mux.HandleFunc("POST "+base+"/rollback", tenantMiddleware(h.Rollback))
	mux.HandleFunc("GET "+base+"/history", tenantMiddleware(h.History))
	mux.HandleFunc("GET "+base+"/published", tenantMiddleware(h.GetPublished))
}

type createDraftRequest struct {
	Payload json.RawMessage `json:"payload"`
	Notes   *string         `json:"notes,omitempty"`
}

// CreateDraft handles POST /api/tenants/{tenant}/facts/versions
func (h *FactsHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	var req createDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}

	version, err := h.factsService.CreateDraft(r.Context(), services.CreateDraftInput{
		TenantID: tenant.ID,
		Payload:  req.Payload,
		Actor:    actorFrom(r),
		Notes:    req.Notes,
	})
	if err != nil {
		h.writeError(w, err, "create_draft_failed")
		return
	}

	if err := WriteJSON(w, http.StatusCreated, version); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type publishRequest struct {
	VersionID       uuid.UUID  `json:"version_id"`
	ExpectedCurrent *uuid.UUID `json:"expected_current,omitempty"`
	Notes           *string    `json:"notes,omitempty"`
}

// Publish handles POST /api/tenants/{tenant}/facts/publish
func (h *FactsHandler) Publish(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}
	if req.VersionID == uuid.Nil {
		h.badRequest(w, "missing_version_id", "version_id is required")
		return
	}

	version, err := h.factsService.Publish(r.Context(), services.PublishInput{
		TenantID:        tenant.ID,
		VersionID:       req.VersionID,
		ExpectedCurrent: req.ExpectedCurrent,
		Actor:           actorFrom(r),
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeError(w, err, "publish_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, version); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type rollbackRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// Rollback handles POST /api/tenants/{tenant}/facts/rollback
func (h *FactsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	var req rollbackRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, "invalid_request", "Invalid request body")
			return
		}
	}

	version, err := h.factsService.Rollback(r.Context(), tenant.ID, actorFrom(r), req.Reason)
	if err != nil {
		h.writeError(w, err, "rollback_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, version); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetPublished handles GET /api/tenants/{tenant}/facts/published
// This is the runtime read path; it returns the raw snapshot payload.
func (h *FactsHandler) GetPublished(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	payload, err := h.factsService.GetPublishedSnapshot(r.Context(), tenant.ID)
	if err != nil {
		h.writeError(w, err, "get_published_failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListVersions handles GET /api/tenants/{tenant}/facts/versions
func (h *FactsHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	versions, err := h.factsService.ListVersions(r.Context(), tenant.ID, parseLimit(r))
	if err != nil {
		h.writeError(w, err, "list_versions_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"versions": versions}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetVersion handles GET /api/tenants/{tenant}/facts/versions/{version_id}
func (h *FactsHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	versionID, err := uuid.Parse(r.PathValue("version_id"))
	if err != nil {
		h.badRequest(w, "invalid_version_id", "Invalid version ID format")
		return
	}

	version, err := h.factsService.GetVersion(r.Context(), tenant.ID, versionID)
	if err != nil {
		h.writeError(w, err, "get_version_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, version); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetVersionSnapshot handles GET /api/tenants/{tenant}/facts/versions/{version_id}/snapshot
func (h *FactsHandler) GetVersionSnapshot(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	versionID, err := uuid.Parse(r.PathValue("version_id"))
	if err != nil {
		h.badRequest(w, "invalid_version_id", "Invalid version ID format")
		return
	}

	payload, err := h.factsService.GetVersionSnapshot(r.Context(), tenant.ID, versionID)
	if err != nil {
		h.writeError(w, err, "get_snapshot_failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(payload); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// History handles GET /api/tenants/{tenant}/facts/history
func (h *FactsHandler) History(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	entries, err := h.factsService.History(r.Context(), tenant.ID, parseLimit(r))
	if err != nil {
		h.writeError(w, err, "get_history_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"entries": entries}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *FactsHandler) writeError(w http.ResponseWriter, err error, fallbackCode string) {
	status, code := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
		code = fallbackCode
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *FactsHandler) badRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *FactsHandler) internalError(w http.ResponseWriter, message string) {
	h.logger.Error(message)
	if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
