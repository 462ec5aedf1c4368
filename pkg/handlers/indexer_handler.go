package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/services"
)

// IndexerHandler handles knowledge-base indexing HTTP requests: reindex
// trigger, job status, cancellation and the active index read.
type IndexerHandler struct {
	indexerService *services.IndexerService
	logger         *zap.Logger
}

// NewIndexerHandler creates a new indexer handler.
func NewIndexerHandler(indexerService *services.IndexerService, logger *zap.Logger) *IndexerHandler {
	return &IndexerHandler{
		indexerService: indexerService,
		logger:         logger,
	}
}

// RegisterRoutes registers the indexer handler's routes on the given mux.
func (h *IndexerHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/tenants/{tenant}/kb"

	mux.HandleFunc("POST "+base+"/reindex", tenantMiddleware(h.Reindex))
	mux.HandleFunc("GET "+base+"/jobs", tenantMiddleware(h.ListJobs))
	mux.HandleFunc("GET "+base+"/jobs/{job_id}", tenantMiddleware(h.GetJob))
	mux.HandleFunc("POST "+base+"/jobs/{job_id}/cancel", tenantMiddleware(h.CancelJob))
	mux.HandleFunc("GET "+base+"/index/active", tenantMiddleware(h.GetActiveIndex))
}

type reindexRequest struct {
	Reason *string `json:"reason,omitempty"`
	Force  bool    `json:"force"`
}

// Reindex handles POST /api/tenants/{tenant}/kb/reindex
// Returns 409 with job_already_active when a job is already in flight.
func (h *IndexerHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	var req reindexRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.badRequest(w, "invalid_request", "Invalid request body")
			return
		}
	}

	actor := actorFrom(r)
	job, err := h.indexerService.Enqueue(r.Context(), services.EnqueueInput{
		TenantID:    tenant.ID,
		TriggeredBy: &actor,
		Reason:      req.Reason,
		Force:       req.Force,
	})
	if err != nil {
		h.writeError(w, err, "enqueue_failed")
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, job); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListJobs handles GET /api/tenants/{tenant}/kb/jobs
func (h *IndexerHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	jobs, err := h.indexerService.ListJobs(r.Context(), tenant.ID, parseLimit(r))
	if err != nil {
		h.writeError(w, err, "list_jobs_failed")
		return
	}
	if jobs == nil {
		jobs = make([]*models.IndexJob, 0)
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetJob handles GET /api/tenants/{tenant}/kb/jobs/{job_id}
func (h *IndexerHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.badRequest(w, "invalid_job_id", "Invalid job ID format")
		return
	}

	job, err := h.indexerService.GetJob(r.Context(), tenant.ID, jobID)
	if err != nil {
		h.writeError(w, err, "get_job_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, job); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CancelJob handles POST /api/tenants/{tenant}/kb/jobs/{job_id}/cancel
func (h *IndexerHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.badRequest(w, "invalid_job_id", "Invalid job ID format")
		return
	}

	if err := h.indexerService.Cancel(r.Context(), tenant.ID, jobID); err != nil {
		h.writeError(w, err, "cancel_failed")
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, map[string]string{"status": "cancel_requested"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetActiveIndex handles GET /api/tenants/{tenant}/kb/index/active
// Retrieval uses the returned label to pick the collection to query.
func (h *IndexerHandler) GetActiveIndex(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	index, err := h.indexerService.GetActiveIndex(r.Context(), tenant.ID)
	if err != nil {
		h.writeError(w, err, "get_active_index_failed")
		return
	}

	if err := WriteJSON(w, http.StatusOK, index); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *IndexerHandler) writeError(w http.ResponseWriter, err error, fallbackCode string) {
	status, code := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
		code = fallbackCode
	}
	if err := ErrorResponse(w, status, code, err.Error()); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *IndexerHandler) badRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *IndexerHandler) internalError(w http.ResponseWriter, message string) {
	h.logger.Error(message)
	if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
