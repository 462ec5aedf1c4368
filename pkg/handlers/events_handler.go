package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parkwise-ai/facts-engine/pkg/models"
	"github.com/parkwise-ai/facts-engine/pkg/repositories"
)

// EventsHandler ingests runtime analytics events. The event log is
// append-only and independent of the facts store.
type EventsHandler struct {
	events repositories.EventLogRepository
	logger *zap.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(events repositories.EventLogRepository, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		events: events,
		logger: logger,
	}
}

// RegisterRoutes registers the events handler's routes on the given mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux, tenantMiddleware TenantMiddleware) {
	base := "/api/tenants/{tenant}/events"

	mux.HandleFunc("POST "+base, tenantMiddleware(h.Ingest))
	mux.HandleFunc("GET "+base+"/sessions/{session_id}", tenantMiddleware(h.ListSession))
}

type ingestEventRequest struct {
	TraceID        uuid.UUID       `json:"trace_id"`
	SessionID      uuid.UUID       `json:"session_id"`
	UserID         *string         `json:"user_id,omitempty"`
	Channel        *string         `json:"channel,omitempty"`
	EventName      string          `json:"event_name"`
	FactsVersionID *uuid.UUID      `json:"facts_version_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Ingest handles POST /api/tenants/{tenant}/events
func (h *EventsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	tenant, ok := GetTenant(r.Context())
	if !ok {
		h.internalError(w, "tenant missing from context")
		return
	}

	var req ingestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.badRequest(w, "invalid_request", "Invalid request body")
		return
	}
	if req.EventName == "" {
		h.badRequest(w, "missing_event_name", "event_name is required")
		return
	}
	if req.TraceID == uuid.Nil || req.SessionID == uuid.Nil {
		h.badRequest(w, "missing_identifiers", "trace_id and session_id are required")
		return
	}

	entry := &models.EventLogEntry{
		TraceID:        req.TraceID,
		SessionID:      req.SessionID,
		UserID:         req.UserID,
		TenantID:       &tenant.ID,
		Channel:        req.Channel,
		EventName:      req.EventName,
		FactsVersionID: req.FactsVersionID,
		Payload:        req.Payload,
	}
	if err := h.events.Write(r.Context(), entry); err != nil {
		h.logger.Error("Failed to write event", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "write_event_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, entry); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListSession handles GET /api/tenants/{tenant}/events/sessions/{session_id}
func (h *EventsHandler) ListSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		h.badRequest(w, "invalid_session_id", "Invalid session ID format")
		return
	}

	limit := parseLimit(r)
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	entries, err := h.events.ListBySession(r.Context(), sessionID, limit)
	if err != nil {
		h.logger.Error("Failed to list session events", zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "list_events_failed", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if entries == nil {
		entries = make([]*models.EventLogEntry, 0)
	}

	if err := WriteJSON(w, http.StatusOK, map[string]any{"events": entries}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *EventsHandler) badRequest(w http.ResponseWriter, code, message string) {
	if err := ErrorResponse(w, http.StatusBadRequest, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *EventsHandler) internalError(w http.ResponseWriter, message string) {
	h.logger.Error(message)
	if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
