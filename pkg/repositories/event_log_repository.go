package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/parkwise-ai/facts-engine/pkg/database"
	"github.com/parkwise-ai/facts-engine/pkg/models"
)

// EventLogRepository provides append-only storage for runtime analytics
// events. Independent of the facts store; a failed event write never
// affects a mutation.
type EventLogRepository interface {
	Write(ctx context.Context, entry *models.EventLogEntry) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.EventLogEntry, error)
	CountSessionEvents(ctx context.Context, sessionID uuid.UUID, eventName string) (int, error)
}

type eventLogRepository struct{}

// NewEventLogRepository creates a new EventLogRepository.
func NewEventLogRepository() EventLogRepository {
	return &eventLogRepository{}
}

var _ EventLogRepository = (*eventLogRepository)(nil)

func (r *eventLogRepository) Write(ctx context.Context, entry *models.EventLogEntry) error {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return fmt.Errorf("no tenant scope in context")
	}

	err := scope.Conn.QueryRow(ctx, `
		INSERT INTO engine_event_log (
			trace_id, session_id, user_id, tenant_id, channel, event_name,
			facts_version_id, payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		entry.TraceID, entry.SessionID, entry.UserID, entry.TenantID,
		entry.Channel, entry.EventName, entry.FactsVersionID, entry.Payload,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write event log entry: %w", err)
	}
	return nil
}

func (r *eventLogRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.EventLogEntry, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no tenant scope in context")
	}

	rows, err := scope.Conn.Query(ctx, `
		SELECT id, trace_id, session_id, user_id, tenant_id, channel,
		       event_name, facts_version_id, payload, created_at
		FROM engine_event_log
		WHERE session_id = $1
		ORDER BY created_at
		LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list session events: %w", err)
	}
	defer rows.Close()

	var entries []*models.EventLogEntry
	for rows.Next() {
		var e models.EventLogEntry
		err := rows.Scan(&e.ID, &e.TraceID, &e.SessionID, &e.UserID,
			&e.TenantID, &e.Channel, &e.EventName, &e.FactsVersionID,
			&e.Payload, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event log entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event log entries: %w", err)
	}
	return entries, nil
}

func (r *eventLogRepository) CountSessionEvents(ctx context.Context, sessionID uuid.UUID, eventName string) (int, error) {
	scope, ok := database.GetTenantScope(ctx)
	if !ok {
		return 0, fmt.Errorf("no tenant scope in context")
	}

	var count int
	err := scope.Conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM engine_event_log
		WHERE session_id = $1 AND event_name = $2`,
		sessionID, eventName).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count session events: %w", err)
	}
	return count, nil
}
