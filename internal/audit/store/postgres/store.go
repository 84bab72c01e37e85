package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"consentgate/internal/audit"
)

// Store appends audit events to the audit_events table. Rows are never updated;
// a replayed event with the same id is ignored.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (
			event_id, occurred_at, event_type, actor_id, organization,
			subject_id, purpose, decision, request_id,
			permitted_fields, justifications
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.EventID,
		event.Timestamp,
		string(event.Type),
		event.ActorID,
		event.Organization,
		event.SubjectID,
		event.Purpose,
		event.Decision,
		event.RequestID,
		pq.Array(nonNil(event.PermittedFields)),
		pq.Array(nonNil(event.Justifications)),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns the most recent events for a subject, newest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID string, limit int) ([]audit.Event, error) {
	query := `
		SELECT event_id, occurred_at, event_type, actor_id, organization,
			   subject_id, purpose, decision, request_id,
			   permitted_fields, justifications
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var (
			e         audit.Event
			eventType string
		)
		if err := rows.Scan(
			&e.EventID, &e.Timestamp, &eventType, &e.ActorID, &e.Organization,
			&e.SubjectID, &e.Purpose, &e.Decision, &e.RequestID,
			pq.Array(&e.PermittedFields), pq.Array(&e.Justifications),
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = audit.EventType(eventType)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
