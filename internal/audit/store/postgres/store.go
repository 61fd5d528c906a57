// Package postgres persists the audit trail. Events are append-only; there is
// no update path.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"consentd/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	action     TEXT NOT NULL,
	subject_id TEXT,
	actor_id   TEXT,
	policy_id  TEXT,
	consent_id TEXT,
	request_id TEXT,
	detail     TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_subject ON audit_events (subject_id);
`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Initialize creates the schema. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("initialize audit schema: %w", err)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, subject_id, actor_id, policy_id, consent_id, request_id, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.Action, event.SubjectID, event.ActorID,
		event.PolicyID, event.ConsentID, event.RequestID, event.Detail, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, subject_id, actor_id, policy_id, consent_id, request_id, detail, occurred_at
		FROM audit_events
		WHERE subject_id = $1
		ORDER BY occurred_at ASC`,
		subjectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		var e audit.Event
		if err := rows.Scan(&e.ID, &e.Action, &e.SubjectID, &e.ActorID,
			&e.PolicyID, &e.ConsentID, &e.RequestID, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
