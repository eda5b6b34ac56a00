package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresArchive persists events durably for long retention. It implements
// Sink so the worker can fan out to it alongside the telemetry stream.
//
// Schema:
//
//	CREATE TABLE security_events (
//	    id         UUID PRIMARY KEY,
//	    category   TEXT        NOT NULL,
//	    action     TEXT        NOT NULL,
//	    outcome    TEXT        NOT NULL,
//	    detail     JSONB       NOT NULL DEFAULT '{}',
//	    created_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_security_events_category_created
//	    ON security_events (category, created_at DESC);
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

func (a *PostgresArchive) Write(ctx context.Context, event SecurityEvent) error {
	detail := map[string]string{}
	if event.Detail != nil {
		detail = event.Detail.Fields()
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	const query = `
		INSERT INTO security_events (id, category, action, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := a.db.ExecContext(ctx, query,
		event.ID,
		string(event.Category),
		event.Action,
		string(event.Outcome),
		payload,
		event.Timestamp,
	); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}

// ArchivedEvent is a flattened archive row for audit queries.
type ArchivedEvent struct {
	ID        string
	Category  string
	Action    string
	Outcome   string
	Detail    map[string]string
	CreatedAt time.Time
}

// ListRecent returns archived events newer than the cutoff, oldest first.
func (a *PostgresArchive) ListRecent(ctx context.Context, cutoff time.Time) ([]ArchivedEvent, error) {
	const query = `
		SELECT id, category, action, outcome, detail, created_at
		FROM security_events
		WHERE created_at >= $1
		ORDER BY created_at ASC
	`
	rows, err := a.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query security events: %w", err)
	}
	defer rows.Close()

	var out []ArchivedEvent
	for rows.Next() {
		var e ArchivedEvent
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Category, &e.Action, &e.Outcome, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security event: %w", err)
		}
		if err := json.Unmarshal(payload, &e.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal event detail: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
