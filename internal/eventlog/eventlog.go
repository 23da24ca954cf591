// Package eventlog persists lifecycle events to an embedded libSQL database.
// It subscribes to the event bus and keeps an append-only audit trail per
// workflow, queryable from the CLI and the MCP server.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/troupe-sh/troupe/internal/events"
)

// Record is one persisted lifecycle event.
type Record struct {
	ID         int64           `json:"id"`
	WorkflowID string          `json:"workflow_id"`
	AgentID    string          `json:"agent_id,omitempty"`
	State      string          `json:"state,omitempty"`
	Type       string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// Log is a libSQL-backed append-only event log.
type Log struct {
	db *sql.DB
}

// Open opens (creating if needed) the event database at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("libsql", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	l := &Log{db: db}
	if err := l.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database.
func (l *Log) Close() error { return l.db.Close() }

// HandleEvent implements events.Handler, appending every published event.
func (l *Log) HandleEvent(ctx context.Context, e events.Event) error {
	return l.Append(ctx, e)
}

// Append inserts an event with a monotonically increasing per-workflow
// sequence.
func (l *Log) Append(ctx context.Context, e events.Event) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE workflow_id = ?`,
		e.WorkflowID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next event sequence: %w", err)
	}

	var payload any
	if len(e.Payload) > 0 {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = string(data)
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (workflow_id, agent_id, state, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.WorkflowID, nullStr(e.AgentID), nullStr(e.State), e.Type, payload, ts, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// Events returns all events for a workflow ordered by sequence.
func (l *Log) Events(ctx context.Context, workflowID string) ([]*Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, workflow_id, agent_id, state, event_type, payload, timestamp, sequence
		 FROM events WHERE workflow_id = ? ORDER BY sequence ASC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			rec     Record
			agentID sql.NullString
			state   sql.NullString
			payload sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &agentID, &state,
			&rec.Type, &payload, &rec.Timestamp, &rec.Sequence); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.AgentID = agentID.String
		rec.State = state.String
		if payload.Valid {
			rec.Payload = json.RawMessage(payload.String)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ events.Handler = (*Log)(nil)
