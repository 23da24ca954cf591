package eventlog

import (
	"context"
	"fmt"
)

// Migrations run in order; the schema_version table records what has been
// applied.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_id TEXT NOT NULL,
		agent_id TEXT,
		state TEXT,
		event_type TEXT NOT NULL,
		payload TEXT,
		timestamp DATETIME NOT NULL,
		sequence INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_workflow ON events (workflow_id, sequence)`,
}

func (l *Log) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, len(migrations))
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}
