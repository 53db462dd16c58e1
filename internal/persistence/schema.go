package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
// Timestamps are stored as Unix nanoseconds.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS learnings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		topic TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_learnings_topic ON learnings(topic, id);

	CREATE TABLE IF NOT EXISTS task_results (
		entry_id TEXT PRIMARY KEY,
		agent TEXT NOT NULL,
		task TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at INTEGER NOT NULL DEFAULT 0,
		ended_at INTEGER NOT NULL DEFAULT 0,
		seq INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_task_results_seq ON task_results(seq);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
