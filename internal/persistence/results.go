package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/researchflow/internal/scheduler"
)

// SaveResult records the terminal result of a queue entry. Saving the same
// entry again replaces the earlier row and moves it to the end of the history.
func (s *SQLiteStore) SaveResult(ctx context.Context, entryID string, result scheduler.TaskResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (entry_id, agent, task, status, output, tokens_used, error, started_at, ended_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM task_results))
		ON CONFLICT(entry_id) DO UPDATE SET
			agent = excluded.agent,
			task = excluded.task,
			status = excluded.status,
			output = excluded.output,
			tokens_used = excluded.tokens_used,
			error = excluded.error,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			seq = excluded.seq
	`, entryID, string(result.Agent), result.Task, string(result.Status), result.Output,
		result.TokensUsed, result.Error, toUnix(result.Started), toUnix(result.Ended))
	if err != nil {
		return fmt.Errorf("failed to save result for %s: %w", entryID, err)
	}
	return nil
}

// GetResult returns the stored result for entryID, or nil if none exists.
func (s *SQLiteStore) GetResult(ctx context.Context, entryID string) (*ResultRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, agent, task, status, output, tokens_used, error, started_at, ended_at
		FROM task_results WHERE entry_id = ?
	`, entryID)

	rec, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result %s: %w", entryID, err)
	}
	return rec, nil
}

// Results returns up to limit stored results, most recently saved first.
// limit <= 0 means no limit.
func (s *SQLiteStore) Results(ctx context.Context, limit int) ([]ResultRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, agent, task, status, output, tokens_used, error, started_at, ended_at
		FROM task_results ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var out []ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(sc scanner) (*ResultRecord, error) {
	var (
		rec             ResultRecord
		agent, status   string
		output, errText sql.NullString
		started, ended  int64
	)
	if err := sc.Scan(&rec.EntryID, &agent, &rec.Task, &status, &output,
		&rec.TokensUsed, &errText, &started, &ended); err != nil {
		return nil, err
	}
	rec.Agent = scheduler.AgentRole(agent)
	rec.Status = scheduler.Status(status)
	rec.Output = output.String
	rec.Error = errText.String
	rec.Started = fromUnix(started)
	rec.Ended = fromUnix(ended)
	return &rec, nil
}
