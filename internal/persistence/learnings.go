package persistence

import (
	"context"
	"fmt"
	"time"
)

// AppendLearning stores one finding under topic (usually the agent role).
func (s *SQLiteStore) AppendLearning(ctx context.Context, topic, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO learnings (topic, content, created_at) VALUES (?, ?, ?)`,
		topic, content, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append learning: %w", err)
	}
	return nil
}

// Learnings returns up to limit findings, newest first. An empty topic
// matches every topic; limit <= 0 means no limit.
func (s *SQLiteStore) Learnings(ctx context.Context, topic string, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, topic, content, created_at FROM learnings
		WHERE ? = '' OR topic = ?
		ORDER BY id DESC
		LIMIT ?
	`, topic, topic, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query learnings: %w", err)
	}
	defer rows.Close()

	var out []Learning
	for rows.Next() {
		var l Learning
		var created int64
		if err := rows.Scan(&l.ID, &l.Topic, &l.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		l.CreatedAt = fromUnix(created)
		out = append(out, l)
	}
	return out, rows.Err()
}
