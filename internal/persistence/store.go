package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aristath/researchflow/internal/scheduler"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Learning is one distilled finding appended by the queue after a successful entry.
type Learning struct {
	ID        int64
	Topic     string
	Content   string
	CreatedAt time.Time
}

// ResultRecord is a stored terminal result keyed by queue entry ID.
type ResultRecord struct {
	EntryID string
	scheduler.TaskResult
}

// Store defines the persistence interface for the knowledge sink and result history.
type Store interface {
	// Knowledge sink
	AppendLearning(ctx context.Context, topic, content string) error
	Learnings(ctx context.Context, topic string, limit int) ([]Learning, error)

	// Result history
	SaveResult(ctx context.Context, entryID string, result scheduler.TaskResult) error
	GetResult(ctx context.Context, entryID string) (*ResultRecord, error)
	Results(ctx context.Context, limit int) ([]ResultRecord, error)

	// Lifecycle
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-backed store at the given path.
// Creates parent directories if needed. Enables WAL mode and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", dbPath)
	return openStore(ctx, connStr, 2)
}

// NewMemoryStore creates an in-memory SQLite store for testing.
// Each store gets its own named database. Shared-cache connections fail
// with SQLITE_LOCKED instead of waiting, so the pool holds one connection.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	return openStore(ctx, connStr, 1)
}

func openStore(ctx context.Context, connStr string, maxConns int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxConns)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
