package dlq

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists dropped envelopes to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a SQLite dead-letter store.
// The path should be a file path (e.g., "./deadletters.db") or ":memory:"
// for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			queue TEXT NOT NULL,
			event_name TEXT NOT NULL,
			event_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			payload BLOB,
			dropped_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_dead_letters_queue
		ON dead_letters(queue)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record implements Store.
func (s *SQLiteStore) Record(d DroppedEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if d.DroppedAt.IsZero() {
		d.DroppedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO dead_letters (queue, event_name, event_id, reason, payload, dropped_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.Queue, d.EventName, d.EventID, d.Reason, d.Payload,
		d.DroppedAt.UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("record dead letter: %w", err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List() ([]DroppedEnvelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.Query(`
		SELECT queue, event_name, event_id, reason, payload, dropped_at
		FROM dead_letters
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var drops []DroppedEnvelope
	for rows.Next() {
		var d DroppedEnvelope
		var droppedAt string
		if err := rows.Scan(&d.Queue, &d.EventName, &d.EventID, &d.Reason, &d.Payload, &droppedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		d.DroppedAt, _ = time.Parse(time.RFC3339Nano, droppedAt)
		drops = append(drops, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}

	return drops, nil
}

// Count implements Store.
func (s *SQLiteStore) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM dead_letters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
