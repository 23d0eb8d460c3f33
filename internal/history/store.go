package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store keeps meeting records in SQLite, newest first, trimmed to a
// retention cap.
type Store struct {
	db        *sql.DB
	retention int
}

// DefaultDBPath returns the default database location.
func DefaultDBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bbrew", "meetings.sqlite")
}

// Open opens (creating if needed) the database and applies the schema.
func Open(path string, retention int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS meetings (
			id         TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			title      TEXT NOT NULL,
			record     TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_meetings_created ON meetings(created_at DESC);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, retention: retention}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append stores a finished meeting and trims records beyond the retention
// cap, oldest first.
func (s *Store) Append(rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO meetings (id, created_at, title, record) VALUES (?, ?, ?, ?)
	`, rec.ID, rec.Timestamp.UnixMilli(), rec.Title, string(payload)); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}

	if s.retention > 0 {
		if _, err := tx.Exec(`
			DELETE FROM meetings WHERE id NOT IN (
				SELECT id FROM meetings ORDER BY created_at DESC LIMIT ?
			)
		`, s.retention); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}

	return tx.Commit()
}

// List returns all records, newest first.
func (s *Store) List() ([]Record, error) {
	rows, err := s.db.Query(`SELECT record FROM meetings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query meetings: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode meeting: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get returns one record by id.
func (s *Store) Get(id string) (*Record, error) {
	var payload string
	err := s.db.QueryRow(`SELECT record FROM meetings WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query meeting: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode meeting: %w", err)
	}
	return &rec, nil
}
