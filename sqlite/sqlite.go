// Package sqlite stores changefeed checkpoints in a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	name TEXT PRIMARY KEY,
	seq TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// CheckpointStore is a SQLite implementation of changefeed.CheckpointStore.
type CheckpointStore struct {
	db *sql.DB
}

var _ changefeed.CheckpointStore = (*CheckpointStore)(nil)

// Open opens or creates the SQLite database at file and ensures the
// checkpoint table exists.
func Open(file string) (*CheckpointStore, error) {
	if file == "" {
		return nil, errors.New("database file must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", file)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w", err)
	}
	// A single connection serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return &CheckpointStore{db: db}, nil
}

// Close closes the database.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

// Load returns the checkpoint saved under name.
func (s *CheckpointStore) Load(ctx context.Context, name string) (changefeed.Cursor, bool, error) {
	var seq string
	err := s.db.QueryRowContext(ctx, "SELECT seq FROM checkpoints WHERE name = ?", name).Scan(&seq)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return changefeed.Cursor(seq), true, nil
}

// Save stores cursor under name, replacing any previous value.
func (s *CheckpointStore) Save(ctx context.Context, name string, cursor changefeed.Cursor) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (name, seq, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET seq = excluded.seq, updated_at = excluded.updated_at
	`, name, cursor.String(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
