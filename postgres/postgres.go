package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
)

// DefaultTableName is used when Config.TableName is empty.
const DefaultTableName = "changefeed_checkpoints"

// Config holds configuration options for the PostgreSQL checkpoint store.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string
	// TableName is the name of the table to store checkpoints in
	TableName string
}

// quoteIdentifier quotes a PostgreSQL identifier to prevent SQL injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CheckpointStore is a PostgreSQL implementation of changefeed.CheckpointStore.
// Each named reader owns one row.
type CheckpointStore struct {
	db        *sql.DB
	tableName string
}

var _ changefeed.CheckpointStore = (*CheckpointStore)(nil)

// NewCheckpointStore opens a connection and returns a checkpoint store.
func NewCheckpointStore(config Config) (*CheckpointStore, error) {
	if config.ConnectionString == "" {
		return nil, errors.New("connection string must not be empty")
	}

	db, err := sql.Open("postgres", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewCheckpointStoreFromDB(db, config.TableName), nil
}

// NewCheckpointStoreFromDB returns a checkpoint store on an existing
// connection pool. Close closes db.
func NewCheckpointStoreFromDB(db *sql.DB, tableName string) *CheckpointStore {
	if tableName == "" {
		tableName = DefaultTableName
	}
	return &CheckpointStore{db: db, tableName: tableName}
}

// Close closes the database connection.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

// InitSchema creates the checkpoint table if it doesn't exist.
func (s *CheckpointStore) InitSchema(ctx context.Context) error {
	return InitSchema(ctx, s.db, s.tableName)
}

// InitSchema creates the checkpoint table tableName on db if it doesn't exist.
func InitSchema(ctx context.Context, db *sql.DB, tableName string) error {
	if tableName == "" {
		return errors.New("table name must not be empty")
	}
	if db == nil {
		return errors.New("database must not be nil")
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		name VARCHAR(255) PRIMARY KEY,
		seq TEXT NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	`, quoteIdentifier(tableName))

	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

func (s *CheckpointStore) loadQuery() string {
	return fmt.Sprintf("SELECT seq FROM %s WHERE name = $1", quoteIdentifier(s.tableName))
}

func (s *CheckpointStore) saveQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (name, seq, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET seq = EXCLUDED.seq, updated_at = EXCLUDED.updated_at
	`, quoteIdentifier(s.tableName))
}

// Load returns the checkpoint saved under name.
func (s *CheckpointStore) Load(ctx context.Context, name string) (changefeed.Cursor, bool, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, s.loadQuery(), name).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return changefeed.Cursor(cursor), true, nil
}

// Save stores cursor under name, replacing any previous value.
func (s *CheckpointStore) Save(ctx context.Context, name string, cursor changefeed.Cursor) error {
	if _, err := s.db.ExecContext(ctx, s.saveQuery(), name, cursor.String(), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}
