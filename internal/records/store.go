// Package records persists finished interviews in sqlite as a single JSON
// list per storage key, newest first.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexiqai/interview-assistant/internal/interview"
)

// ErrNotFound is returned when no record has the requested id
var ErrNotFound = errors.New("interview record not found")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore keeps the record list under one key of a key/value table
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// OpenSQLite opens or creates the database at path
func OpenSQLite(path, key string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records database: %w", err)
	}
	// A single connection serializes read-modify-write of the list
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create records table: %w", err)
	}
	return &SQLiteStore{db: db, key: key}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// List returns every record, newest first. A stored value that is not a
// list reads as empty.
func (s *SQLiteStore) List(ctx context.Context) ([]interview.Record, error) {
	return s.load(ctx, s.db)
}

// Get returns the record with id
func (s *SQLiteStore) Get(ctx context.Context, id string) (interview.Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return interview.Record{}, err
	}
	for _, r := range records {
		if r.ID == id {
			return r, nil
		}
	}
	return interview.Record{}, ErrNotFound
}

// Prepend stores record at the head of the list
func (s *SQLiteStore) Prepend(ctx context.Context, record interview.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	records, err := s.load(ctx, tx)
	if err != nil {
		return err
	}
	value, err := json.Marshal(append([]interview.Record{record}, records...))
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		s.key, string(value))
	if err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q querier) ([]interview.Record, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, s.key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}

	var records []interview.Record
	if err := json.Unmarshal([]byte(value), &records); err != nil {
		return nil, nil
	}
	return records, nil
}
