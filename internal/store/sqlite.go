// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides block record persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS block_records (
			identity        TEXT PRIMARY KEY,
			remote_block_id TEXT NOT NULL,
			label           TEXT NOT NULL,
			last_synced_at  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_block_records_synced
			ON block_records(last_synced_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateBlockRecord persists a new block record for an identity
func (s *SQLiteStore) CreateBlockRecord(ctx context.Context, rec *BlockRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO block_records (identity, remote_block_id, label, last_synced_at)
		 VALUES (?, ?, ?, ?)`,
		rec.Identity, rec.RemoteBlockID, rec.Label, rec.LastSyncedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("inserting block record: %w", err)
	}
	return nil
}

// GetBlockRecord returns the block record for an identity
func (s *SQLiteStore) GetBlockRecord(ctx context.Context, identity string) (*BlockRecord, error) {
	var rec BlockRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, remote_block_id, label, last_synced_at
		 FROM block_records WHERE identity = ?`,
		identity,
	).Scan(&rec.Identity, &rec.RemoteBlockID, &rec.Label, &rec.LastSyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying block record: %w", err)
	}
	return &rec, nil
}

// UpdateBlockRecord updates an existing block record
func (s *SQLiteStore) UpdateBlockRecord(ctx context.Context, rec *BlockRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE block_records
		 SET remote_block_id = ?, label = ?, last_synced_at = ?
		 WHERE identity = ?`,
		rec.RemoteBlockID, rec.Label, rec.LastSyncedAt.UTC(), rec.Identity,
	)
	if err != nil {
		return fmt.Errorf("updating block record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBlockRecords returns up to limit block records, newest first
func (s *SQLiteStore) ListBlockRecords(ctx context.Context, limit int) ([]*BlockRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT identity, remote_block_id, label, last_synced_at
		 FROM block_records ORDER BY last_synced_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying block records: %w", err)
	}
	defer rows.Close()

	var records []*BlockRecord
	for rows.Next() {
		var rec BlockRecord
		if err := rows.Scan(&rec.Identity, &rec.RemoteBlockID, &rec.Label, &rec.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("scanning block record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// DeleteBlockRecord removes an identity's block record
func (s *SQLiteStore) DeleteBlockRecord(ctx context.Context, identity string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM block_records WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("deleting block record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
// modernc.org/sqlite does not export typed errors for constraint violations.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
