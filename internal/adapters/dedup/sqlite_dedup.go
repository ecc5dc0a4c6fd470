package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLiteStore is a SQLite implementation of the DedupStore interface
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the checksum database at dbPath
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS processed_checksums (
			checksum TEXT PRIMARY KEY,
			processed_at TEXT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger,
	}, nil
}

// Has reports whether the checksum was recorded
func (s *SQLiteStore) Has(ctx context.Context, checksum string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_checksums WHERE checksum = ?`, checksum).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query checksum: %w", err)
	}
	return true, nil
}

// Add records a checksum. The write is committed before it returns.
func (s *SQLiteStore) Add(ctx context.Context, checksum string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_checksums (checksum, processed_at)
		VALUES (?, ?)
	`, checksum, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to insert checksum: %w", err)
	}
	return nil
}

// Clear removes every checksum
func (s *SQLiteStore) Clear(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM processed_checksums`)
	if err != nil {
		return fmt.Errorf("failed to clear checksums: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		s.logger.Warn("Failed to get rows affected during clear", zap.Error(err))
	} else {
		s.logger.Info("Cleared dedup checksums", zap.Int64("count", rowsAffected))
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
