package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// MySQLStore is a MySQL implementation of the DedupStore interface
type MySQLStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewMySQLStore connects to MySQL and creates the checksum table
func NewMySQLStore(dsn string, logger *zap.Logger) (*MySQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	store, err := NewMySQLStoreFromDB(db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewMySQLStoreFromDB wraps an open database and creates the checksum table
func NewMySQLStoreFromDB(db *sql.DB, logger *zap.Logger) (*MySQLStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS processed_checksums (
			checksum CHAR(64) PRIMARY KEY,
			processed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &MySQLStore{
		db:     db,
		logger: logger,
	}, nil
}

// Has reports whether the checksum was recorded
func (s *MySQLStore) Has(ctx context.Context, checksum string) (bool, error) {
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

// Add records a checksum
func (s *MySQLStore) Add(ctx context.Context, checksum string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT IGNORE INTO processed_checksums (checksum) VALUES (?)`, checksum)
	if err != nil {
		return fmt.Errorf("failed to insert checksum: %w", err)
	}
	return nil
}

// Clear removes every checksum
func (s *MySQLStore) Clear(ctx context.Context) error {
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
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
