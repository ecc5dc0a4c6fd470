package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// PostgresStore is a pgvector implementation of the VectorStore interface.
// The HNSW index is only built once the table holds indexThreshold rows;
// smaller tables are scanned sequentially by the planner.
type PostgresStore struct {
	db             *pgxpool.Pool
	indexThreshold int
	indexed        atomic.Bool
	logger         *zap.Logger
}

// NewPostgresStore connects to PostgreSQL and prepares the metadata table
func NewPostgresStore(ctx context.Context, dsn string, indexThreshold int, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	for _, stmt := range []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memory_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to prepare similarity schema: %w", err)
		}
	}

	return &PostgresStore{
		db:             pool,
		indexThreshold: indexThreshold,
		logger:         logger,
	}, nil
}

// Dimension reads the width from the metadata table
func (s *PostgresStore) Dimension(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRow(ctx, `SELECT value FROM memory_meta WHERE key = $1`, dimensionKey).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding dimension: %w", err)
	}
	dim, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt embedding dimension %q: %w", value, err)
	}
	return dim, nil
}

// EnsureSchema creates the records table with a vector(dim) column on first use
func (s *PostgresStore) EnsureSchema(ctx context.Context, dim int) error {
	current, err := s.Dimension(ctx)
	if err != nil {
		return err
	}
	if current != 0 && current != dim {
		return &core.SchemaMismatchError{Expected: current, Actual: dim}
	}
	return s.createSchema(ctx, dim, false)
}

// Reset drops the records table and recreates it for the new width
func (s *PostgresStore) Reset(ctx context.Context, dim int) error {
	return s.createSchema(ctx, dim, true)
}

func (s *PostgresStore) createSchema(ctx context.Context, dim int, drop bool) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if drop {
		if _, err := tx.Exec(ctx, `DROP TABLE IF EXISTS similarity_records`); err != nil {
			return fmt.Errorf("failed to drop similarity records: %w", err)
		}
		s.indexed.Store(false)
	}

	// vector(N) cannot be parameterised
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS similarity_records (
			id TEXT PRIMARY KEY,
			email_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			received_at TIMESTAMPTZ,
			embedding vector(%d) NOT NULL,
			score INTEGER NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			analyzed_at TIMESTAMPTZ,
			user_validation TEXT NOT NULL DEFAULT 'unset',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dim),
		`CREATE INDEX IF NOT EXISTS idx_similarity_email_id ON similarity_records(email_id)`,
		`CREATE INDEX IF NOT EXISTS idx_similarity_account_id ON similarity_records(account_id)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create similarity records: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO memory_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, dimensionKey, strconv.Itoa(dim)); err != nil {
		return fmt.Errorf("failed to store embedding dimension: %w", err)
	}

	return tx.Commit(ctx)
}

// Insert stores a record and builds the ANN index once enough rows exist
func (s *PostgresStore) Insert(ctx context.Context, record *core.SimilarityRecord) error {
	dim, err := s.Dimension(ctx)
	if err != nil {
		return err
	}
	if dim == 0 {
		return ErrSchemaNotInitialised
	}
	if len(record.Embedding) != dim {
		return &core.SchemaMismatchError{Expected: dim, Actual: len(record.Embedding)}
	}

	validation := record.UserValidation
	if validation == "" {
		validation = core.ValidationUnset
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO similarity_records (
			id, email_id, account_id, subject, sender, body, received_at,
			embedding, score, reasoning, model, analyzed_at, user_validation, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector, $9, $10, $11, $12, $13, $14)
	`,
		record.ID, record.EmailID, record.AccountID, record.Subject, record.Sender, record.Body,
		nullTime(record.ReceivedAt), pgVector(record.Embedding),
		record.Result.Score, record.Result.Reasoning, record.Result.Model, nullTime(record.Result.AnalyzedAt),
		string(validation), createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert similarity record: %w", err)
	}

	s.maybeCreateIndex(ctx)
	return nil
}

// maybeCreateIndex builds the HNSW index the first time the row count reaches
// the threshold. Failures are logged; search still works without it.
func (s *PostgresStore) maybeCreateIndex(ctx context.Context) {
	if s.indexed.Load() {
		return
	}
	count, err := s.Count(ctx)
	if err != nil || count < s.indexThreshold {
		return
	}

	s.logger.Info("Building HNSW index for similarity search", zap.Int("rows", count))
	if _, err := s.db.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_similarity_embedding_hnsw
		ON similarity_records USING hnsw (embedding vector_cosine_ops)
	`); err != nil {
		s.logger.Warn("Failed to build HNSW index", zap.Error(err))
		return
	}
	s.indexed.Store(true)
}

// Search orders by cosine distance in the database
func (s *PostgresStore) Search(ctx context.Context, vector []float32, k int, accountID string) ([]core.SimilarityMatch, error) {
	if k <= 0 {
		return nil, nil
	}
	dim, err := s.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, &core.SchemaMismatchError{Expected: dim, Actual: len(vector)}
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, email_id, account_id, subject, sender, body, received_at,
		       score, reasoning, model, analyzed_at, user_validation, created_at,
		       1 - (embedding <=> $1::vector) AS similarity
		FROM similarity_records
		WHERE ($2 = '' OR account_id = $2)
		ORDER BY embedding <=> $1::vector
		LIMIT $3
	`, pgVector(vector), accountID, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search similarity records: %w", err)
	}
	defer rows.Close()

	var matches []core.SimilarityMatch
	for rows.Next() {
		var m core.SimilarityMatch
		var receivedAt, analyzedAt *time.Time
		var validation string
		if err := rows.Scan(
			&m.Record.ID, &m.Record.EmailID, &m.Record.AccountID, &m.Record.Subject, &m.Record.Sender,
			&m.Record.Body, &receivedAt, &m.Record.Result.Score, &m.Record.Result.Reasoning,
			&m.Record.Result.Model, &analyzedAt, &validation, &m.Record.CreatedAt, &m.Similarity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan similarity record: %w", err)
		}
		if receivedAt != nil {
			m.Record.ReceivedAt = *receivedAt
		}
		if analyzedAt != nil {
			m.Record.Result.AnalyzedAt = *analyzedAt
		}
		m.Record.UserValidation = core.UserValidation(validation)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read similarity records: %w", err)
	}
	return matches, nil
}

// SetUserValidation updates the verdict on every record for emailID
func (s *PostgresStore) SetUserValidation(ctx context.Context, emailID string, validation core.UserValidation) (int, error) {
	if dim, err := s.Dimension(ctx); err != nil || dim == 0 {
		return 0, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE similarity_records SET user_validation = $1 WHERE email_id = $2`, string(validation), emailID)
	if err != nil {
		return 0, fmt.Errorf("failed to update user validation: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of stored records
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	if dim, err := s.Dimension(ctx); err != nil || dim == 0 {
		return 0, err
	}
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM similarity_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count similarity records: %w", err)
	}
	return n, nil
}

// Clear deletes every record and keeps the table
func (s *PostgresStore) Clear(ctx context.Context) error {
	if dim, err := s.Dimension(ctx); err != nil || dim == 0 {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM similarity_records`)
	if err != nil {
		return fmt.Errorf("failed to clear similarity records: %w", err)
	}
	s.logger.Debug("Cleared similarity records", zap.Int64("deleted", tag.RowsAffected()))
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// pgVector converts a float32 slice to the pgvector text format
func pgVector(v []float32) string {
	buf := make([]byte, 0, len(v)*13+2)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'f', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
