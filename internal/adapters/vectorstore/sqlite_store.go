package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

const dimensionKey = "embedding_dimension"

// SQLiteStore is a SQLite implementation of the VectorStore interface.
// Embeddings are stored as little-endian float32 blobs and searched linearly.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the similarity database at dbPath
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS memory_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS similarity_records (
			id TEXT PRIMARY KEY,
			email_id TEXT NOT NULL,
			account_id TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			received_at TEXT NOT NULL DEFAULT '',
			embedding BLOB NOT NULL,
			score INTEGER NOT NULL,
			reasoning TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			analyzed_at TEXT NOT NULL DEFAULT '',
			user_validation TEXT NOT NULL DEFAULT 'unset',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_similarity_email_id ON similarity_records(email_id)`,
		`CREATE INDEX IF NOT EXISTS idx_similarity_account_id ON similarity_records(account_id)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create similarity schema: %w", err)
		}
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Dimension reads the width from the metadata table
func (s *SQLiteStore) Dimension(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM memory_meta WHERE key = ?`, dimensionKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
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

// EnsureSchema records the width on first use and rejects a different one later
func (s *SQLiteStore) EnsureSchema(ctx context.Context, dim int) error {
	current, err := s.Dimension(ctx)
	if err != nil {
		return err
	}
	if current == dim {
		return nil
	}
	if current != 0 {
		return &core.SchemaMismatchError{Expected: current, Actual: dim}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_meta (key, value) VALUES (?, ?)`, dimensionKey, strconv.Itoa(dim)); err != nil {
		return fmt.Errorf("failed to store embedding dimension: %w", err)
	}
	return nil
}

// Reset deletes every record and stores the new width in one transaction
func (s *SQLiteStore) Reset(ctx context.Context, dim int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM similarity_records`); err != nil {
		return fmt.Errorf("failed to delete similarity records: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_meta (key, value) VALUES (?, ?)`, dimensionKey, strconv.Itoa(dim)); err != nil {
		return fmt.Errorf("failed to store embedding dimension: %w", err)
	}
	return tx.Commit()
}

// Insert stores a record after checking its width
func (s *SQLiteStore) Insert(ctx context.Context, record *core.SimilarityRecord) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO similarity_records (
			id, email_id, account_id, subject, sender, body, received_at,
			embedding, score, reasoning, model, analyzed_at, user_validation, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, record.EmailID, record.AccountID, record.Subject, record.Sender, record.Body,
		formatTime(record.ReceivedAt), encodeVector(record.Embedding),
		record.Result.Score, record.Result.Reasoning, record.Result.Model, formatTime(record.Result.AnalyzedAt),
		string(validation), formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to insert similarity record: %w", err)
	}
	return nil
}

// Search loads the candidate rows and ranks them by cosine similarity
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int, accountID string) ([]core.SimilarityMatch, error) {
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

	query := `
		SELECT id, email_id, account_id, subject, sender, body, received_at,
		       embedding, score, reasoning, model, analyzed_at, user_validation, created_at
		FROM similarity_records`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query similarity records: %w", err)
	}
	defer rows.Close()

	var candidates []core.SimilarityRecord
	for rows.Next() {
		var rec core.SimilarityRecord
		var blob []byte
		var receivedAt, analyzedAt, createdAt, validation string
		if err := rows.Scan(
			&rec.ID, &rec.EmailID, &rec.AccountID, &rec.Subject, &rec.Sender, &rec.Body, &receivedAt,
			&blob, &rec.Result.Score, &rec.Result.Reasoning, &rec.Result.Model, &analyzedAt,
			&validation, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan similarity record: %w", err)
		}
		rec.Embedding = decodeVector(blob)
		if len(rec.Embedding) != dim {
			s.logger.Warn("Skipping similarity record with unexpected width",
				zap.String("id", rec.ID),
				zap.Int("width", len(rec.Embedding)))
			continue
		}
		rec.ReceivedAt = parseTime(receivedAt)
		rec.Result.AnalyzedAt = parseTime(analyzedAt)
		rec.CreatedAt = parseTime(createdAt)
		rec.UserValidation = core.UserValidation(validation)
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read similarity records: %w", err)
	}

	return rankMatches(vector, candidates, k), nil
}

// SetUserValidation updates the verdict on every record for emailID
func (s *SQLiteStore) SetUserValidation(ctx context.Context, emailID string, validation core.UserValidation) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE similarity_records SET user_validation = ? WHERE email_id = ?`, string(validation), emailID)
	if err != nil {
		return 0, fmt.Errorf("failed to update user validation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

// Count returns the number of stored records
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM similarity_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count similarity records: %w", err)
	}
	return n, nil
}

// Clear deletes every record and keeps the stored width
func (s *SQLiteStore) Clear(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM similarity_records`)
	if err != nil {
		return fmt.Errorf("failed to clear similarity records: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		s.logger.Debug("Cleared similarity records", zap.Int64("deleted", n))
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
