package vectorstore

import (
	"context"
	"sync"

	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-process implementation of the VectorStore interface.
// Records are lost on exit.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   []core.SimilarityRecord
	logger    *zap.Logger
}

// NewMemoryStore creates a new in-memory vector store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{logger: logger}
}

// Dimension returns the schema width, 0 before EnsureSchema
func (s *MemoryStore) Dimension(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension, nil
}

// EnsureSchema fixes the width on first use
func (s *MemoryStore) EnsureSchema(_ context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		s.dimension = dim
		return nil
	}
	if s.dimension != dim {
		return &core.SchemaMismatchError{Expected: s.dimension, Actual: dim}
	}
	return nil
}

// Reset drops every record and adopts a new width
func (s *MemoryStore) Reset(_ context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.dimension = dim
	return nil
}

// Insert stores a copy of the record
func (s *MemoryStore) Insert(_ context.Context, record *core.SimilarityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		return ErrSchemaNotInitialised
	}
	if len(record.Embedding) != s.dimension {
		return &core.SchemaMismatchError{Expected: s.dimension, Actual: len(record.Embedding)}
	}

	rec := *record
	rec.Embedding = append([]float32(nil), record.Embedding...)
	if rec.UserValidation == "" {
		rec.UserValidation = core.ValidationUnset
	}
	s.records = append(s.records, rec)
	return nil
}

// Search scans every record linearly
func (s *MemoryStore) Search(_ context.Context, vector []float32, k int, accountID string) ([]core.SimilarityMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.records) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, &core.SchemaMismatchError{Expected: s.dimension, Actual: len(vector)}
	}

	candidates := make([]core.SimilarityRecord, 0, len(s.records))
	for _, rec := range s.records {
		if accountID == "" || rec.AccountID == accountID {
			candidates = append(candidates, rec)
		}
	}
	return rankMatches(vector, candidates, k), nil
}

// SetUserValidation updates every record stored for emailID
func (s *MemoryStore) SetUserValidation(_ context.Context, emailID string, validation core.UserValidation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := 0
	for i := range s.records {
		if s.records[i].EmailID == emailID {
			s.records[i].UserValidation = validation
			updated++
		}
	}
	return updated, nil
}

// Count returns the number of records
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Clear removes all records and keeps the width
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Debug("Clearing in-memory vector store", zap.Int("records", len(s.records)))
	s.records = nil
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
