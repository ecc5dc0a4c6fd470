package dedup

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the DedupStore interface.
// Checksums do not survive a restart.
type MemoryStore struct {
	checksums map[string]struct{}
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewMemoryStore creates a new in-memory dedup store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		checksums: make(map[string]struct{}),
		logger:    logger,
	}
}

// Has reports whether the checksum was recorded
func (s *MemoryStore) Has(_ context.Context, checksum string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.checksums[checksum]
	return ok, nil
}

// Add records a checksum
func (s *MemoryStore) Add(_ context.Context, checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checksums[checksum] = struct{}{}
	return nil
}

// Clear removes every checksum
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Clearing dedup checksums", zap.Int("count", len(s.checksums)))
	s.checksums = make(map[string]struct{})
	return nil
}

// Len returns the number of recorded checksums
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checksums)
}
