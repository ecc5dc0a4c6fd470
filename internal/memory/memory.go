package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/utils"
	"go.uber.org/zap"
)

// ErrDisabled is returned by management operations when similarity memory is off
var ErrDisabled = errors.New("similarity memory is disabled")

// storedBodyChars bounds the body excerpt kept alongside each record
const storedBodyChars = 2000

const probeText = "embedding dimension probe"

// Settings configures the similarity memory
type Settings struct {
	EmbeddingModel string
	// ContextTokens overrides the model lookup table when positive
	ContextTokens int
	TopK          int
}

// Service embeds classified emails and retrieves similar ones for future
// prompts. A nil *Service is a valid, disabled memory.
type Service struct {
	ai            core.AIBackend
	store         core.VectorStore
	textProcessor *utils.TextProcessor
	settings      Settings
	logger        *zap.Logger

	mu        sync.Mutex
	dimension int
	ready     bool
}

// New creates the similarity memory service
func New(ai core.AIBackend, store core.VectorStore, textProcessor *utils.TextProcessor, settings Settings, logger *zap.Logger) (*Service, error) {
	if settings.EmbeddingModel == "" {
		return nil, &core.ConfigurationError{Key: "ai.embedding_model", Reason: "similarity memory needs an embedding model"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if textProcessor == nil {
		textProcessor = utils.NewTextProcessor(logger)
	}
	if settings.TopK <= 0 {
		settings.TopK = 5
	}
	return &Service{
		ai:            ai,
		store:         store,
		textProcessor: textProcessor,
		settings:      settings,
		logger:        logger.Named("memory"),
	}, nil
}

// Enabled reports whether the memory is active
func (s *Service) Enabled() bool {
	return s != nil
}

// TopK returns the default number of neighbours retrieved per email
func (s *Service) TopK() int {
	if s == nil {
		return 0
	}
	return s.settings.TopK
}

// Init probes the embedding width and reconciles it with the stored schema.
// Empty storage adopts the probed width; a different stored width is a
// SchemaMismatchError that only Rebuild resolves.
func (s *Service) Init(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx)
}

func (s *Service) initLocked(ctx context.Context) error {
	if s.ready {
		return nil
	}

	dim, err := s.probeLocked(ctx)
	if err != nil {
		return err
	}

	stored, err := s.store.Dimension(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stored embedding dimension: %w", err)
	}
	if stored != 0 && stored != dim {
		s.logger.Warn("Embedding model output width differs from stored vectors; a confirmed rebuild is required",
			zap.String("model", s.settings.EmbeddingModel),
			zap.Int("stored_dimension", stored),
			zap.Int("model_dimension", dim))
		return &core.SchemaMismatchError{Expected: stored, Actual: dim}
	}
	if err := s.store.EnsureSchema(ctx, dim); err != nil {
		return err
	}

	s.ready = true
	s.logger.Info("Similarity memory ready",
		zap.String("model", s.settings.EmbeddingModel),
		zap.Int("dimension", dim))
	return nil
}

// probeLocked embeds a fixed string once and caches the vector width
func (s *Service) probeLocked(ctx context.Context) (int, error) {
	if s.dimension > 0 {
		return s.dimension, nil
	}
	vec, err := s.ai.GenerateEmbedding(ctx, probeText, s.settings.EmbeddingModel)
	if err != nil {
		return 0, &core.TransientBackendError{Backend: "embedding", Op: "probe dimension", Err: err}
	}
	if len(vec) == 0 {
		return 0, fmt.Errorf("embedding model %q returned an empty vector", s.settings.EmbeddingModel)
	}
	s.dimension = len(vec)
	return s.dimension, nil
}

// Rebuild discards every stored record and recreates storage for the current
// embedding model. It refuses to run without confirmation.
func (s *Service) Rebuild(ctx context.Context, confirm bool) error {
	if s == nil {
		return ErrDisabled
	}
	if !confirm {
		return core.ErrRebuildNotConfirmed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.dimension = 0
	s.ready = false
	dim, err := s.probeLocked(ctx)
	if err != nil {
		return err
	}

	discarded, err := s.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count similarity records: %w", err)
	}
	s.logger.Warn("Rebuilding similarity memory; existing records are discarded",
		zap.Int("discarded_records", discarded),
		zap.Int("dimension", dim),
		zap.String("model", s.settings.EmbeddingModel))

	if err := s.store.Reset(ctx, dim); err != nil {
		return fmt.Errorf("failed to reset similarity storage: %w", err)
	}
	s.ready = true
	return nil
}

func (s *Service) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initLocked(ctx)
}

// Insert embeds a classified email and stores it for later retrieval
func (s *Service) Insert(ctx context.Context, email *core.Email, result *core.ClassificationResult) error {
	if s == nil {
		return nil
	}
	if err := s.ensureReady(ctx); err != nil {
		return err
	}

	vec, err := s.embed(ctx, EmbeddingText(email.Subject, email.Sender(), s.bodyOf(email)))
	if err != nil {
		return err
	}

	record := &core.SimilarityRecord{
		ID:             uuid.NewString(),
		EmailID:        email.ID,
		AccountID:      email.AccountID,
		Subject:        email.Subject,
		Sender:         email.Sender(),
		Body:           s.textProcessor.TruncateRunes(s.bodyOf(email), storedBodyChars),
		ReceivedAt:     email.ReceivedAt,
		Embedding:      vec,
		Result:         *result,
		UserValidation: core.ValidationUnset,
		CreatedAt:      time.Now(),
	}
	if err := s.store.Insert(ctx, record); err != nil {
		return fmt.Errorf("failed to store similarity record: %w", err)
	}

	s.logger.Debug("Stored similarity record",
		zap.String("email_id", email.ID),
		zap.Int("score", result.Score))
	return nil
}

// Search returns up to k stored classifications closest to queryText,
// optionally limited to one account. It never fails: an embedding outage,
// empty storage or a width mismatch all yield no context.
func (s *Service) Search(ctx context.Context, queryText string, k int, accountID string) []core.SimilarityMatch {
	if s == nil {
		return nil
	}
	if k <= 0 {
		k = s.settings.TopK
	}

	if err := s.ensureReady(ctx); err != nil {
		s.logger.Warn("Similarity memory unavailable, classifying without context", zap.Error(err))
		return nil
	}

	count, err := s.store.Count(ctx)
	if err != nil {
		s.logger.Warn("Failed to count similarity records", zap.Error(err))
		return nil
	}
	if count == 0 {
		return nil
	}

	vec, err := s.embed(ctx, queryText)
	if err != nil {
		s.logger.Warn("Embedding backend unavailable, classifying without context", zap.Error(err))
		return nil
	}

	matches, err := s.store.Search(ctx, vec, k, accountID)
	if err != nil {
		s.logger.Warn("Similarity search failed", zap.Error(err))
		return nil
	}
	return matches
}

// SearchForEmail retrieves context for an email about to be classified
func (s *Service) SearchForEmail(ctx context.Context, email *core.Email) []core.SimilarityMatch {
	if s == nil {
		return nil
	}
	return s.Search(ctx, EmbeddingText(email.Subject, email.Sender(), s.bodyOf(email)), s.settings.TopK, "")
}

// SetUserValidation records a human verdict. Scores and reasoning are never changed.
func (s *Service) SetUserValidation(ctx context.Context, emailID string, validation core.UserValidation) (int, error) {
	if s == nil {
		return 0, ErrDisabled
	}
	n, err := s.store.SetUserValidation(ctx, emailID, validation)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Updated user validation",
		zap.String("email_id", emailID),
		zap.String("validation", string(validation)),
		zap.Int("records", n))
	return n, nil
}

// ClearAll deletes every stored record
func (s *Service) ClearAll(ctx context.Context) error {
	if s == nil {
		return ErrDisabled
	}
	return s.store.Clear(ctx)
}

// Count returns the number of stored records
func (s *Service) Count(ctx context.Context) (int, error) {
	if s == nil {
		return 0, nil
	}
	return s.store.Count(ctx)
}

// Close releases the vector store
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.store.Close()
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	text = s.textProcessor.TruncateRunes(text, CharBudget(s.contextTokens()))
	vec, err := s.ai.GenerateEmbedding(ctx, text, s.settings.EmbeddingModel)
	if err != nil {
		return nil, &core.TransientBackendError{Backend: "embedding", Op: "generate embedding", Err: err}
	}
	return vec, nil
}

func (s *Service) contextTokens() int {
	if s.settings.ContextTokens > 0 {
		return s.settings.ContextTokens
	}
	return ContextWindow(s.settings.EmbeddingModel)
}

func (s *Service) bodyOf(email *core.Email) string {
	if email.Body == "" && email.HTMLBody != "" {
		return s.textProcessor.SimplifyHTML(email.HTMLBody)
	}
	return email.Body
}

// EmbeddingText is the text embedded for an email, both when storing and when querying
func EmbeddingText(subject, sender, body string) string {
	var sb strings.Builder
	sb.WriteString("Subject: ")
	sb.WriteString(subject)
	sb.WriteString("\nFrom: ")
	sb.WriteString(sender)
	sb.WriteString("\n\n")
	sb.WriteString(strings.TrimSpace(body))
	return sb.String()
}
