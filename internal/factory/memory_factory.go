package factory

import (
	"context"
	"fmt"

	"github.com/mikey/llm-mail-triage/internal/adapters/vectorstore"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/memory"
	"github.com/mikey/llm-mail-triage/internal/utils"
	"go.uber.org/zap"
)

// MemoryFactory creates the vector store and the similarity memory on top of it
type MemoryFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMemoryFactory creates a new memory factory
func NewMemoryFactory(cfg *config.Config, logger *zap.Logger) *MemoryFactory {
	return &MemoryFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateVectorStore creates the store selected by memory.store
func (f *MemoryFactory) CreateVectorStore(ctx context.Context) (core.VectorStore, error) {
	memCfg := f.cfg.GetMemory()

	switch memCfg.Store {
	case "memory":
		return vectorstore.NewMemoryStore(f.logger), nil
	case "sqlite":
		if err := ensureDir(memCfg.SQLitePath); err != nil {
			return nil, err
		}
		return vectorstore.NewSQLiteStore(memCfg.SQLitePath, f.logger)
	case "postgres":
		return vectorstore.NewPostgresStore(ctx, memCfg.PostgresDSN, memCfg.IndexThreshold, f.logger)
	default:
		return nil, &core.ConfigurationError{
			Key:    "memory.store",
			Reason: fmt.Sprintf("unsupported vector store %q", memCfg.Store),
		}
	}
}

// CreateMemoryService returns the similarity memory, or nil when memory is
// disabled. A nil service is a valid no-op.
func (f *MemoryFactory) CreateMemoryService(ctx context.Context, ai core.AIBackend, textProcessor *utils.TextProcessor) (*memory.Service, error) {
	memCfg := f.cfg.GetMemory()
	if !memCfg.Enabled {
		f.logger.Info("Similarity memory disabled")
		return nil, nil
	}

	store, err := f.CreateVectorStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	svc, err := memory.New(ai, store, textProcessor, memory.Settings{
		EmbeddingModel: f.cfg.GetAI().EmbeddingModel,
		ContextTokens:  memCfg.EmbeddingContextTokens,
		TopK:           memCfg.TopK,
	}, f.logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return svc, nil
}
