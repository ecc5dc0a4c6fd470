package factory

import (
	"context"
	"fmt"

	"github.com/mikey/llm-mail-triage/internal/adapters/bedrock"
	"github.com/mikey/llm-mail-triage/internal/adapters/gemini"
	"github.com/mikey/llm-mail-triage/internal/adapters/openai"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// AIFactory creates AI backends
type AIFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewAIFactory creates a new AI factory
func NewAIFactory(cfg *config.Config, logger *zap.Logger) *AIFactory {
	return &AIFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateAIBackend creates the backend selected by ai.provider
func (f *AIFactory) CreateAIBackend(ctx context.Context) (core.AIBackend, error) {
	provider := f.cfg.GetAI().Provider
	f.logger.Info("Creating AI backend", zap.String("provider", provider))

	switch provider {
	case "openai":
		return openai.NewFactory(f.cfg, f.logger).CreateOpenAIClient()
	case "ollama":
		return openai.NewFactory(f.cfg, f.logger).CreateOllamaClient()
	case "gemini":
		return gemini.NewFactory(f.cfg, f.logger).CreateClient(ctx)
	case "bedrock":
		return bedrock.NewFactory(f.cfg, f.logger).CreateClient(ctx)
	default:
		return nil, &core.ConfigurationError{
			Key:    "ai.provider",
			Reason: fmt.Sprintf("unsupported AI provider %q", provider),
		}
	}
}
