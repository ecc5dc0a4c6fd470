package openai

import (
	"fmt"

	"github.com/mikey/llm-mail-triage/internal/config"
	"go.uber.org/zap"
)

// Factory creates new instances of Client
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new factory for Client instances
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateOpenAIClient creates a client for the hosted OpenAI API
func (f *Factory) CreateOpenAIClient() (*Client, error) {
	openaiCfg := f.cfg.GetOpenAI()
	if openaiCfg.APIKey == "" && openaiCfg.BaseURL == "" {
		return nil, fmt.Errorf("openai API key is required")
	}

	aiCfg := f.cfg.GetAI()
	return NewClient("openai", openaiCfg.APIKey, openaiCfg.BaseURL, aiCfg.MaxTokens, aiCfg.Temperature, f.logger), nil
}

// CreateOllamaClient creates a client for a local Ollama server
func (f *Factory) CreateOllamaClient() (*Client, error) {
	ollamaCfg := f.cfg.GetOllama()
	aiCfg := f.cfg.GetAI()
	return NewClient("ollama", ollamaCfg.APIKey, ollamaCfg.BaseURL, aiCfg.MaxTokens, aiCfg.Temperature, f.logger), nil
}
