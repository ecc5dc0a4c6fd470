package bedrock

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/llm-mail-triage/internal/config"
	"go.uber.org/zap"
)

// Factory creates Bedrock clients
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new Bedrock factory
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateClient creates a new Bedrock client
func (f *Factory) CreateClient(ctx context.Context) (*BedrockClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(f.cfg.GetBedrock().Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	aiCfg := f.cfg.GetAI()
	var models []string
	for _, m := range []string{aiCfg.ChatModel, aiCfg.EmbeddingModel} {
		if m != "" {
			models = append(models, m)
		}
	}

	return NewBedrockClient(
		bedrockruntime.NewFromConfig(awsCfg),
		models,
		aiCfg.MaxTokens,
		aiCfg.Temperature,
		f.logger,
	), nil
}
