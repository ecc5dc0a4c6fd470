package factory

import (
	"github.com/mikey/llm-mail-triage/internal/classifier"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/utils"
	"go.uber.org/zap"
)

// ClassifierFactory builds the classifier from the triage and AI settings
type ClassifierFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewClassifierFactory creates a new classifier factory
func NewClassifierFactory(cfg *config.Config, logger *zap.Logger) *ClassifierFactory {
	return &ClassifierFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateClassifier creates a classifier that talks to ai
func (f *ClassifierFactory) CreateClassifier(ai core.AIBackend, textProcessor *utils.TextProcessor) (*classifier.Classifier, error) {
	triage, err := f.cfg.GetTriage()
	if err != nil {
		return nil, err
	}

	return classifier.New(ai, textProcessor, classifier.Settings{
		ChatModel:            f.cfg.GetAI().ChatModel,
		SensitivityThreshold: triage.SensitivityThreshold,
		SimplifyContent:      triage.SimplifyContent,
		MaxBodySize:          triage.MaxBodySize,
		MaxAttempts:          triage.MaxAttempts,
		RetryDelay:           triage.RetryDelay,
	}, f.logger.Named("classifier"))
}
