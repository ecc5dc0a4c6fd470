package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/utils"
	"go.uber.org/zap"
)

// Settings controls prompt construction and the retry budget
type Settings struct {
	ChatModel            string
	SensitivityThreshold int
	SimplifyContent      bool
	MaxBodySize          int
	MaxAttempts          int
	RetryDelay           time.Duration
}

// Classifier scores emails with an AI backend
type Classifier struct {
	ai            core.AIBackend
	textProcessor *utils.TextProcessor
	settings      Settings
	logger        *zap.Logger
}

// New creates a classifier. It fails when no chat model is configured.
func New(ai core.AIBackend, textProcessor *utils.TextProcessor, settings Settings, logger *zap.Logger) (*Classifier, error) {
	if settings.ChatModel == "" {
		return nil, &core.ConfigurationError{Key: "ai.chat_model", Reason: "no chat model selected"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if textProcessor == nil {
		textProcessor = utils.NewTextProcessor(logger)
	}
	if settings.MaxAttempts < 1 {
		settings.MaxAttempts = 3
	}

	return &Classifier{
		ai:            ai,
		textProcessor: textProcessor,
		settings:      settings,
		logger:        logger,
	}, nil
}

// Threshold returns the sensitivity threshold verdicts are judged against
func (c *Classifier) Threshold() int {
	return c.settings.SensitivityThreshold
}

// Classify scores an email. Each attempt is a fresh backend call; a backend
// failure and an unusable response both consume one attempt.
func (c *Classifier) Classify(
	ctx context.Context,
	email *core.Email,
	rules []core.Rule,
	similar []core.SimilarityMatch,
	guidelines string,
) (*core.ClassificationResult, error) {
	prompt := BuildPrompt(PromptInput{
		Email:      email,
		Body:       c.prepareBody(email),
		Rules:      rules,
		Similar:    similar,
		Guidelines: guidelines,
		Threshold:  c.settings.SensitivityThreshold,
	})

	var lastErr error
	for attempt := 1; attempt <= c.settings.MaxAttempts; attempt++ {
		if attempt > 1 && c.settings.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", core.ErrClassificationFailed, ctx.Err())
			case <-time.After(c.settings.RetryDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrClassificationFailed, err)
		}

		result, err := c.attempt(ctx, prompt)
		if err == nil {
			c.logger.Debug("Email classified",
				zap.String("email_id", email.ID),
				zap.Int("score", result.Score),
				zap.Int("attempt", attempt))
			return result, nil
		}

		lastErr = err
		c.logger.Warn("Classification attempt failed",
			zap.String("email_id", email.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.settings.MaxAttempts),
			zap.Error(err))

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", core.ErrClassificationFailed, c.settings.MaxAttempts, lastErr)
}

func (c *Classifier) attempt(ctx context.Context, prompt string) (*core.ClassificationResult, error) {
	raw, err := c.ai.SendMessage(ctx, prompt, c.settings.ChatModel)
	if err != nil {
		var transient *core.TransientBackendError
		if errors.As(err, &transient) {
			return nil, err
		}
		return nil, &core.TransientBackendError{Backend: "ai", Op: "send message", Err: err}
	}

	result, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	result.Model = c.settings.ChatModel
	return result, nil
}

// prepareBody picks the plain or simplified body and applies the size limit
func (c *Classifier) prepareBody(email *core.Email) string {
	body := email.Body
	if c.settings.SimplifyContent {
		switch {
		case email.HTMLBody != "":
			body = c.textProcessor.SimplifyHTML(email.HTMLBody)
		case utils.LooksLikeHTML(body):
			body = c.textProcessor.SimplifyHTML(body)
		}
	}
	return c.textProcessor.ProcessText(body, c.settings.MaxBodySize)
}
