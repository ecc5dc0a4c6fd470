package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const backendName = "gemini"

// GeminiClient is an implementation of the AIBackend interface using Google Gemini
type GeminiClient struct {
	client      *genai.Client
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(
	ctx context.Context,
	apiKey string,
	maxTokens int,
	temperature float32,
	logger *zap.Logger,
) (*GeminiClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:      client,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}, nil
}

// Close closes the Gemini client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// SendMessage generates content for the prompt and returns the reply text
func (c *GeminiClient) SendMessage(ctx context.Context, prompt string, modelID string) (string, error) {
	model := c.client.GenerativeModel(modelID)
	model.SetTemperature(c.temperature)
	if c.maxTokens > 0 {
		model.SetMaxOutputTokens(int32(c.maxTokens))
	}
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", &core.TransientBackendError{Backend: backendName, Op: "generate content", Err: err}
	}

	text := responseText(resp)
	if text == "" {
		return "", &core.TransientBackendError{Backend: backendName, Op: "generate content", Err: errors.New("empty response")}
	}
	return text, nil
}

// ListModels returns the models available to the API key, without the
// "models/" prefix
func (c *GeminiClient) ListModels(ctx context.Context) ([]string, error) {
	var models []string
	it := c.client.ListModels(ctx)
	for {
		info, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &core.TransientBackendError{Backend: backendName, Op: "list models", Err: err}
		}
		models = append(models, strings.TrimPrefix(info.Name, "models/"))
	}
	return models, nil
}

// GenerateEmbedding returns the embedding vector for text
func (c *GeminiClient) GenerateEmbedding(ctx context.Context, text string, modelID string) ([]float32, error) {
	em := c.client.EmbeddingModel(modelID)
	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, &core.TransientBackendError{Backend: backendName, Op: "embedding", Err: err}
	}
	if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
		return nil, &core.TransientBackendError{Backend: backendName, Op: "embedding", Err: errors.New("no embedding returned")}
	}
	return resp.Embedding.Values, nil
}

// responseText joins the text parts of the first candidate
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}
