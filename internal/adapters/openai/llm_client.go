package openai

import (
	"context"
	"fmt"

	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const systemPrompt = "You are an email spam classifier. Respond only with JSON."

// Client is an implementation of the AIBackend interface for the OpenAI API
// and any server exposing an OpenAI-compatible endpoint (Ollama, vLLM)
type Client struct {
	client      *openai.Client
	name        string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewClient creates a new OpenAI-compatible client. An empty baseURL selects
// the hosted OpenAI API.
func NewClient(
	name string,
	apiKey string,
	baseURL string,
	maxTokens int,
	temperature float32,
	logger *zap.Logger,
) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &Client{
		client:      openai.NewClientWithConfig(cfg),
		name:        name,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// SendMessage sends the prompt as a chat completion and returns the reply text
func (c *Client) SendMessage(ctx context.Context, prompt string, modelID string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: modelID,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", &core.TransientBackendError{Backend: c.name, Op: "chat completion", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &core.TransientBackendError{Backend: c.name, Op: "chat completion", Err: fmt.Errorf("empty response")}
	}

	c.logger.Debug("Chat completion received",
		zap.String("backend", c.name),
		zap.String("model", modelID),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return resp.Choices[0].Message.Content, nil
}

// ListModels returns the model IDs the server reports
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, &core.TransientBackendError{Backend: c.name, Op: "list models", Err: err}
	}

	models := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, m.ID)
	}
	return models, nil
}

// GenerateEmbedding returns the embedding vector for text
func (c *Client) GenerateEmbedding(ctx context.Context, text string, modelID string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(modelID),
	})
	if err != nil {
		return nil, &core.TransientBackendError{Backend: c.name, Op: "embedding", Err: err}
	}
	if len(resp.Data) == 0 {
		return nil, &core.TransientBackendError{Backend: c.name, Op: "embedding", Err: fmt.Errorf("no embedding returned")}
	}
	return resp.Data[0].Embedding, nil
}
