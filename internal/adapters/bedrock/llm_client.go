package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/goccy/go-json"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

const (
	backendName      = "bedrock"
	anthropicVersion = "bedrock-2023-05-31"
)

// InvokeAPI is the part of the Bedrock runtime client the backend uses
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockClient is an implementation of the AIBackend interface using Amazon Bedrock
type BedrockClient struct {
	client      InvokeAPI
	models      []string
	maxTokens   int
	temperature float32
	logger      *zap.Logger
}

// NewBedrockClient creates a new Bedrock client. models is what ListModels
// reports, since the runtime API cannot enumerate foundation models.
func NewBedrockClient(
	client InvokeAPI,
	models []string,
	maxTokens int,
	temperature float32,
	logger *zap.Logger,
) *BedrockClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BedrockClient{
		client:      client,
		models:      models,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

func isAnthropicModel(modelID string) bool {
	return strings.Contains(modelID, "anthropic.")
}

func isAmazonTitanModel(modelID string) bool {
	return strings.Contains(modelID, "amazon.titan")
}

func isCohereModel(modelID string) bool {
	return strings.Contains(modelID, "cohere.")
}

// SendMessage invokes the model with a body shaped for its family
func (c *BedrockClient) SendMessage(ctx context.Context, prompt string, modelID string) (string, error) {
	payload, err := c.chatPayload(prompt, modelID)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	body, err := c.invoke(ctx, modelID, payload, "invoke model")
	if err != nil {
		return "", err
	}

	text, err := chatResponseText(modelID, body)
	if err != nil {
		return "", &core.TransientBackendError{Backend: backendName, Op: "invoke model", Err: err}
	}

	c.logger.Debug("Bedrock response received",
		zap.String("model", modelID),
		zap.Int("response_size", len(body)))
	return text, nil
}

// ListModels returns the configured model IDs
func (c *BedrockClient) ListModels(ctx context.Context) ([]string, error) {
	return append([]string(nil), c.models...), nil
}

// GenerateEmbedding invokes a Titan or Cohere embedding model
func (c *BedrockClient) GenerateEmbedding(ctx context.Context, text string, modelID string) ([]float32, error) {
	var payload []byte
	var err error
	if isCohereModel(modelID) {
		payload, err = json.Marshal(map[string]interface{}{
			"texts":      []string{text},
			"input_type": "search_document",
		})
	} else {
		payload, err = json.Marshal(map[string]interface{}{
			"inputText": text,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding payload: %w", err)
	}

	body, err := c.invoke(ctx, modelID, payload, "embedding")
	if err != nil {
		return nil, err
	}

	vec, err := embeddingFromResponse(modelID, body)
	if err != nil {
		return nil, &core.TransientBackendError{Backend: backendName, Op: "embedding", Err: err}
	}
	return vec, nil
}

func (c *BedrockClient) invoke(ctx context.Context, modelID string, payload []byte, op string) ([]byte, error) {
	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, &core.TransientBackendError{Backend: backendName, Op: op, Err: err}
	}
	return resp.Body, nil
}

func (c *BedrockClient) chatPayload(prompt string, modelID string) ([]byte, error) {
	switch {
	case isAnthropicModel(modelID):
		return json.Marshal(map[string]interface{}{
			"anthropic_version": anthropicVersion,
			"max_tokens":        c.maxTokens,
			"temperature":       c.temperature,
			"messages": []map[string]interface{}{
				{
					"role": "user",
					"content": []map[string]string{
						{"type": "text", "text": prompt},
					},
				},
			},
		})
	case isAmazonTitanModel(modelID):
		return json.Marshal(map[string]interface{}{
			"inputText": prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": c.maxTokens,
				"temperature":   c.temperature,
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"prompt":      prompt,
			"max_tokens":  c.maxTokens,
			"temperature": c.temperature,
		})
	}
}

func chatResponseText(modelID string, body []byte) (string, error) {
	switch {
	case isAnthropicModel(modelID):
		var claudeResp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		var sb strings.Builder
		for _, block := range claudeResp.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", errors.New("empty response from Claude model")
		}
		return sb.String(), nil

	case isAmazonTitanModel(modelID):
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", errors.New("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil

	default:
		var genericResp struct {
			Output     string `json:"output"`
			Text       string `json:"text"`
			Response   string `json:"response"`
			Generation string `json:"generation"`
		}
		if err := json.Unmarshal(body, &genericResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		for _, s := range []string{genericResp.Output, genericResp.Text, genericResp.Response, genericResp.Generation} {
			if s != "" {
				return s, nil
			}
		}
		return string(body), nil
	}
}

func embeddingFromResponse(modelID string, body []byte) ([]float32, error) {
	if isCohereModel(modelID) {
		var cohereResp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := json.Unmarshal(body, &cohereResp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal Cohere embedding: %w", err)
		}
		if len(cohereResp.Embeddings) == 0 || len(cohereResp.Embeddings[0]) == 0 {
			return nil, errors.New("no embedding returned")
		}
		return cohereResp.Embeddings[0], nil
	}

	var titanResp struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(body, &titanResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal Titan embedding: %w", err)
	}
	if len(titanResp.Embedding) == 0 {
		return nil, errors.New("no embedding returned")
	}
	return titanResp.Embedding, nil
}
