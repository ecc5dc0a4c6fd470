package bedrock

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/goccy/go-json"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap/zaptest"
)

type stubRuntime struct {
	body    []byte
	err     error
	payload map[string]interface{}
	modelID string
}

func (s *stubRuntime) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	s.modelID = *in.ModelId
	s.payload = map[string]interface{}{}
	if err := json.Unmarshal(in.Body, &s.payload); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: s.body}, nil
}

func TestSendMessageAnthropic(t *testing.T) {
	stub := &stubRuntime{body: []byte(`{"content":[{"type":"text","text":"{\"score\":8,\"reasoning\":\"phishing\"}"}]}`)}
	client := NewBedrockClient(stub, nil, 200, 0.1, zaptest.NewLogger(t))

	text, err := client.SendMessage(context.Background(), "classify", "anthropic.claude-3-haiku-20240307-v1:0")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if text != `{"score":8,"reasoning":"phishing"}` {
		t.Errorf("text = %q", text)
	}
	if stub.payload["anthropic_version"] != anthropicVersion {
		t.Errorf("payload missing anthropic_version: %v", stub.payload)
	}
	if _, ok := stub.payload["messages"]; !ok {
		t.Errorf("payload missing messages: %v", stub.payload)
	}
}

func TestChatResponseText(t *testing.T) {
	tests := []struct {
		name    string
		modelID string
		body    string
		want    string
		wantErr bool
	}{
		{"titan", "amazon.titan-text-express-v1", `{"results":[{"outputText":"hi"}]}`, "hi", false},
		{"titan empty", "amazon.titan-text-express-v1", `{"results":[]}`, "", true},
		{"generic generation", "meta.llama3-8b-instruct-v1:0", `{"generation":"ok"}`, "ok", false},
		{"generic raw", "mistral.mistral-7b", `{"other":1}`, `{"other":1}`, false},
		{"claude no text", "anthropic.claude-v2", `{"content":[]}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chatResponseText(tt.modelID, []byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateEmbedding(t *testing.T) {
	stub := &stubRuntime{body: []byte(`{"embedding":[0.5,0.25],"inputTextTokenCount":2}`)}
	client := NewBedrockClient(stub, nil, 0, 0, nil)

	vec, err := client.GenerateEmbedding(context.Background(), "hello", "amazon.titan-embed-text-v2:0")
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("vec = %v", vec)
	}
	if stub.payload["inputText"] != "hello" {
		t.Errorf("payload = %v", stub.payload)
	}

	stub.body = []byte(`{"embeddings":[[1,2,3]]}`)
	vec, err = client.GenerateEmbedding(context.Background(), "hello", "cohere.embed-english-v3")
	if err != nil || len(vec) != 3 {
		t.Fatalf("cohere embedding = %v, %v", vec, err)
	}
}

func TestInvokeErrorIsTransient(t *testing.T) {
	stub := &stubRuntime{err: errors.New("throttled")}
	client := NewBedrockClient(stub, []string{"a", "b"}, 0, 0, nil)

	_, err := client.SendMessage(context.Background(), "x", "anthropic.claude-v2")
	var transient *core.TransientBackendError
	if !errors.As(err, &transient) || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected transient error, got %v", err)
	}

	models, _ := client.ListModels(context.Background())
	if len(models) != 2 {
		t.Errorf("models = %v", models)
	}
}
