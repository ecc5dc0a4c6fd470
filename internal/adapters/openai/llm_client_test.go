package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"model":"llama3"`) {
			http.Error(w, `{"error":{"message":"unknown model"}}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"score\":4,\"reasoning\":\"newsletter\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"llama3","object":"model"},{"id":"nomic-embed-text","object":"model"}]}`)
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.25,-0.5,1]}],"model":"nomic-embed-text"}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClient(t *testing.T) {
	server := newTestServer(t)
	client := NewClient("ollama", "ollama", server.URL+"/v1", 100, 0.1, zaptest.NewLogger(t))
	ctx := context.Background()

	reply, err := client.SendMessage(ctx, "classify this", "llama3")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply != `{"score":4,"reasoning":"newsletter"}` {
		t.Errorf("reply = %q", reply)
	}

	models, err := client.ListModels(ctx)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3" {
		t.Errorf("models = %v", models)
	}

	vec, err := client.GenerateEmbedding(ctx, "hello", "nomic-embed-text")
	if err != nil {
		t.Fatalf("GenerateEmbedding: %v", err)
	}
	if len(vec) != 3 || vec[1] != -0.5 {
		t.Errorf("embedding = %v", vec)
	}
}

func TestClientErrorsAreTransient(t *testing.T) {
	server := newTestServer(t)
	client := NewClient("ollama", "ollama", server.URL+"/v1", 100, 0.1, nil)

	_, err := client.SendMessage(context.Background(), "classify this", "missing-model")
	var transient *core.TransientBackendError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientBackendError, got %v", err)
	}
	if transient.Backend != "ollama" {
		t.Errorf("backend = %q", transient.Backend)
	}
}
