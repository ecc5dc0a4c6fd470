package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

// scriptedBackend replays canned responses in order
type scriptedBackend struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (b *scriptedBackend) SendMessage(_ context.Context, prompt string, _ string) (string, error) {
	i := b.calls
	b.calls++
	b.prompts = append(b.prompts, prompt)
	if i < len(b.errs) && b.errs[i] != nil {
		return "", b.errs[i]
	}
	if i < len(b.responses) {
		return b.responses[i], nil
	}
	return b.responses[len(b.responses)-1], nil
}

func (b *scriptedBackend) ListModels(context.Context) ([]string, error) {
	return []string{"test-model"}, nil
}

func (b *scriptedBackend) GenerateEmbedding(context.Context, string, string) ([]float32, error) {
	return nil, errors.New("not supported")
}

func newTestClassifier(t *testing.T, backend core.AIBackend) *Classifier {
	t.Helper()
	c, err := New(backend, nil, Settings{
		ChatModel:            "test-model",
		SensitivityThreshold: 7,
		SimplifyContent:      true,
		MaxBodySize:          4000,
		MaxAttempts:          3,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func testEmail() *core.Email {
	return &core.Email{
		ID:         "m1",
		AccountID:  "acct-1",
		Subject:    "You won a prize",
		FromName:   "Lottery",
		FromAddr:   "win@lottery.example",
		Body:       "Claim your prize now",
		ReceivedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestClassifySucceedsOnThirdAttempt(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"I think this is spam",
		"sorry, cannot comply",
		`Here you go: {"score":9,"reasoning":"prize scam"} hope it helps`,
	}}
	c := newTestClassifier(t, backend)

	result, err := c.Classify(context.Background(), testEmail(), nil, nil, "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Score != 9 {
		t.Errorf("score = %d, want 9", result.Score)
	}
	if result.Reasoning != "prize scam" {
		t.Errorf("reasoning = %q", result.Reasoning)
	}
	if result.Model != "test-model" {
		t.Errorf("model = %q", result.Model)
	}
	if backend.calls != 3 {
		t.Errorf("backend calls = %d, want 3", backend.calls)
	}
}

func TestClassifyFailsAfterMaxAttempts(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"not json at all"}}
	c := newTestClassifier(t, backend)

	_, err := c.Classify(context.Background(), testEmail(), nil, nil, "")
	if !errors.Is(err, core.ErrClassificationFailed) {
		t.Fatalf("expected ErrClassificationFailed, got %v", err)
	}
	var malformed *core.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Errorf("expected the last MalformedResponseError in the chain, got %v", err)
	}
	if backend.calls != 3 {
		t.Errorf("backend calls = %d, want 3", backend.calls)
	}
}

func TestClassifyBackendErrorsAreRetried(t *testing.T) {
	backend := &scriptedBackend{
		errs:      []error{errors.New("connection refused"), nil},
		responses: []string{"", `{"score": 2, "reasoning": "newsletter"}`},
	}
	c := newTestClassifier(t, backend)

	result, err := c.Classify(context.Background(), testEmail(), nil, nil, "")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Score != 2 || backend.calls != 2 {
		t.Errorf("score=%d calls=%d, want 2 and 2", result.Score, backend.calls)
	}
}

func TestClassifyAllBackendErrors(t *testing.T) {
	boom := errors.New("timeout")
	backend := &scriptedBackend{errs: []error{boom, boom, boom}, responses: []string{""}}
	c := newTestClassifier(t, backend)

	_, err := c.Classify(context.Background(), testEmail(), nil, nil, "")
	var transient *core.TransientBackendError
	if !errors.As(err, &transient) {
		t.Fatalf("expected TransientBackendError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected original error in chain")
	}
}

func TestClassifyStopsOnCancelledContext(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"score":1}`}}
	c := newTestClassifier(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, testEmail(), nil, nil, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if backend.calls != 0 {
		t.Errorf("backend calls = %d, want 0", backend.calls)
	}
}

func TestNewRequiresChatModel(t *testing.T) {
	_, err := New(&scriptedBackend{}, nil, Settings{}, nil)
	var cfgErr *core.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantScore int
		wantErr   bool
	}{
		{"plain", `{"score":7,"reasoning":"promo"}`, 7, false},
		{"commentary", "Sure!\n```json\n{\"score\": 3, \"reasoning\": \"ok\"}\n```", 3, false},
		{"rounds half up", `{"score":6.5}`, 7, false},
		{"rounds down", `{"score":6.4}`, 6, false},
		{"zero", `{"score":0}`, 0, false},
		{"ten", `{"score":10}`, 10, false},
		{"brace in reasoning", `{"reasoning":"uses } and {","score":8}`, 8, false},
		{"first object wins", `{"score":1} {"score":9}`, 1, false},
		{"stray brace before object", `score {x {"score":4}`, 4, false},
		{"above range", `{"score":11}`, 0, true},
		{"below range", `{"score":-1}`, 0, true},
		{"string score", `{"score":"9"}`, 0, true},
		{"missing score", `{"reasoning":"?"}`, 0, true},
		{"no object", `score: 9`, 0, true},
		{"unterminated", `{"score": 9`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseResponse(tt.raw)
			if tt.wantErr {
				var malformed *core.MalformedResponseError
				if !errors.As(err, &malformed) {
					t.Fatalf("expected MalformedResponseError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Score != tt.wantScore {
				t.Errorf("score = %d, want %d", result.Score, tt.wantScore)
			}
		})
	}
}

func TestParseResponseScoreInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		value := rapid.Float64Range(-20, 20).Draw(rt, "score")
		threshold := rapid.IntRange(1, 10).Draw(rt, "threshold")

		result, err := ParseResponse(fmt.Sprintf(`{"score": %v, "reasoning": "x"}`, value))
		if value < 0 || value > 10 {
			if err == nil {
				rt.Fatalf("score %v accepted", value)
			}
			return
		}
		if err != nil {
			rt.Fatalf("score %v rejected: %v", value, err)
		}
		if result.Score < core.MinScore || result.Score > core.MaxScore {
			rt.Fatalf("score %d out of range", result.Score)
		}
		if result.IsSpam(threshold) != (result.Score >= threshold) {
			rt.Fatalf("IsSpam disagrees with threshold")
		}
	})
}

func TestBuildPromptOrdering(t *testing.T) {
	email := testEmail()
	rules := []core.Rule{
		{Name: "Lottery", Text: "Lottery mail is spam", Enabled: true},
		{Name: "Disabled", Text: "never shown", Enabled: false},
		{Name: "Other account", Text: "not for this account", Enabled: true, Scope: core.RuleScope{AccountIDs: []string{"acct-2"}}},
		{Name: "Scoped", Text: "scoped to this account", Enabled: true, Scope: core.RuleScope{AccountIDs: []string{"acct-1"}}},
	}
	similar := []core.SimilarityMatch{
		{Similarity: 0.93, Record: core.SimilarityRecord{
			Subject: "Prize", Sender: "a@x.io", Body: "win",
			Result:         core.ClassificationResult{Score: 9, Reasoning: "scam"},
			UserValidation: core.ValidationConfirmedSpam,
		}},
		{Similarity: 0.81, Record: core.SimilarityRecord{
			Subject: "Invoice", Sender: "b@x.io", Body: "pay",
			Result:         core.ClassificationResult{Score: 8, Reasoning: "phish"},
			UserValidation: core.ValidationConfirmedHam,
		}},
		{Similarity: 0.70, Record: core.SimilarityRecord{
			Subject: "Hello", Sender: "c@x.io", Body: "hi",
			Result: core.ClassificationResult{Score: 1},
		}},
	}

	prompt := BuildPrompt(PromptInput{
		Email:      email,
		Body:       email.Body,
		Rules:      rules,
		Similar:    similar,
		Guidelines: "CUSTOM GUIDELINES",
		Threshold:  7,
	})

	order := []string{
		"ALWAYS take precedence",
		"CUSTOM GUIDELINES",
		"Lottery mail is spam",
		"scoped to this account",
		"This example is trustworthy",
		"The earlier AI verdict was unreliable",
		"Not reviewed by the user",
		"From: Lottery <win@lottery.example>",
		"Subject: You won a prize",
		"Date: ",
		"Claim your prize now",
	}
	last := -1
	for _, marker := range order {
		idx := strings.Index(prompt, marker)
		if idx < 0 {
			t.Fatalf("prompt missing %q", marker)
		}
		if idx <= last {
			t.Errorf("%q appears out of order", marker)
		}
		last = idx
	}

	for _, hidden := range []string{"never shown", "not for this account", DefaultGuidelines} {
		if strings.Contains(prompt, hidden) {
			t.Errorf("prompt should not contain %q", hidden)
		}
	}
}

func TestBuildPromptDefaultGuidelines(t *testing.T) {
	prompt := BuildPrompt(PromptInput{Email: testEmail(), Body: "b", Threshold: 7})
	if !strings.Contains(prompt, DefaultGuidelines) {
		t.Error("expected default guidelines when none supplied")
	}
	if strings.Contains(prompt, "Previously classified similar emails") {
		t.Error("similar section should be omitted when there is no context")
	}
}

func TestClassifySimplifiesHTML(t *testing.T) {
	backend := &scriptedBackend{responses: []string{`{"score":5}`}}
	c := newTestClassifier(t, backend)

	email := testEmail()
	email.HTMLBody = "<html><head><style>.x{}</style></head><body><h1>Sale</h1><p>Buy now</p></body></html>"
	if _, err := c.Classify(context.Background(), email, nil, nil, ""); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if strings.Contains(backend.prompts[0], "<h1>") || strings.Contains(backend.prompts[0], ".x{}") {
		t.Error("HTML markup leaked into prompt")
	}
	if !strings.Contains(backend.prompts[0], "Buy now") {
		t.Error("simplified text missing from prompt")
	}
}
