package classifier

import (
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mikey/llm-mail-triage/internal/core"
)

// scoreResponse represents the structured response from the LLM.
// Score is a pointer so a missing field can be told apart from zero.
type scoreResponse struct {
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

// ParseResponse extracts the first JSON object from raw model output and
// validates its score
func ParseResponse(raw string) (*core.ClassificationResult, error) {
	object, ok := extractJSONObject(raw)
	if !ok {
		return nil, &core.MalformedResponseError{Reason: "no JSON object in response", Raw: raw}
	}

	var resp scoreResponse
	if err := json.Unmarshal([]byte(object), &resp); err != nil {
		return nil, &core.MalformedResponseError{Reason: "invalid JSON", Raw: raw, Err: err}
	}

	if resp.Score == nil {
		return nil, &core.MalformedResponseError{Reason: "missing score", Raw: raw}
	}
	score := *resp.Score
	if math.IsNaN(score) || score < core.MinScore || score > core.MaxScore {
		return nil, &core.MalformedResponseError{Reason: "score out of range", Raw: raw}
	}

	return &core.ClassificationResult{
		Score:      int(math.Round(score)),
		Reasoning:  strings.TrimSpace(resp.Reasoning),
		AnalyzedAt: time.Now(),
	}, nil
}

// extractJSONObject returns the first balanced {...} block in text, ignoring
// braces inside JSON strings
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		if end, ok := matchBrace(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
