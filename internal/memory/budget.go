package memory

import "strings"

// defaultContextTokens applies to embedding models missing from the table
const defaultContextTokens = 512

// contextWindows maps common embedding models to their input limit in tokens
var contextWindows = map[string]int{
	"nomic-embed-text":             8192,
	"mxbai-embed-large":            512,
	"all-minilm":                   256,
	"snowflake-arctic-embed":       512,
	"bge-m3":                       8192,
	"bge-large":                    512,
	"text-embedding-3-small":       8191,
	"text-embedding-3-large":       8191,
	"text-embedding-ada-002":       8191,
	"text-embedding-004":           2048,
	"embedding-001":                2048,
	"amazon.titan-embed-text-v1":   8192,
	"amazon.titan-embed-text-v2:0": 8192,
	"cohere.embed-english-v3":      512,
	"cohere.embed-multilingual-v3": 512,
}

// ContextWindow returns the token limit of an embedding model. Ollama tags
// (":latest") and Gemini "models/" prefixes are ignored.
func ContextWindow(model string) int {
	name := strings.ToLower(strings.TrimSpace(model))
	if n, ok := contextWindows[name]; ok {
		return n
	}
	name = strings.TrimPrefix(name, "models/")
	if n, ok := contextWindows[name]; ok {
		return n
	}
	if i := strings.LastIndex(name, ":"); i > 0 {
		if n, ok := contextWindows[name[:i]]; ok {
			return n
		}
	}
	return defaultContextTokens
}

// CharBudget converts a token limit to a safe character count, assuming about
// four characters per token and keeping a 20% margin
func CharBudget(tokens int) int {
	return tokens * 4 * 8 / 10
}
