package config

import (
	"fmt"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
)

// TriageConfig holds the pipeline settings
type TriageConfig struct {
	SensitivityThreshold int
	MaxAgeDays           int
	SimplifyContent      bool
	Guidelines           string
	MaxAttempts          int
	RetryDelay           time.Duration
	MaxBodySize          int
	WhitelistedDomains   []string
	Interval             time.Duration
}

// AIConfig represents the configuration for the AI provider
type AIConfig struct {
	Provider       string
	ChatModel      string
	EmbeddingModel string
	MaxTokens      int
	Temperature    float32
}

// OpenAIConfig represents the configuration for OpenAI and compatible servers
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey string
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region string
}

// MemoryConfig represents the similarity memory settings
type MemoryConfig struct {
	Enabled                bool
	Store                  string
	SQLitePath             string
	PostgresDSN            string
	TopK                   int
	IndexThreshold         int
	EmbeddingContextTokens int
}

// DedupConfig represents the dedup cache settings
type DedupConfig struct {
	Type       string
	SQLitePath string
	MySQLDSN   string
	RedisAddr  string
	RedisKey   string
}

// MailConfig holds endpoint overrides for the HTTP mail providers
type MailConfig struct {
	GraphBaseURL  string
	GmailEndpoint string
}

// GetTriage returns the triage configuration
func (c *Config) GetTriage() (TriageConfig, error) {
	retryDelay, err := c.GetDuration("triage.retry_delay")
	if err != nil {
		return TriageConfig{}, fmt.Errorf("invalid triage.retry_delay: %w", err)
	}
	interval, err := c.GetDuration("triage.interval")
	if err != nil {
		return TriageConfig{}, fmt.Errorf("invalid triage.interval: %w", err)
	}
	return TriageConfig{
		SensitivityThreshold: c.GetInt("triage.sensitivity_threshold"),
		MaxAgeDays:           c.GetInt("triage.max_age_days"),
		SimplifyContent:      c.GetBool("triage.simplify_content"),
		Guidelines:           c.GetString("triage.guidelines"),
		MaxAttempts:          c.GetInt("triage.max_attempts"),
		RetryDelay:           retryDelay,
		MaxBodySize:          c.GetInt("triage.max_body_size"),
		WhitelistedDomains:   c.GetStringSlice("triage.whitelisted_domains"),
		Interval:             interval,
	}, nil
}

// GetAI returns the AI configuration
func (c *Config) GetAI() AIConfig {
	return AIConfig{
		Provider:       c.GetString("ai.provider"),
		ChatModel:      c.GetString("ai.chat_model"),
		EmbeddingModel: c.GetString("ai.embedding_model"),
		MaxTokens:      c.GetInt("ai.max_tokens"),
		Temperature:    float32(c.GetFloat64("ai.temperature")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:  c.GetString("openai.api_key"),
		BaseURL: c.GetString("openai.base_url"),
	}
}

// GetOllama returns the configuration for a local Ollama server, reached
// through its OpenAI-compatible endpoint
func (c *Config) GetOllama() OpenAIConfig {
	return OpenAIConfig{
		APIKey:  "ollama",
		BaseURL: c.GetString("ollama.base_url"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey: c.GetString("gemini.api_key"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region: c.GetString("bedrock.region"),
	}
}

// GetMemory returns the similarity memory configuration
func (c *Config) GetMemory() MemoryConfig {
	return MemoryConfig{
		Enabled:                c.GetBool("memory.enabled"),
		Store:                  c.GetString("memory.store"),
		SQLitePath:             c.GetString("memory.sqlite_path"),
		PostgresDSN:            c.GetString("memory.postgres_dsn"),
		TopK:                   c.GetInt("memory.top_k"),
		IndexThreshold:         c.GetInt("memory.index_threshold"),
		EmbeddingContextTokens: c.GetInt("memory.embedding_context_tokens"),
	}
}

// GetDedup returns the dedup cache configuration
func (c *Config) GetDedup() DedupConfig {
	return DedupConfig{
		Type:       c.GetString("dedup.type"),
		SQLitePath: c.GetString("dedup.sqlite_path"),
		MySQLDSN:   c.GetString("dedup.mysql_dsn"),
		RedisAddr:  c.GetString("dedup.redis_addr"),
		RedisKey:   c.GetString("dedup.redis_key"),
	}
}

// GetMail returns the mail provider configuration
func (c *Config) GetMail() MailConfig {
	return MailConfig{
		GraphBaseURL:  c.GetString("mail.graph_base_url"),
		GmailEndpoint: c.GetString("mail.gmail_endpoint"),
	}
}

// GetAccounts decodes the accounts list
func (c *Config) GetAccounts() ([]core.Account, error) {
	var accounts []core.Account
	if err := c.v.UnmarshalKey("accounts", &accounts); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	for i := range accounts {
		if accounts[i].Status == "" {
			accounts[i].Status = core.AccountActive
		}
	}
	return accounts, nil
}

// GetRules decodes the rules list
func (c *Config) GetRules() ([]core.Rule, error) {
	var rules []core.Rule
	if err := c.v.UnmarshalKey("rules", &rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return rules, nil
}

// Validate checks the settings a run depends on before anything touches a backend
func (c *Config) Validate() error {
	threshold := c.GetInt("triage.sensitivity_threshold")
	if threshold < 1 || threshold > 10 {
		return &core.ConfigurationError{Key: "triage.sensitivity_threshold", Reason: fmt.Sprintf("must be between 1 and 10, got %d", threshold)}
	}
	if c.GetInt("triage.max_age_days") < 1 {
		return &core.ConfigurationError{Key: "triage.max_age_days", Reason: "must be at least 1"}
	}
	if c.GetInt("triage.max_attempts") < 1 {
		return &core.ConfigurationError{Key: "triage.max_attempts", Reason: "must be at least 1"}
	}
	if _, err := c.GetTriage(); err != nil {
		return &core.ConfigurationError{Key: "triage", Reason: err.Error()}
	}
	if c.GetString("ai.chat_model") == "" {
		return &core.ConfigurationError{Key: "ai.chat_model", Reason: "no chat model selected"}
	}
	if c.GetBool("memory.enabled") && c.GetString("ai.embedding_model") == "" {
		return &core.ConfigurationError{Key: "ai.embedding_model", Reason: "similarity memory is enabled but no embedding model is selected"}
	}
	return nil
}
