package di

import (
	"flag"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/logging"
)

// CLIFlags contains all command line flags for the classify-email tool
type CLIFlags struct {
	// AI flags
	Provider       string
	ChatModel      string
	EmbeddingModel string
	BaseURL        string
	APIKey         string
	MaxTokens      int
	Temperature    float64

	// Triage flags
	Threshold   int
	MaxBodySize int
	Simplify    bool

	// Input flags
	InputFile  string
	AccountID  string
	Verbose    bool
	JSONLog    bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	flag.StringVar(&flags.Provider, "provider", "ollama", "AI provider (openai, ollama, gemini, bedrock)")
	flag.StringVar(&flags.ChatModel, "model", "", "Chat model used for classification")
	flag.StringVar(&flags.EmbeddingModel, "embedding-model", "", "Embedding model for similarity context (enables memory when set with -config)")
	flag.StringVar(&flags.BaseURL, "base-url", "", "Base URL of an OpenAI-compatible server")
	flag.StringVar(&flags.APIKey, "api-key", "", "API key for OpenAI or Gemini")
	flag.IntVar(&flags.MaxTokens, "max-tokens", 1000, "Maximum tokens for the model response")
	flag.Float64Var(&flags.Temperature, "temperature", 0.1, "Temperature for generation")

	flag.IntVar(&flags.Threshold, "threshold", 7, "Score (1-10) at or above which an email is spam")
	flag.IntVar(&flags.MaxBodySize, "max-body-size", 8000, "Maximum email body size sent to the model")
	flag.BoolVar(&flags.Simplify, "simplify", true, "Convert HTML bodies to plain text before classifying")

	flag.StringVar(&flags.InputFile, "file", "", "Input email file (use stdin if not specified)")
	flag.StringVar(&flags.AccountID, "account", "", "Account whose rules apply to the email")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	// Register flags
	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	// Register configuration
	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			cfg, err := config.NewFromFile(flags.ConfigFile)
			if err != nil {
				return nil, err
			}
			logger.Info("Loaded configuration from file", zap.String("file", cfg.GetViper().ConfigFileUsed()))
			return cfg, nil
		}
		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	if err := provideShared(container); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags.
// Similarity memory stays off: without a config file there is no store to read.
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	v.Set("ai.provider", flags.Provider)
	v.Set("ai.chat_model", flags.ChatModel)
	v.Set("ai.embedding_model", flags.EmbeddingModel)
	v.Set("ai.max_tokens", flags.MaxTokens)
	v.Set("ai.temperature", flags.Temperature)

	switch flags.Provider {
	case "openai":
		v.Set("openai.api_key", flags.APIKey)
		v.Set("openai.base_url", flags.BaseURL)
	case "ollama":
		if flags.BaseURL != "" {
			v.Set("ollama.base_url", flags.BaseURL)
		}
	case "gemini":
		v.Set("gemini.api_key", flags.APIKey)
	}

	v.Set("triage.sensitivity_threshold", flags.Threshold)
	v.Set("triage.max_body_size", flags.MaxBodySize)
	v.Set("triage.simplify_content", flags.Simplify)
	v.Set("memory.enabled", false)

	return config.NewFromViper(v)
}
