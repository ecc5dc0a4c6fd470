package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/mikey/llm-mail-triage/internal/classifier"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/di"
	"github.com/mikey/llm-mail-triage/internal/memory"
	"github.com/mikey/llm-mail-triage/internal/utils"
	"github.com/mikey/llm-mail-triage/internal/whitelist"
	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	flags := di.ParseFlags()

	// Build the dependency injection container
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(
	flags *di.CLIFlags,
	cfg *config.Config,
	logger *zap.Logger,
	cls *classifier.Classifier,
	mem *memory.Service,
) error {
	defer logger.Sync()
	defer mem.Close()

	raw, err := readInput(flags.InputFile)
	if err != nil {
		return err
	}
	email := emailFromRaw(raw, flags.AccountID)

	triage, err := cfg.GetTriage()
	if err != nil {
		return err
	}

	fmt.Println("Email Analysis:")
	fmt.Println("---------------")
	fmt.Printf("From: %s\n", email.FromAddr)
	fmt.Printf("Subject: %s\n", email.Subject)

	wl := whitelist.NewChecker(triage.WhitelistedDomains, logger)
	if wl.IsWhitelisted(email.FromAddr) {
		fmt.Println("Result: WHITELISTED (not sent to the model)")
		return nil
	}

	rules, err := cfg.GetRules()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := mem.Init(ctx); err != nil {
		logger.Warn("Similarity memory unavailable", zap.Error(err))
	}
	similar := mem.SearchForEmail(ctx, email)

	start := time.Now()
	result, err := cls.Classify(ctx, email, rules, similar, triage.Guidelines)
	if err != nil {
		return fmt.Errorf("failed to classify email: %w", err)
	}
	duration := time.Since(start)

	fmt.Printf("Spam Score: %d/%d\n", result.Score, core.MaxScore)
	fmt.Printf("Threshold: %d\n", cls.Threshold())
	if result.Score >= cls.Threshold() {
		fmt.Println("Result: SPAM")
	} else {
		fmt.Println("Result: NOT SPAM")
	}
	fmt.Printf("Similar Emails: %d\n", len(similar))
	fmt.Printf("Reasoning: %s\n", result.Reasoning)
	fmt.Printf("Model Used: %s\n", result.Model)
	fmt.Printf("Analysis Time: %v\n", duration)
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// emailFromRaw builds a pipeline email from an RFC 5322 message. A message
// without a Message-ID gets a random identifier.
func emailFromRaw(raw []byte, accountID string) *core.Email {
	parsed := utils.ParseMessage(raw)

	id := parsed.MessageID
	if id == "" {
		id = uuid.NewString()
	}
	receivedAt := parsed.Date
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	return &core.Email{
		ID:         id,
		AccountID:  accountID,
		Subject:    parsed.Subject,
		FromName:   parsed.FromName,
		FromAddr:   parsed.FromAddr,
		Body:       parsed.TextBody,
		HTMLBody:   parsed.HTMLBody,
		ReceivedAt: receivedAt,
		ProviderID: id,
	}
}
