package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/di"
	"github.com/mikey/llm-mail-triage/internal/memory"
	"github.com/mikey/llm-mail-triage/internal/orchestrator"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "", "Path to config file")
	once       = flag.Bool("once", false, "Run a single pass and exit")

	rebuildMemory = flag.Bool("rebuild-memory", false, "Drop stored similarity records and recreate storage for the current embedding model")
	confirmed     = flag.Bool("yes", false, "Confirm destructive maintenance such as -rebuild-memory")

	clearDedup      = flag.Bool("clear-dedup", false, "Forget every processed checksum and exit")
	clearMemory     = flag.Bool("clear-memory", false, "Delete every similarity record and exit")
	validate        = flag.String("validate", "", "Record a user verdict as <emailID>=spam|ham|unset and exit")
	testConnections = flag.Bool("test-connections", false, "Check every configured mailbox and exit")
	listModels      = flag.Bool("list-models", false, "List the models the AI backend serves and exit")
)

func main() {
	flag.Parse()

	// Build the dependency injection container
	container, err := di.BuildContainer(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	cfg *config.Config,
	logger *zap.Logger,
	ai core.AIBackend,
	mem *memory.Service,
	dedup core.DedupStore,
	providers map[core.ProviderType]core.MailProvider,
	orch *orchestrator.Orchestrator,
	bus *orchestrator.Bus,
) error {
	defer logger.Sync()
	defer closeResources(logger, ai, mem, dedup, bus)

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("Shutting down...", zap.String("signal", sig.String()))
			orch.Stop()
			cancel()
		case <-ctx.Done():
		}
	}()

	m := &maintenance{cfg: cfg, logger: logger, ai: ai, mem: mem, dedup: dedup, providers: providers}
	if handled, err := m.run(ctx); handled {
		return err
	}

	if err := initMemory(ctx, logger, mem); err != nil {
		return err
	}

	sub := bus.Subscribe(64)
	defer bus.Unsubscribe(sub)
	go logEvents(logger, sub)

	var in *runInput
	for {
		// accounts and rules are re-read before every run
		next, err := loadRunInput(cfg)
		switch {
		case err == nil:
			in = next
		case in == nil:
			return err
		default:
			logger.Warn("Failed to reload configuration, reusing previous accounts and rules", zap.Error(err))
		}

		runOnce(ctx, logger, orch, in.accounts, in.rules, in.maxAgeDays)
		if *once {
			break
		}

		logger.Info("Waiting for next run", zap.Duration("interval", in.interval))
		select {
		case <-ctx.Done():
			logger.Info("Shutdown complete")
			return nil
		case <-time.After(in.interval):
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

type runInput struct {
	accounts   []core.Account
	rules      []core.Rule
	maxAgeDays int
	interval   time.Duration
}

// loadRunInput reloads the config file and reads what a run needs from it
func loadRunInput(cfg *config.Config) (*runInput, error) {
	if err := cfg.Reload(); err != nil {
		return nil, err
	}
	triage, err := cfg.GetTriage()
	if err != nil {
		return nil, err
	}
	accounts, err := cfg.GetAccounts()
	if err != nil {
		return nil, err
	}
	rules, err := cfg.GetRules()
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, &core.ConfigurationError{Key: "accounts", Reason: "no accounts configured"}
	}
	return &runInput{
		accounts:   accounts,
		rules:      rules,
		maxAgeDays: triage.MaxAgeDays,
		interval:   triage.Interval,
	}, nil
}

// initMemory reconciles the embedding width with storage. A width mismatch
// stops the service unless a confirmed rebuild was requested; an unreachable
// embedding backend only degrades retrieval.
func initMemory(ctx context.Context, logger *zap.Logger, mem *memory.Service) error {
	if !mem.Enabled() {
		return nil
	}

	if *rebuildMemory {
		if err := mem.Rebuild(ctx, *confirmed); err != nil {
			if errors.Is(err, core.ErrRebuildNotConfirmed) {
				return fmt.Errorf("%w: pass -yes to delete the stored similarity records", err)
			}
			return err
		}
		logger.Info("Similarity memory rebuilt")
		return nil
	}

	err := mem.Init(ctx)
	var mismatch *core.SchemaMismatchError
	switch {
	case err == nil:
		count, _ := mem.Count(ctx)
		logger.Info("Similarity memory ready", zap.Int("records", count))
		return nil
	case errors.As(err, &mismatch):
		return fmt.Errorf("%w; run with -rebuild-memory -yes to discard the %d-wide vectors", err, mismatch.Expected)
	default:
		logger.Warn("Similarity memory unavailable, classifying without similar emails", zap.Error(err))
		return nil
	}
}

func runOnce(ctx context.Context, logger *zap.Logger, orch *orchestrator.Orchestrator, accounts []core.Account, rules []core.Rule, maxAgeDays int) {
	started := time.Now()
	result, err := orch.Start(ctx, accounts, rules, maxAgeDays)
	if errors.Is(err, core.ErrRunInProgress) {
		logger.Warn("Previous run still in progress, skipping")
		return
	}
	if err != nil {
		logger.Error("Run failed", zap.Error(err))
		return
	}

	for accountID, accErr := range result.AccountErrors {
		logger.Warn("Account skipped", zap.String("account", accountID), zap.Error(accErr))
	}
	overall := result.OverallStats
	logger.Info("Run finished",
		zap.Bool("stopped", result.Stopped),
		zap.Duration("duration", time.Since(started)),
		zap.Int("total", overall.TotalEmails),
		zap.Int("processed", overall.ProcessedEmails),
		zap.Int("spam", overall.SpamEmails),
		zap.Int("skipped", overall.SkippedEmails),
		zap.Int("errors", overall.Errors),
		zap.Int("move_failures", overall.MoveFailures))
}

func logEvents(logger *zap.Logger, sub *orchestrator.Subscription) {
	for event := range sub.C {
		switch event.Kind {
		case core.EventProgress:
			logger.Debug("Progress",
				zap.String("account", event.CurrentAccount),
				zap.Int("processed", event.Processed),
				zap.Int("total", event.Total),
				zap.Float64("percent", event.Percent))
		case core.EventAccountError:
			logger.Warn("Account error", zap.String("account", event.AccountID), zap.Error(event.Err))
		case core.EventRunError:
			logger.Error("Run error", zap.Error(event.Err))
		case core.EventRunStatusChanged:
			logger.Info("Run status changed", zap.String("state", string(event.State)))
		}
	}
}

// closeResources closes any resources that need closing
func closeResources(logger *zap.Logger, ai core.AIBackend, mem *memory.Service, dedup core.DedupStore, bus *orchestrator.Bus) {
	bus.Close()

	if closer, ok := ai.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close AI backend", zap.Error(err))
		}
	}
	if err := mem.Close(); err != nil {
		logger.Error("Failed to close similarity memory", zap.Error(err))
	}
	if closer, ok := dedup.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close dedup store", zap.Error(err))
		}
	}
}
