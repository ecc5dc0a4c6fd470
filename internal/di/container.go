package di

import (
	"context"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/llm-mail-triage/internal/classifier"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/factory"
	"github.com/mikey/llm-mail-triage/internal/logging"
	"github.com/mikey/llm-mail-triage/internal/memory"
	"github.com/mikey/llm-mail-triage/internal/orchestrator"
	"github.com/mikey/llm-mail-triage/internal/utils"
	"github.com/mikey/llm-mail-triage/internal/whitelist"
)

// BuildContainer creates and configures the dependency injection container of
// the triage service. An empty configPath searches the default locations.
func BuildContainer(configPath string) (*dig.Container, error) {
	container := dig.New()

	// Register configuration
	if err := container.Provide(func() (*config.Config, error) {
		if configPath != "" {
			return config.NewFromFile(configPath)
		}
		return config.New()
	}); err != nil {
		return nil, err
	}

	// Register logger
	if err := container.Provide(logging.InitLogger); err != nil {
		return nil, err
	}

	if err := provideShared(container); err != nil {
		return nil, err
	}

	if err := container.Provide(factory.NewDedupFactory); err != nil {
		return nil, err
	}
	if err := container.Provide(factory.NewMailFactory); err != nil {
		return nil, err
	}

	// Register dedup store
	if err := container.Provide(func(f *factory.DedupFactory) (core.DedupStore, error) {
		return f.CreateDedupStore()
	}); err != nil {
		return nil, err
	}

	// Register mail providers
	if err := container.Provide(func(f *factory.MailFactory) map[core.ProviderType]core.MailProvider {
		return f.CreateProviders()
	}); err != nil {
		return nil, err
	}

	// Register sender whitelist
	if err := container.Provide(func(cfg *config.Config, logger *zap.Logger) (*whitelist.Checker, error) {
		triage, err := cfg.GetTriage()
		if err != nil {
			return nil, err
		}
		if len(triage.WhitelistedDomains) > 0 {
			logger.Info("Loaded whitelisted domains", zap.Strings("domains", triage.WhitelistedDomains))
		}
		return whitelist.NewChecker(triage.WhitelistedDomains, logger), nil
	}); err != nil {
		return nil, err
	}

	// Register event bus
	if err := container.Provide(func(logger *zap.Logger) *orchestrator.Bus {
		return orchestrator.NewBus(logger.Named("events"))
	}); err != nil {
		return nil, err
	}

	// Register orchestrator
	if err := container.Provide(func(
		cfg *config.Config,
		providers map[core.ProviderType]core.MailProvider,
		cls *classifier.Classifier,
		mem *memory.Service,
		dedup core.DedupStore,
		bus *orchestrator.Bus,
		wl *whitelist.Checker,
		logger *zap.Logger,
	) (*orchestrator.Orchestrator, error) {
		triage, err := cfg.GetTriage()
		if err != nil {
			return nil, err
		}
		var memoryPort orchestrator.Memory
		if mem.Enabled() {
			memoryPort = mem
		}
		return orchestrator.New(providers, cls, memoryPort, dedup, bus, wl, orchestrator.Settings{
			SensitivityThreshold: triage.SensitivityThreshold,
			Guidelines:           triage.Guidelines,
		}, logger), nil
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// provideShared registers what both the service and the CLI need once config
// and logger are available: text processor, AI backend, similarity memory
// and classifier
func provideShared(container *dig.Container) error {
	// Register text processor
	if err := container.Provide(utils.NewTextProcessor); err != nil {
		return err
	}

	// Register factories
	if err := container.Provide(factory.NewAIFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewMemoryFactory); err != nil {
		return err
	}
	if err := container.Provide(factory.NewClassifierFactory); err != nil {
		return err
	}

	// Register AI backend
	if err := container.Provide(func(f *factory.AIFactory) (core.AIBackend, error) {
		return f.CreateAIBackend(context.Background())
	}); err != nil {
		return err
	}

	// Register similarity memory; nil when disabled
	if err := container.Provide(func(f *factory.MemoryFactory, ai core.AIBackend, tp *utils.TextProcessor) (*memory.Service, error) {
		return f.CreateMemoryService(context.Background(), ai, tp)
	}); err != nil {
		return err
	}

	// Register classifier
	if err := container.Provide(func(f *factory.ClassifierFactory, ai core.AIBackend, tp *utils.TextProcessor) (*classifier.Classifier, error) {
		return f.CreateClassifier(ai, tp)
	}); err != nil {
		return err
	}

	return nil
}
