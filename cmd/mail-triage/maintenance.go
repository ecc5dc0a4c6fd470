package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/memory"
	"go.uber.org/zap"
)

// maintenance runs the one-shot administrative commands
type maintenance struct {
	cfg       *config.Config
	logger    *zap.Logger
	ai        core.AIBackend
	mem       *memory.Service
	dedup     core.DedupStore
	providers map[core.ProviderType]core.MailProvider
}

// run executes the requested command. handled is false when no maintenance
// flag was given.
func (m *maintenance) run(ctx context.Context) (handled bool, err error) {
	switch {
	case *clearDedup:
		return true, m.clearDedup(ctx)
	case *clearMemory:
		return true, m.mem.ClearAll(ctx)
	case *validate != "":
		return true, m.validate(ctx, *validate)
	case *testConnections:
		return true, m.testConnections(ctx)
	case *listModels:
		return true, m.listModels(ctx)
	default:
		return false, nil
	}
}

func (m *maintenance) clearDedup(ctx context.Context) error {
	if err := m.dedup.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear dedup store: %w", err)
	}
	fmt.Println("Dedup store cleared; every email will be classified again on the next run")
	return nil
}

func (m *maintenance) validate(ctx context.Context, arg string) error {
	emailID, verdict, ok := strings.Cut(arg, "=")
	if !ok || emailID == "" {
		return fmt.Errorf("-validate expects <emailID>=spam|ham|unset, got %q", arg)
	}
	validation, ok := core.ParseUserValidation(verdict)
	if !ok {
		return fmt.Errorf("unknown verdict %q, expected spam, ham or unset", verdict)
	}

	n, err := m.mem.SetUserValidation(ctx, emailID, validation)
	if err != nil {
		return err
	}
	fmt.Printf("Updated %d record(s) for %s to %s\n", n, emailID, validation)
	return nil
}

func (m *maintenance) testConnections(ctx context.Context) error {
	accounts, err := m.cfg.GetAccounts()
	if err != nil {
		return err
	}

	failed := 0
	for _, account := range accounts {
		provider, ok := m.providers[account.Provider]
		if !ok {
			fmt.Printf("%-20s %-6s FAIL %v\n", account.ID, account.Provider, core.ErrUnknownProvider)
			failed++
			continue
		}
		if err := provider.TestConnection(ctx, &account.Connection); err != nil {
			fmt.Printf("%-20s %-6s FAIL %v\n", account.ID, account.Provider, err)
			failed++
			continue
		}
		fmt.Printf("%-20s %-6s OK\n", account.ID, account.Provider)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d account(s) failed", failed, len(accounts))
	}
	return nil
}

func (m *maintenance) listModels(ctx context.Context) error {
	models, err := m.ai.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, model := range models {
		fmt.Println(model)
	}
	return nil
}
