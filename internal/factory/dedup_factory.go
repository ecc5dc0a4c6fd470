package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/llm-mail-triage/internal/adapters/dedup"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// DedupFactory creates dedup stores based on configuration
type DedupFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewDedupFactory creates a new dedup factory
func NewDedupFactory(cfg *config.Config, logger *zap.Logger) *DedupFactory {
	return &DedupFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateDedupStore creates the checksum store selected by dedup.type
func (f *DedupFactory) CreateDedupStore() (core.DedupStore, error) {
	dedupCfg := f.cfg.GetDedup()

	switch dedupCfg.Type {
	case "memory":
		f.logger.Warn("Using in-memory dedup store; processed checksums are lost on restart")
		return dedup.NewMemoryStore(f.logger), nil
	case "sqlite":
		if err := ensureDir(dedupCfg.SQLitePath); err != nil {
			return nil, err
		}
		return dedup.NewSQLiteStore(dedupCfg.SQLitePath, f.logger)
	case "mysql":
		return dedup.NewMySQLStore(dedupCfg.MySQLDSN, f.logger)
	case "redis":
		return dedup.NewRedisStore(dedupCfg.RedisAddr, dedupCfg.RedisKey, f.logger)
	default:
		return nil, &core.ConfigurationError{
			Key:    "dedup.type",
			Reason: fmt.Sprintf("unsupported dedup store %q", dedupCfg.Type),
		}
	}
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create SQLite directory: %w", err)
	}
	return nil
}
