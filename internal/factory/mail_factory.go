package factory

import (
	"github.com/mikey/llm-mail-triage/internal/adapters/mail/gmail"
	"github.com/mikey/llm-mail-triage/internal/adapters/mail/graph"
	"github.com/mikey/llm-mail-triage/internal/adapters/mail/imap"
	"github.com/mikey/llm-mail-triage/internal/config"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
)

// MailFactory creates the mail providers accounts can refer to
type MailFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewMailFactory creates a new mail factory
func NewMailFactory(cfg *config.Config, logger *zap.Logger) *MailFactory {
	return &MailFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateProviders returns one provider per supported provider type
func (f *MailFactory) CreateProviders() map[core.ProviderType]core.MailProvider {
	mailCfg := f.cfg.GetMail()
	return map[core.ProviderType]core.MailProvider{
		core.ProviderIMAP:  imap.NewProvider(f.logger),
		core.ProviderGraph: graph.NewProvider(mailCfg.GraphBaseURL, f.logger),
		core.ProviderGmail: gmail.NewProvider(mailCfg.GmailEndpoint, f.logger),
	}
}
