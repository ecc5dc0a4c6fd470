package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/whitelist"
	"go.uber.org/zap"
)

// Classifier scores a single email
type Classifier interface {
	Classify(ctx context.Context, email *core.Email, rules []core.Rule, similar []core.SimilarityMatch, guidelines string) (*core.ClassificationResult, error)
}

// Memory supplies similarity context and learns from new classifications
type Memory interface {
	SearchForEmail(ctx context.Context, email *core.Email) []core.SimilarityMatch
	Insert(ctx context.Context, email *core.Email, result *core.ClassificationResult) error
}

// Settings holds the run parameters read from configuration
type Settings struct {
	SensitivityThreshold int
	Guidelines           string
}

// RunResult is what a finished (or stopped) run reports back to its caller
type RunResult struct {
	AccountStats  map[string]core.ProcessingStats
	OverallStats  core.ProcessingStats
	AccountErrors map[string]error
	Stopped       bool
}

// Orchestrator drives processing runs: one at a time, accounts and emails
// strictly in sequence. Run events are published under mu, so an
// EventPublisher must not call back into the orchestrator.
type Orchestrator struct {
	providers  map[core.ProviderType]core.MailProvider
	classifier Classifier
	memory     Memory
	dedup      core.DedupStore
	events     core.EventPublisher
	whitelist  *whitelist.Checker
	settings   Settings
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	run    *core.ProcessingRun
	runID  uint64
	cancel context.CancelFunc
}

// New creates an orchestrator. memory, events and wl may be nil.
func New(
	providers map[core.ProviderType]core.MailProvider,
	classifier Classifier,
	memory Memory,
	dedup core.DedupStore,
	events core.EventPublisher,
	wl *whitelist.Checker,
	settings Settings,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &Orchestrator{
		providers:  providers,
		classifier: classifier,
		memory:     memory,
		dedup:      dedup,
		events:     events,
		whitelist:  wl,
		settings:   settings,
		logger:     logger.Named("orchestrator"),
		now:        time.Now,
	}
}

// CurrentState returns a snapshot of the active run, or nil when idle
func (o *Orchestrator) CurrentState() *core.ProcessingRun {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run.Clone()
}

// Stop cancels the active run and returns the orchestrator to idle. The
// in-flight backend call is aborted through its context.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.run == nil {
		o.mu.Unlock()
		return
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.run = nil
	o.runID++
	o.events.Publish(core.Event{Kind: core.EventRunStatusChanged, State: core.RunIdle})
	o.mu.Unlock()

	o.logger.Info("Processing run stopped")
}

// Start runs the pipeline over the active accounts and blocks until the run
// completes or is stopped. While another run is processing it returns
// ErrRunInProgress and leaves that run untouched.
func (o *Orchestrator) Start(ctx context.Context, accounts []core.Account, rules []core.Rule, maxAgeDays int) (result *RunResult, err error) {
	active := make([]core.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Status == core.AccountActive {
			active = append(active, a)
		}
	}
	ids := make([]string, 0, len(active))
	for _, a := range active {
		ids = append(ids, a.ID)
	}

	o.mu.Lock()
	if o.run != nil && o.run.State == core.RunProcessing {
		o.mu.Unlock()
		return nil, core.ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.runID++
	id := o.runID
	o.cancel = cancel
	o.run = &core.ProcessingRun{
		State:        core.RunProcessing,
		StartTime:    o.now(),
		Accounts:     ids,
		AccountStats: make(map[string]core.ProcessingStats, len(active)),
	}
	o.events.Publish(core.Event{Kind: core.EventRunStatusChanged, State: core.RunProcessing})
	o.mu.Unlock()
	defer cancel()

	o.logger.Info("Processing run started",
		zap.Int("accounts", len(active)),
		zap.Int("max_age_days", maxAgeDays))

	result = &RunResult{
		AccountStats:  make(map[string]core.ProcessingStats, len(active)),
		AccountErrors: make(map[string]error),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing run aborted: %v", r)
			o.logger.Error("Processing run failed", zap.Error(err))
			o.finish(id, core.RunError,
				core.Event{Kind: core.EventRunStatusChanged, State: core.RunError},
				core.Event{Kind: core.EventRunError, Err: err})
			result = nil
		}
	}()

	for _, account := range active {
		if runCtx.Err() != nil {
			break
		}
		if !o.update(id, func(run *core.ProcessingRun) { run.CurrentAccount = account.ID }) {
			break
		}

		stats, accErr := o.processAccount(runCtx, id, account, rules, maxAgeDays)
		result.AccountStats[account.ID] = stats
		if accErr != nil && runCtx.Err() == nil {
			result.AccountErrors[account.ID] = accErr
		}
	}
	result.OverallStats = core.AggregateStats(result.AccountStats)

	if runCtx.Err() != nil {
		result.Stopped = true
		// Stop has already torn the run down; a cancelled parent context has not
		if o.finish(id, core.RunIdle, core.Event{Kind: core.EventRunStatusChanged, State: core.RunIdle}) {
			o.clear(id)
		}
		o.logger.Info("Processing run cancelled", zap.Int("processed", result.OverallStats.ProcessedEmails))
		return result, nil
	}

	o.finish(id, core.RunCompleted,
		core.Event{Kind: core.EventRunStatusChanged, State: core.RunCompleted},
		core.Event{Kind: core.EventRunCompleted, AllStats: copyStats(result.AccountStats), AggregateStats: result.OverallStats})

	o.logger.Info("Processing run completed",
		zap.Int("total", result.OverallStats.TotalEmails),
		zap.Int("processed", result.OverallStats.ProcessedEmails),
		zap.Int("skipped", result.OverallStats.SkippedEmails),
		zap.Int("spam", result.OverallStats.SpamEmails),
		zap.Int("errors", result.OverallStats.Errors))
	return result, nil
}

// processAccount fetches, partitions and classifies one account's emails.
// A fetch failure yields zero stats and the error.
func (o *Orchestrator) processAccount(ctx context.Context, id uint64, account core.Account, rules []core.Rule, maxAgeDays int) (core.ProcessingStats, error) {
	logger := o.logger.With(zap.String("account", account.ID))

	provider, ok := o.providers[account.Provider]
	if !ok {
		err := fmt.Errorf("%w %q", core.ErrUnknownProvider, account.Provider)
		logger.Error("No mail provider for account", zap.Error(err))
		o.accountError(id, account.ID, err)
		return core.ProcessingStats{}, err
	}

	emails, err := provider.FetchEmails(ctx, &account.Connection, maxAgeDays)
	if err != nil {
		if ctx.Err() != nil {
			return core.ProcessingStats{}, ctx.Err()
		}
		if core.IsProviderAuthError(err) {
			logger.Warn("Mail credentials rejected, skipping account", zap.Error(err))
		} else {
			logger.Error("Failed to fetch emails", zap.Error(err))
		}
		o.accountError(id, account.ID, err)
		return core.ProcessingStats{}, err
	}

	stats := core.ProcessingStats{TotalEmails: len(emails)}
	cutoff := o.now().AddDate(0, 0, -maxAgeDays)

	var candidates []*core.Email
	for _, email := range emails {
		if email.AccountID == "" {
			email.AccountID = account.ID
		}
		if !email.ReceivedAt.IsZero() && email.ReceivedAt.Before(cutoff) {
			stats.SkippedEmails++
			continue
		}
		seen, err := o.dedup.Has(ctx, email.Checksum())
		if err != nil {
			logger.Warn("Dedup lookup failed, classifying anyway",
				zap.String("email_id", email.ID),
				zap.Error(err))
		}
		if seen {
			stats.SkippedEmails++
			continue
		}
		candidates = append(candidates, email)
	}

	logger.Info("Fetched emails",
		zap.Int("total", stats.TotalEmails),
		zap.Int("skipped", stats.SkippedEmails),
		zap.Int("candidates", len(candidates)))
	if !o.publishStats(id, account.ID, stats) {
		return stats, nil
	}

	for _, email := range candidates {
		if ctx.Err() != nil {
			break
		}

		outcome := o.processEmail(ctx, logger, provider, &account.Connection, email, rules)
		if outcome.cancelled {
			break
		}

		switch {
		case outcome.err != nil:
			stats.Errors++
		default:
			// persisted before the stats are published so a crash never
			// loses a recorded classification
			if err := o.dedup.Add(ctx, email.Checksum()); err != nil {
				logger.Error("Failed to persist checksum",
					zap.String("email_id", email.ID),
					zap.Error(err))
			}
			stats.ProcessedEmails++
			if outcome.spam {
				stats.SpamEmails++
			}
			if outcome.moveFailed {
				stats.MoveFailures++
			}
		}

		if !o.publishStats(id, account.ID, stats) {
			break
		}
	}

	return stats, nil
}

type emailOutcome struct {
	spam       bool
	moveFailed bool
	cancelled  bool
	err        error
}

func (o *Orchestrator) processEmail(
	ctx context.Context,
	logger *zap.Logger,
	provider core.MailProvider,
	conn *core.ConnectionConfig,
	email *core.Email,
	rules []core.Rule,
) emailOutcome {
	logger = logger.With(zap.String("email_id", email.ID))

	var result *core.ClassificationResult
	if o.whitelist.IsWhitelisted(email.FromAddr) {
		logger.Info("Skipping classification for whitelisted sender",
			zap.String("sender", email.FromAddr),
			zap.String("action", "whitelist_bypass"))
		result = &core.ClassificationResult{
			Score:      core.MinScore,
			Reasoning:  "Sender domain is whitelisted",
			Model:      "whitelist",
			AnalyzedAt: o.now(),
		}
	} else {
		var similar []core.SimilarityMatch
		if o.memory != nil {
			similar = o.memory.SearchForEmail(ctx, email)
		}

		classified, err := o.classifier.Classify(ctx, email, rules, similar, o.settings.Guidelines)
		if err != nil {
			if ctx.Err() != nil {
				return emailOutcome{cancelled: true}
			}
			logger.Error("Failed to classify email",
				zap.String("subject", email.Subject),
				zap.Error(err))
			return emailOutcome{err: err}
		}
		result = classified

		if o.memory != nil {
			if err := o.memory.Insert(ctx, email, result); err != nil {
				logger.Warn("Failed to store email in similarity memory", zap.Error(err))
			}
		}
	}

	outcome := emailOutcome{spam: result.IsSpam(o.settings.SensitivityThreshold)}
	logger.Info("Email classified",
		zap.Int("score", result.Score),
		zap.Bool("is_spam", outcome.spam),
		zap.String("reasoning", result.Reasoning))

	if outcome.spam {
		messageID := email.ProviderID
		if messageID == "" {
			messageID = email.ID
		}
		if err := provider.MoveToSpamFolder(ctx, conn, messageID); err != nil {
			outcome.moveFailed = true
			logger.Warn("Failed to move spam email", zap.Error(err))
		}
	}
	return outcome
}

// publishStats stores the account stats in the active run, recomputes the
// aggregate and emits the update. It reports false once the run is gone.
func (o *Orchestrator) publishStats(id uint64, accountID string, stats core.ProcessingStats) bool {
	return o.update(id, func(run *core.ProcessingRun) {
		run.AccountStats[accountID] = stats
		run.OverallStats = core.AggregateStats(run.AccountStats)
		aggregate := run.OverallStats

		o.events.Publish(core.Event{
			Kind:           core.EventAccountStatsUpdated,
			AccountID:      accountID,
			AccountStats:   stats,
			AggregateStats: aggregate,
		})

		handled := aggregate.Handled()
		var percent float64
		if aggregate.TotalEmails > 0 {
			percent = float64(handled) * 100 / float64(aggregate.TotalEmails)
		}
		o.events.Publish(core.Event{
			Kind:           core.EventProgress,
			Total:          aggregate.TotalEmails,
			Processed:      handled,
			Percent:        percent,
			CurrentAccount: accountID,
		})
	})
}

func (o *Orchestrator) accountError(id uint64, accountID string, err error) {
	o.update(id, func(*core.ProcessingRun) {
		o.events.Publish(core.Event{Kind: core.EventAccountError, AccountID: accountID, Err: err})
	})
}

// update mutates the run if it is still the one identified by id. Events
// published from fn are ordered before any later Stop.
func (o *Orchestrator) update(id uint64, fn func(run *core.ProcessingRun)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil || o.runID != id {
		return false
	}
	fn(o.run)
	return true
}

func (o *Orchestrator) finish(id uint64, state core.RunState, events ...core.Event) bool {
	return o.update(id, func(run *core.ProcessingRun) {
		run.State = state
		run.CurrentAccount = ""
		for _, e := range events {
			o.events.Publish(e)
		}
	})
}

func (o *Orchestrator) clear(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.runID == id {
		o.run = nil
		o.cancel = nil
	}
}

func copyStats(in map[string]core.ProcessingStats) map[string]core.ProcessingStats {
	out := make(map[string]core.ProcessingStats, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
