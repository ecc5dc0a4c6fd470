package core

import (
	"time"
)

// Email represents a message fetched from a mailbox. It is never persisted;
// only its checksum outlives a run.
type Email struct {
	ID         string
	AccountID  string
	Subject    string
	FromName   string
	FromAddr   string
	Body       string
	HTMLBody   string
	ReceivedAt time.Time
	ProviderID string
}

// Sender returns the display form of the sender
func (e *Email) Sender() string {
	if e.FromName == "" {
		return e.FromAddr
	}
	if e.FromAddr == "" {
		return e.FromName
	}
	return e.FromName + " <" + e.FromAddr + ">"
}

// Checksum returns the dedup checksum of the email content. HTML-only
// messages are hashed over their HTML body.
func (e *Email) Checksum() string {
	return Checksum(e.Subject, e.ContentBody())
}

// ContentBody returns the plain text body, or the HTML body when the message
// has no text part
func (e *Email) ContentBody() string {
	if e.Body != "" {
		return e.Body
	}
	return e.HTMLBody
}

// RuleScope limits a rule to a set of accounts. An empty AccountIDs list
// means the rule applies to every account.
type RuleScope struct {
	AccountIDs []string `mapstructure:"account_ids"`
}

// Rule is a user-defined classification hint
type Rule struct {
	ID      string    `mapstructure:"id"`
	Name    string    `mapstructure:"name"`
	Text    string    `mapstructure:"text"`
	Enabled bool      `mapstructure:"enabled"`
	Scope   RuleScope `mapstructure:"scope"`
}

// AppliesTo reports whether the rule is enabled and in scope for the account
func (r Rule) AppliesTo(accountID string) bool {
	if !r.Enabled {
		return false
	}
	if len(r.Scope.AccountIDs) == 0 {
		return true
	}
	for _, id := range r.Scope.AccountIDs {
		if id == accountID {
			return true
		}
	}
	return false
}

// ProviderType identifies the mail provider implementation for an account
type ProviderType string

const (
	ProviderIMAP  ProviderType = "imap"
	ProviderGraph ProviderType = "graph"
	ProviderGmail ProviderType = "gmail"
)

// AccountStatus is the externally managed state of an account
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountInactive  AccountStatus = "inactive"
	AccountAuthError AccountStatus = "auth_error"
)

// ConnectionConfig carries everything a mail provider needs to reach a mailbox.
// IMAP uses the host fields, Graph and Gmail use the OAuth fields.
type ConnectionConfig struct {
	Host         string    `mapstructure:"host"`
	Port         int       `mapstructure:"port"`
	Username     string    `mapstructure:"username"`
	Password     string    `mapstructure:"password"`
	TLS          bool      `mapstructure:"tls"`
	SpamFolder   string    `mapstructure:"spam_folder"`
	AccessToken  string    `mapstructure:"access_token"`
	RefreshToken string    `mapstructure:"refresh_token"`
	TokenExpiry  time.Time `mapstructure:"token_expiry"`
	ClientID     string    `mapstructure:"client_id"`
	ClientSecret string    `mapstructure:"client_secret"`
	TenantID     string    `mapstructure:"tenant_id"`
}

// Account is a mailbox the pipeline triages
type Account struct {
	ID         string           `mapstructure:"id"`
	Name       string           `mapstructure:"name"`
	Address    string           `mapstructure:"address"`
	Provider   ProviderType     `mapstructure:"provider"`
	Status     AccountStatus    `mapstructure:"status"`
	Connection ConnectionConfig `mapstructure:"connection"`
}

// ClassificationResult is the validated verdict of the classifier.
// Score is always an integer in [MinScore, MaxScore].
type ClassificationResult struct {
	Score      int
	Reasoning  string
	Model      string
	AnalyzedAt time.Time
}

const (
	MinScore = 0
	MaxScore = 10
)

// IsSpam determines if the result crosses the sensitivity threshold
func (r *ClassificationResult) IsSpam(threshold int) bool {
	return r.Score >= threshold
}

// ProcessingStats counts what happened to the emails of one account or of a
// whole run.
type ProcessingStats struct {
	TotalEmails     int `json:"total_emails"`
	SpamEmails      int `json:"spam_emails"`
	ProcessedEmails int `json:"processed_emails"`
	SkippedEmails   int `json:"skipped_emails"`
	Errors          int `json:"errors"`
	MoveFailures    int `json:"move_failures"`
}

// Add accumulates other into s
func (s *ProcessingStats) Add(other ProcessingStats) {
	s.TotalEmails += other.TotalEmails
	s.SpamEmails += other.SpamEmails
	s.ProcessedEmails += other.ProcessedEmails
	s.SkippedEmails += other.SkippedEmails
	s.Errors += other.Errors
	s.MoveFailures += other.MoveFailures
}

// Handled is the number of emails that reached a terminal outcome
func (s ProcessingStats) Handled() int {
	return s.ProcessedEmails + s.SkippedEmails + s.Errors
}

// RunState is the lifecycle state of a processing run
type RunState string

const (
	RunIdle       RunState = "idle"
	RunProcessing RunState = "processing"
	RunCompleted  RunState = "completed"
	RunError      RunState = "error"
)

// ProcessingRun describes one orchestrator pass over a set of accounts
type ProcessingRun struct {
	State          RunState
	StartTime      time.Time
	Accounts       []string
	AccountStats   map[string]ProcessingStats
	OverallStats   ProcessingStats
	CurrentAccount string
}

// Clone returns a deep copy safe to hand to other goroutines
func (r *ProcessingRun) Clone() *ProcessingRun {
	if r == nil {
		return nil
	}
	c := *r
	c.Accounts = append([]string(nil), r.Accounts...)
	c.AccountStats = make(map[string]ProcessingStats, len(r.AccountStats))
	for k, v := range r.AccountStats {
		c.AccountStats[k] = v
	}
	return &c
}

// AggregateStats sums per-account stats
func AggregateStats(perAccount map[string]ProcessingStats) ProcessingStats {
	var total ProcessingStats
	for _, s := range perAccount {
		total.Add(s)
	}
	return total
}

// UserValidation records a human verdict on a stored classification
type UserValidation string

const (
	ValidationUnset         UserValidation = "unset"
	ValidationConfirmedSpam UserValidation = "confirmed_spam"
	ValidationConfirmedHam  UserValidation = "confirmed_ham"
)

// ParseUserValidation accepts the stored names plus the short forms spam, ham
// and unset
func ParseUserValidation(s string) (UserValidation, bool) {
	switch s {
	case "", string(ValidationUnset):
		return ValidationUnset, true
	case "spam", string(ValidationConfirmedSpam):
		return ValidationConfirmedSpam, true
	case "ham", string(ValidationConfirmedHam):
		return ValidationConfirmedHam, true
	default:
		return "", false
	}
}

// SimilarityRecord is a prior classification kept for retrieval
type SimilarityRecord struct {
	ID             string
	EmailID        string
	AccountID      string
	Subject        string
	Sender         string
	Body           string
	ReceivedAt     time.Time
	Embedding      []float32
	Result         ClassificationResult
	UserValidation UserValidation
	CreatedAt      time.Time
}

// SimilarityMatch is a record returned by a nearest-neighbour search
type SimilarityMatch struct {
	Record     SimilarityRecord
	Similarity float64
}
