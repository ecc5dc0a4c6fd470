package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	labelSpam  = "SPAM"
	labelInbox = "INBOX"
	pageSize   = 100
)

// Provider implements the MailProvider interface over the Gmail API
type Provider struct {
	endpoint string
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewProvider creates a Gmail provider. endpoint overrides the API base URL
// and is empty in production.
func NewProvider(endpoint string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("gmail")

	cbSettings := gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Provider{
		endpoint: endpoint,
		cb:       gobreaker.NewCircuitBreaker(cbSettings),
		logger:   logger,
	}
}

func oauthConfig(conn *core.ConnectionConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     conn.ClientID,
		ClientSecret: conn.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}
}

func (p *Provider) service(ctx context.Context, conn *core.ConnectionConfig) (*gmail.Service, error) {
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiry,
		TokenType:    "Bearer",
	}
	opts := []option.ClientOption{
		option.WithHTTPClient(oauthConfig(conn).Client(ctx, token)),
	}
	if p.endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.endpoint))
	}

	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return srv, nil
}

// FetchEmails lists inbox messages newer than maxAgeDays and downloads each
// one in raw form
func (p *Provider) FetchEmails(ctx context.Context, conn *core.ConnectionConfig, maxAgeDays int) ([]*core.Email, error) {
	srv, err := p.service(ctx, conn)
	if err != nil {
		return nil, err
	}

	var refs []*gmail.Message
	query := fmt.Sprintf("in:inbox newer_than:%dd", maxAgeDays)
	pageToken := ""
	for {
		var resp *gmail.ListMessagesResponse
		err := p.execute(ctx, "list messages", func() error {
			req := srv.Users.Messages.List("me").Q(query).MaxResults(pageSize).Context(ctx)
			if pageToken != "" {
				req = req.PageToken(pageToken)
			}
			var err error
			resp, err = req.Do()
			return err
		})
		if err != nil {
			return nil, err
		}
		refs = append(refs, resp.Messages...)
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	emails := make([]*core.Email, 0, len(refs))
	for _, ref := range refs {
		var msg *gmail.Message
		err := p.execute(ctx, "get message", func() error {
			var err error
			msg, err = srv.Users.Messages.Get("me", ref.Id).Format("raw").Context(ctx).Do()
			return err
		})
		if err != nil {
			if core.IsProviderAuthError(err) || ctx.Err() != nil {
				return nil, err
			}
			p.logger.Warn("Failed to download message",
				zap.String("message_id", ref.Id),
				zap.Error(err))
			continue
		}

		email, err := convertMessage(msg)
		if err != nil {
			p.logger.Warn("Failed to decode message",
				zap.String("message_id", ref.Id),
				zap.Error(err))
			continue
		}
		emails = append(emails, email)
	}

	p.logger.Debug("Fetched messages",
		zap.String("username", conn.Username),
		zap.Int("count", len(emails)))
	return emails, nil
}

// MoveToSpamFolder labels the message SPAM and removes it from the inbox
func (p *Provider) MoveToSpamFolder(ctx context.Context, conn *core.ConnectionConfig, emailID string) error {
	srv, err := p.service(ctx, conn)
	if err != nil {
		return err
	}

	return p.execute(ctx, "modify labels", func() error {
		_, err := srv.Users.Messages.Modify("me", emailID, &gmail.ModifyMessageRequest{
			AddLabelIds:    []string{labelSpam},
			RemoveLabelIds: []string{labelInbox},
		}).Context(ctx).Do()
		return err
	})
}

// TestConnection reads the mailbox profile
func (p *Provider) TestConnection(ctx context.Context, conn *core.ConnectionConfig) error {
	srv, err := p.service(ctx, conn)
	if err != nil {
		return err
	}

	return p.execute(ctx, "get profile", func() error {
		_, err := srv.Users.GetProfile("me").Context(ctx).Do()
		return err
	})
}

// nonCircuitError carries client-side failures through the breaker without
// counting them against the API
type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

// execute wraps an API call with circuit breaker protection and maps the
// outcome onto the pipeline's error types
func (p *Provider) execute(ctx context.Context, op string, fn func() error) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429 {
				return nil, &nonCircuitError{err: err}
			}
			return nil, err
		}
		return nil, nil
	})
	if err == nil {
		return nil
	}

	var nce *nonCircuitError
	if errors.As(err, &nce) {
		err = nce.err
	}
	return wrapError(err, op)
}

func wrapError(err error, op string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
		return &core.ProviderAuthError{Provider: core.ProviderGmail, Err: err}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &core.ProviderAuthError{Provider: core.ProviderGmail, Err: err}
	}
	return &core.TransientBackendError{Backend: "gmail", Op: op, Err: err}
}

func decodeRaw(raw string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
}

func convertMessage(msg *gmail.Message) (*core.Email, error) {
	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return nil, fmt.Errorf("invalid raw encoding: %w", err)
	}

	parsed := utils.ParseMessage(raw)
	email := &core.Email{
		ID:         msg.Id,
		ProviderID: msg.Id,
		Subject:    parsed.Subject,
		FromName:   parsed.FromName,
		FromAddr:   strings.ToLower(parsed.FromAddr),
		Body:       parsed.TextBody,
		HTMLBody:   parsed.HTMLBody,
		ReceivedAt: parsed.Date,
	}
	if parsed.MessageID != "" {
		email.ID = parsed.MessageID
	}
	if msg.InternalDate > 0 {
		email.ReceivedAt = time.UnixMilli(msg.InternalDate)
	}
	return email, nil
}
