package imap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mikey/llm-mail-triage/internal/core"
	"github.com/mikey/llm-mail-triage/internal/utils"
	"go.uber.org/zap"
)

const inbox = "INBOX"

// fallbackJunkFolders are tried, in order, after the configured folder and
// any mailbox flagged \Junk
var fallbackJunkFolders = []string{
	"Junk",
	"Spam",
	"[Gmail]/Spam",
	"Junk E-mail",
	"INBOX.Junk",
	"INBOX.Spam",
}

// Provider implements the MailProvider interface over IMAP
type Provider struct {
	logger *zap.Logger
}

// NewProvider creates a new IMAP mail provider
func NewProvider(logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		logger: logger.Named("imap"),
	}
}

// session is an authenticated connection with INBOX selected
type session struct {
	client *imapclient.Client
	stop   func() bool
}

func (s *session) close() {
	s.stop()
	_ = s.client.Logout().Wait()
	_ = s.client.Close()
}

func address(conn *core.ConnectionConfig) string {
	port := conn.Port
	if port == 0 {
		port = 143
		if conn.TLS {
			port = 993
		}
	}
	return net.JoinHostPort(conn.Host, strconv.Itoa(port))
}

// open dials, authenticates and selects INBOX. The connection is closed when
// ctx is cancelled so that blocked commands return.
func (p *Provider) open(ctx context.Context, conn *core.ConnectionConfig) (*session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := address(conn)
	var client *imapclient.Client
	var err error
	if conn.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, &core.TransientBackendError{Backend: "imap", Op: "connect " + addr, Err: err}
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })

	if err := client.Login(conn.Username, conn.Password).Wait(); err != nil {
		stop()
		_ = client.Close()
		var imapErr *goimap.Error
		if errors.As(err, &imapErr) {
			return nil, &core.ProviderAuthError{Provider: core.ProviderIMAP, Err: err}
		}
		return nil, &core.TransientBackendError{Backend: "imap", Op: "login", Err: err}
	}

	s := &session{client: client, stop: stop}
	if _, err := client.Select(inbox, nil).Wait(); err != nil {
		s.close()
		return nil, fmt.Errorf("selecting %s: %w", inbox, err)
	}
	return s, nil
}

// FetchEmails returns the INBOX messages received within maxAgeDays. Bodies
// are fetched with PEEK so the messages stay unread.
func (p *Provider) FetchEmails(ctx context.Context, conn *core.ConnectionConfig, maxAgeDays int) ([]*core.Email, error) {
	s, err := p.open(ctx, conn)
	if err != nil {
		return nil, err
	}
	defer s.close()

	since := time.Now().AddDate(0, 0, -maxAgeDays)
	searchData, err := s.client.UIDSearch(&goimap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &goimap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(goimap.UIDSetNum(uids...), &goimap.FetchOptions{
		Envelope:     true,
		UID:          true,
		InternalDate: true,
		BodySection:  []*goimap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	emails := make([]*core.Email, 0, len(uids))
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			p.logger.Warn("Failed to read message", zap.Error(err))
			continue
		}
		emails = append(emails, emailFromBuffer(buf, buf.FindBodySection(bodySection)))
	}

	if err := fetchCmd.Close(); err != nil {
		return emails, fmt.Errorf("fetching messages: %w", err)
	}

	p.logger.Debug("Fetched messages",
		zap.String("username", conn.Username),
		zap.Int("count", len(emails)))
	return emails, nil
}

// MoveToSpamFolder moves the message with the given UID out of INBOX
func (p *Provider) MoveToSpamFolder(ctx context.Context, conn *core.ConnectionConfig, emailID string) error {
	uid, err := strconv.ParseUint(emailID, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid IMAP UID %q: %w", emailID, err)
	}

	s, err := p.open(ctx, conn)
	if err != nil {
		return err
	}
	defer s.close()

	listed, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		p.logger.Debug("Mailbox listing failed, trying default names", zap.Error(err))
	}

	uidSet := goimap.UIDSetNum(goimap.UID(uid))
	var lastErr error
	for _, folder := range junkCandidates(conn.SpamFolder, listed) {
		if _, err := s.client.Move(uidSet, folder).Wait(); err != nil {
			lastErr = err
			continue
		}
		p.logger.Debug("Moved message",
			zap.String("uid", emailID),
			zap.String("folder", folder))
		return nil
	}
	return fmt.Errorf("no spam folder accepted the message: %w", lastErr)
}

// TestConnection logs in and selects INBOX
func (p *Provider) TestConnection(ctx context.Context, conn *core.ConnectionConfig) error {
	s, err := p.open(ctx, conn)
	if err != nil {
		return err
	}
	s.close()
	return nil
}

// junkCandidates orders the folders a spam message may be moved to. Only
// listed folders are tried when the server returned a listing.
func junkCandidates(configured string, listed []*goimap.ListData) []string {
	exists := make(map[string]bool, len(listed))
	var flagged []string
	for _, data := range listed {
		exists[data.Mailbox] = true
		for _, attr := range data.Attrs {
			if attr == goimap.MailboxAttrJunk {
				flagged = append(flagged, data.Mailbox)
			}
		}
	}

	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		if len(listed) > 0 && !exists[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	add(configured)
	for _, name := range flagged {
		add(name)
	}
	for _, name := range fallbackJunkFolders {
		add(name)
	}
	return out
}

func emailFromBuffer(buf *imapclient.FetchMessageBuffer, raw []byte) *core.Email {
	uid := strconv.FormatUint(uint64(buf.UID), 10)
	email := &core.Email{
		ID:         uid,
		ProviderID: uid,
		ReceivedAt: buf.InternalDate,
	}

	if raw != nil {
		parsed := utils.ParseMessage(raw)
		email.Subject = parsed.Subject
		email.FromName = parsed.FromName
		email.FromAddr = parsed.FromAddr
		email.Body = parsed.TextBody
		email.HTMLBody = parsed.HTMLBody
		if parsed.MessageID != "" {
			email.ID = parsed.MessageID
		}
		if email.ReceivedAt.IsZero() {
			email.ReceivedAt = parsed.Date
		}
	}

	if env := buf.Envelope; env != nil {
		if env.Subject != "" {
			email.Subject = env.Subject
		}
		if len(env.From) > 0 {
			email.FromName = env.From[0].Name
			email.FromAddr = strings.ToLower(env.From[0].Addr())
		}
		if env.MessageID != "" {
			email.ID = env.MessageID
		}
		if email.ReceivedAt.IsZero() {
			email.ReceivedAt = env.Date
		}
	}
	return email
}
