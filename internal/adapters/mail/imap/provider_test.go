package imap

import (
	"context"
	"reflect"
	"testing"
	"time"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/mikey/llm-mail-triage/internal/core"
)

func TestJunkCandidates(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		listed     []*goimap.ListData
		want       []string
	}{
		{
			name:       "no listing falls back to every name",
			configured: "Quarantine",
			want:       append([]string{"Quarantine"}, fallbackJunkFolders...),
		},
		{
			name:       "special-use folder comes after the configured one",
			configured: "Quarantine",
			listed: []*goimap.ListData{
				{Mailbox: "INBOX"},
				{Mailbox: "Quarantine"},
				{Mailbox: "Bulk Mail", Attrs: []goimap.MailboxAttr{goimap.MailboxAttrJunk}},
				{Mailbox: "Spam"},
			},
			want: []string{"Quarantine", "Bulk Mail", "Spam"},
		},
		{
			name:       "configured folder missing from listing is skipped",
			configured: "Nope",
			listed:     []*goimap.ListData{{Mailbox: "INBOX"}, {Mailbox: "Junk"}},
			want:       []string{"Junk"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := junkCandidates(tt.configured, tt.listed)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("junkCandidates() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmailFromBuffer(t *testing.T) {
	raw := []byte("From: Alice <alice@example.com>\r\n" +
		"Subject: Minutes\r\n" +
		"Message-ID: <m1@example.com>\r\n" +
		"\r\n" +
		"Notes attached.\r\n")
	received := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	buf := &imapclient.FetchMessageBuffer{
		UID:          42,
		InternalDate: received,
		Envelope: &goimap.Envelope{
			Subject:   "Minutes",
			MessageID: "m1@example.com",
			From:      []goimap.Address{{Name: "Alice", Mailbox: "Alice", Host: "Example.com"}},
		},
	}

	email := emailFromBuffer(buf, raw)
	if email.ProviderID != "42" {
		t.Errorf("ProviderID = %q", email.ProviderID)
	}
	if email.ID != "m1@example.com" {
		t.Errorf("ID = %q", email.ID)
	}
	if email.FromAddr != "alice@example.com" || email.FromName != "Alice" {
		t.Errorf("From = %q <%q>", email.FromName, email.FromAddr)
	}
	if !email.ReceivedAt.Equal(received) {
		t.Errorf("ReceivedAt = %v", email.ReceivedAt)
	}
	if email.Body == "" {
		t.Error("body not parsed")
	}
}

func TestAddressDefaultsPort(t *testing.T) {
	if got := address(&core.ConnectionConfig{Host: "mail.example.com", TLS: true}); got != "mail.example.com:993" {
		t.Errorf("address = %q", got)
	}
	if got := address(&core.ConnectionConfig{Host: "mail.example.com"}); got != "mail.example.com:143" {
		t.Errorf("address = %q", got)
	}
}

func TestMoveRejectsInvalidUID(t *testing.T) {
	p := NewProvider(nil)
	if err := p.MoveToSpamFolder(context.Background(), &core.ConnectionConfig{}, "<msg@id>"); err == nil {
		t.Fatal("expected an error for a non-numeric UID")
	}
}
