package graph

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap/zaptest"
)

type fakeGraph struct {
	mu    sync.Mutex
	moves map[string]string
	token string
}

func (f *fakeGraph) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	var server string

	authorized := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer "+f.token {
			http.Error(w, `{"error":{"code":"InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("/v1.0/me/mailFolders/inbox/messages", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		server = "http://" + r.Host
		if !strings.HasPrefix(r.URL.Query().Get("$filter"), "receivedDateTime ge ") {
			t.Errorf("missing date filter: %q", r.URL.RawQuery)
		}
		io.WriteString(w, `{"value":[{"id":"AAA","internetMessageId":"<one@example.com>","subject":"Hello","from":{"emailAddress":{"name":"Bob","address":"Bob@Example.com"}},"body":{"contentType":"html","content":"<p>hi</p>"},"receivedDateTime":"2024-05-01T10:00:00Z"}],"@odata.nextLink":"`+server+`/v1.0/page2"}`)
	})
	mux.HandleFunc("/v1.0/page2", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		io.WriteString(w, `{"value":[{"id":"BBB","subject":"Second","from":{"emailAddress":{"address":"c@example.com"}},"body":{"contentType":"text","content":"plain"},"receivedDateTime":"2024-05-02T10:00:00Z"}]}`)
	})
	mux.HandleFunc("/v1.0/me/messages/", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1.0/me/messages/"), "/move")
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if id == "missing" {
			http.Error(w, `{"error":{"code":"ErrorItemNotFound"}}`, http.StatusNotFound)
			return
		}
		f.mu.Lock()
		f.moves[id] = body["destinationId"]
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"moved"}`)
	})
	mux.HandleFunc("/v1.0/me/mailFolders/inbox", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(w, r) {
			return
		}
		io.WriteString(w, `{"id":"inbox-id"}`)
	})
	return mux
}

func newFixture(t *testing.T) (*Provider, *fakeGraph) {
	t.Helper()
	fake := &fakeGraph{moves: map[string]string{}, token: "secret"}
	server := httptest.NewServer(fake.handler(t))
	t.Cleanup(server.Close)
	return NewProvider(server.URL+"/v1.0", zaptest.NewLogger(t)), fake
}

func TestFetchEmailsFollowsPages(t *testing.T) {
	p, _ := newFixture(t)
	conn := &core.ConnectionConfig{AccessToken: "secret"}

	emails, err := p.FetchEmails(context.Background(), conn, 7)
	if err != nil {
		t.Fatalf("FetchEmails: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("got %d emails, want 2", len(emails))
	}

	first := emails[0]
	if first.ID != "one@example.com" || first.ProviderID != "AAA" {
		t.Errorf("ids = %q / %q", first.ID, first.ProviderID)
	}
	if first.FromAddr != "bob@example.com" || first.FromName != "Bob" {
		t.Errorf("from = %q <%q>", first.FromName, first.FromAddr)
	}
	if first.HTMLBody != "<p>hi</p>" || first.Body != "" {
		t.Errorf("html body not kept apart: %+v", first)
	}
	if first.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not parsed")
	}
	if emails[1].Body != "plain" || emails[1].ID != "BBB" {
		t.Errorf("second email = %+v", emails[1])
	}
}

func TestMoveToSpamFolder(t *testing.T) {
	p, fake := newFixture(t)
	ctx := context.Background()

	if err := p.MoveToSpamFolder(ctx, &core.ConnectionConfig{AccessToken: "secret"}, "AAA"); err != nil {
		t.Fatalf("MoveToSpamFolder: %v", err)
	}
	if err := p.MoveToSpamFolder(ctx, &core.ConnectionConfig{AccessToken: "secret", SpamFolder: "quarantine-id"}, "BBB"); err != nil {
		t.Fatalf("MoveToSpamFolder: %v", err)
	}
	if fake.moves["AAA"] != junkFolder || fake.moves["BBB"] != "quarantine-id" {
		t.Errorf("moves = %v", fake.moves)
	}

	if err := p.MoveToSpamFolder(ctx, &core.ConnectionConfig{AccessToken: "secret"}, "missing"); err == nil {
		t.Error("expected an error for an unknown message")
	}
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	p, _ := newFixture(t)
	conn := &core.ConnectionConfig{AccessToken: "expired"}

	_, err := p.FetchEmails(context.Background(), conn, 7)
	if !core.IsProviderAuthError(err) {
		t.Fatalf("expected ProviderAuthError, got %v", err)
	}
	if err := p.TestConnection(context.Background(), conn); !core.IsProviderAuthError(err) {
		t.Fatalf("TestConnection: expected ProviderAuthError, got %v", err)
	}
	if err := p.TestConnection(context.Background(), &core.ConnectionConfig{AccessToken: "secret"}); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}
