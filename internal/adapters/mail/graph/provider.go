package graph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/mikey/llm-mail-triage/internal/core"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const (
	// DefaultBaseURL is the Microsoft Graph v1.0 endpoint
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"

	junkFolder = "junkemail"
	pageSize   = 50
)

var scopes = []string{
	"https://graph.microsoft.com/Mail.ReadWrite",
	"offline_access",
}

// Provider implements the MailProvider interface over the Microsoft Graph API
type Provider struct {
	baseURL string
	logger  *zap.Logger
}

// NewProvider creates a Graph provider. An empty baseURL selects DefaultBaseURL.
func NewProvider(baseURL string, logger *zap.Logger) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.Named("graph"),
	}
}

func oauthConfig(conn *core.ConnectionConfig) *oauth2.Config {
	tenantID := conn.TenantID
	if tenantID == "" {
		tenantID = "common"
	}
	return &oauth2.Config{
		ClientID:     conn.ClientID,
		ClientSecret: conn.ClientSecret,
		Scopes:       scopes,
		Endpoint:     microsoft.AzureADEndpoint(tenantID),
	}
}

func (p *Provider) httpClient(ctx context.Context, conn *core.ConnectionConfig) *http.Client {
	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiry,
		TokenType:    "Bearer",
	}
	return oauthConfig(conn).Client(ctx, token)
}

type graphMessage struct {
	ID               string         `json:"id"`
	InternetMessage  string         `json:"internetMessageId"`
	Subject          string         `json:"subject"`
	Body             graphBody      `json:"body"`
	From             graphRecipient `json:"from"`
	ReceivedDateTime string         `json:"receivedDateTime"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type graphRecipient struct {
	EmailAddress graphEmailAddress `json:"emailAddress"`
}

type graphEmailAddress struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type messagePage struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// FetchEmails pages through the inbox messages received within maxAgeDays
func (p *Provider) FetchEmails(ctx context.Context, conn *core.ConnectionConfig, maxAgeDays int) ([]*core.Email, error) {
	client := p.httpClient(ctx, conn)

	since := time.Now().UTC().AddDate(0, 0, -maxAgeDays).Format(time.RFC3339)
	query := url.Values{}
	query.Set("$filter", "receivedDateTime ge "+since)
	query.Set("$select", "id,internetMessageId,subject,from,body,receivedDateTime")
	query.Set("$orderby", "receivedDateTime desc")
	query.Set("$top", fmt.Sprintf("%d", pageSize))
	next := p.baseURL + "/me/mailFolders/inbox/messages?" + query.Encode()

	var emails []*core.Email
	for next != "" {
		var page messagePage
		if err := p.doGet(ctx, client, next, &page); err != nil {
			return nil, err
		}
		for i := range page.Value {
			emails = append(emails, convertMessage(&page.Value[i]))
		}
		next = page.NextLink
	}

	p.logger.Debug("Fetched messages",
		zap.String("username", conn.Username),
		zap.Int("count", len(emails)))
	return emails, nil
}

// MoveToSpamFolder moves the message to the Junk Email folder, or to the
// configured folder ID when one is set
func (p *Provider) MoveToSpamFolder(ctx context.Context, conn *core.ConnectionConfig, emailID string) error {
	destination := conn.SpamFolder
	if destination == "" {
		destination = junkFolder
	}

	client := p.httpClient(ctx, conn)
	endpoint := p.baseURL + "/me/messages/" + url.PathEscape(emailID) + "/move"
	return p.doPost(ctx, client, endpoint, map[string]string{"destinationId": destination})
}

// TestConnection reads the inbox folder metadata
func (p *Provider) TestConnection(ctx context.Context, conn *core.ConnectionConfig) error {
	client := p.httpClient(ctx, conn)
	var folder struct {
		ID string `json:"id"`
	}
	return p.doGet(ctx, client, p.baseURL+"/me/mailFolders/inbox?$select=id", &folder)
}

func (p *Provider) doGet(ctx context.Context, client *http.Client, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", `outlook.body-content-type="html"`)

	resp, err := client.Do(req)
	if err != nil {
		return wrapError(err, "request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return wrapHTTPError(resp.StatusCode, string(body))
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(result)
	}
	return nil
}

func (p *Provider) doPost(ctx context.Context, client *http.Client, endpoint string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return wrapError(err, "move message")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return wrapHTTPError(resp.StatusCode, string(respBody))
	}
	return nil
}

func convertMessage(msg *graphMessage) *core.Email {
	email := &core.Email{
		ID:         msg.ID,
		ProviderID: msg.ID,
		Subject:    msg.Subject,
		FromName:   msg.From.EmailAddress.Name,
		FromAddr:   strings.ToLower(msg.From.EmailAddress.Address),
	}
	if msg.InternetMessage != "" {
		email.ID = strings.Trim(msg.InternetMessage, "<>")
	}
	if strings.EqualFold(msg.Body.ContentType, "html") {
		email.HTMLBody = msg.Body.Content
	} else {
		email.Body = msg.Body.Content
	}
	if t, err := time.Parse(time.RFC3339, msg.ReceivedDateTime); err == nil {
		email.ReceivedAt = t
	}
	return email
}

// wrapError classifies a transport failure. A failed token refresh means the
// stored credentials are no longer usable.
func wrapError(err error, op string) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return &core.ProviderAuthError{Provider: core.ProviderGraph, Err: err}
	}
	return &core.TransientBackendError{Backend: "graph", Op: op, Err: err}
}

func wrapHTTPError(statusCode int, body string) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &core.ProviderAuthError{
			Provider: core.ProviderGraph,
			Err:      fmt.Errorf("HTTP %d: %s", statusCode, body),
		}
	default:
		return &core.TransientBackendError{
			Backend: "graph",
			Op:      "request",
			Err:     fmt.Errorf("HTTP %d: %s", statusCode, body),
		}
	}
}
