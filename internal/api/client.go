// Package api is the authenticated dashboard consumer. It never
// inspects the token; it only presents it and reports rejection back
// to the session controller.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ledgerview/ledgerview/internal/ioutil"
	"github.com/ledgerview/ledgerview/internal/urlutil"
)

// DefaultBaseURL is the documented fallback when no API base is
// configured, matching a locally run service.
const DefaultBaseURL = "http://localhost:3000/api/mobile/"

// ErrCredentialRejected maps a 401 response. The caller routes it to
// Controller.CredentialRejected; it is the only revocation signal the
// client ever gets.
var ErrCredentialRejected = errors.New("credential rejected by service")

const maxErrorBody = 4 * 1024

// Client talks to the finance service with a bearer credential.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient builds a client for one credential. The token rides in an
// Authorization: Bearer header on every request.
func NewClient(ctx context.Context, baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	})
	httpc := oauth2.NewClient(ctx, source)
	httpc.Timeout = 15 * time.Second
	return &Client{baseURL: baseURL, httpc: httpc}
}

// GetDashboard fetches aggregate balances and recent transactions.
func (c *Client) GetDashboard(ctx context.Context) (*Dashboard, error) {
	var dashboard Dashboard
	if err := c.get(ctx, "dashboard", &dashboard); err != nil {
		return nil, err
	}
	return &dashboard, nil
}

// GetTransactions fetches the full transaction list.
func (c *Client) GetTransactions(ctx context.Context) ([]Transaction, error) {
	var transactions []Transaction
	if err := c.get(ctx, "transactions", &transactions); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	url, err := urlutil.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return fmt.Errorf("building %s URL: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building %s request: %w", endpoint, err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrCredentialRejected
	case resp.StatusCode != http.StatusOK:
		body := ioutil.ReadLimited(resp.Body, maxErrorBody)
		return fmt.Errorf("fetching %s: status %d: %s", endpoint, resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}
