// Package identity holds the clients for the two external collaborators
// the chat core consults about callers: the identity service (who is
// making this request) and the merchant directory (is this caller a
// merchant, and under what storefront name). Both are contract-only HTTP
// services owned elsewhere.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Caller is the identity service's answer for one session.
type Caller struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

// ErrUnauthorized means the session token did not resolve to a caller.
var ErrUnauthorized = errors.New("unauthorized")

// Client resolves session tokens against the identity service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// CurrentCaller validates the session token and returns the caller behind
// it. Invalid or expired tokens yield ErrUnauthorized.
func (c *Client) CurrentCaller(ctx context.Context, sessionToken string) (*Caller, error) {
	body, _ := json.Marshal(map[string]string{"session_token": sessionToken})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/validate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity: validate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity: validate: status %d", resp.StatusCode)
	}

	var caller Caller
	if err := json.NewDecoder(resp.Body).Decode(&caller); err != nil {
		return nil, fmt.Errorf("identity: decode caller: %w", err)
	}
	if caller.ID == "" {
		return nil, ErrUnauthorized
	}
	return &caller, nil
}
