package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// MerchantDirectory answers whether a caller is a merchant and, if so,
// under what storefront name. Consulted once per session start when the
// caller claims the merchant role.
type MerchantDirectory interface {
	Lookup(ctx context.Context, callerID string) (isMerchant bool, displayName string, err error)
}

// directoryCacheTTL bounds how long a lookup is reused. Merchant status
// changes rarely; a short TTL keeps revoked merchants from lingering.
const directoryCacheTTL = 5 * time.Minute

type directoryEntry struct {
	isMerchant  bool
	displayName string
	exp         time.Time
}

// DirectoryClient is the HTTP merchant directory with a small TTL cache,
// so the directory is hit once per session rather than once per request.
type DirectoryClient struct {
	baseURL    string
	httpClient *http.Client

	mu    sync.RWMutex
	cache map[string]directoryEntry
}

func NewDirectoryClient(baseURL string, httpClient *http.Client) *DirectoryClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &DirectoryClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		cache:      make(map[string]directoryEntry),
	}
}

func (d *DirectoryClient) Lookup(ctx context.Context, callerID string) (bool, string, error) {
	d.mu.RLock()
	entry, ok := d.cache[callerID]
	d.mu.RUnlock()
	if ok && time.Now().Before(entry.exp) {
		return entry.isMerchant, entry.displayName, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.baseURL+"/internal/merchants/"+url.PathEscape(callerID), nil)
	if err != nil {
		return false, "", fmt.Errorf("directory: build request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("directory: lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		d.store(callerID, directoryEntry{exp: time.Now().Add(directoryCacheTTL)})
		return false, "", nil
	case http.StatusOK:
		var merchant struct {
			DisplayName string `json:"display_name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&merchant); err != nil {
			return false, "", fmt.Errorf("directory: decode merchant: %w", err)
		}
		d.store(callerID, directoryEntry{
			isMerchant:  true,
			displayName: merchant.DisplayName,
			exp:         time.Now().Add(directoryCacheTTL),
		})
		return true, merchant.DisplayName, nil
	default:
		return false, "", fmt.Errorf("directory: lookup: status %d", resp.StatusCode)
	}
}

func (d *DirectoryClient) store(callerID string, entry directoryEntry) {
	d.mu.Lock()
	d.cache[callerID] = entry
	d.mu.Unlock()
}
