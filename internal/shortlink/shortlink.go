// Package shortlink implements the Shortlink Minter (X2) contract: given a destination URL, return a short URL
// that, when visited, forces a browser traversal through a third-party interstitial before redirecting. The core
// treats the provider as an opaque black box; its only security contribution is making that traversal
// non-skippable, which the verification token's dwell-floor check later verifies actually happened.
package shortlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tollgate-bot/tollgate/internal/setting"
)

// Minter mints a short URL wrapping destinationURL.
type Minter interface {
	Mint(ctx context.Context, destinationURL string) (string, error)
}

// HTTPMinter implements Minter against a generic REST shortlink provider: POST {base_url}/api with the destination
// URL and an API key, expecting back a JSON body carrying the minted short URL.
type HTTPMinter struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPMinter builds an HTTPMinter. baseURL and apiKey are read live from the settings table
// (shortlink_base_url, shortlink_api_key) by the caller on every mint, since operators may rotate them without a
// redeploy; NewHTTPMinter itself just captures a fixed snapshot for callers that already resolved both.
func NewHTTPMinter(baseURL, apiKey string) *HTTPMinter {
	return &HTTPMinter{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type mintRequest struct {
	URL string `json:"url"`
}

type mintResponse struct {
	ShortURL string `json:"shorturl"`
}

// Mint calls the configured provider and returns the minted short URL.
func (m *HTTPMinter) Mint(ctx context.Context, destinationURL string) (string, error) {
	body, err := json.Marshal(mintRequest{URL: destinationURL})
	if err != nil {
		return "", fmt.Errorf("shortlink: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("shortlink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("shortlink: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("shortlink: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("shortlink: provider returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded mintResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("shortlink: unmarshal response: %w", err)
	}
	if decoded.ShortURL == "" {
		return "", fmt.Errorf("shortlink: provider response missing shorturl field")
	}

	return decoded.ShortURL, nil
}

// SettingsReader is the subset of the settings repository LiveMinter resolves credentials from.
type SettingsReader interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
}

// LiveMinter is the Minter cmd/tollgate-bot wires into the verification CTA. It re-reads the provider's base URL
// and API key from the settings table on every call instead of capturing them once at startup, so an operator
// rotating credentials through the admin API takes effect on the next mint without a bot restart.
type LiveMinter struct {
	settings SettingsReader
	client   *http.Client
}

// NewLiveMinter builds a LiveMinter.
func NewLiveMinter(settings SettingsReader) *LiveMinter {
	return &LiveMinter{settings: settings, client: &http.Client{Timeout: 10 * time.Second}}
}

// Mint resolves the live shortlink_base_url/shortlink_api_key settings and delegates to an HTTPMinter. It returns an
// error if no base URL is configured yet, so callers can fall back to the unshortened verification URL rather than
// blocking the CTA on a provider that was never set up.
func (m *LiveMinter) Mint(ctx context.Context, destinationURL string) (string, error) {
	baseURL, ok, err := m.settings.Get(ctx, setting.KeyShortlinkBaseURL)
	if err != nil {
		return "", fmt.Errorf("shortlink: read %s: %w", setting.KeyShortlinkBaseURL, err)
	}
	if !ok || baseURL == "" {
		return "", fmt.Errorf("shortlink: %s is not configured", setting.KeyShortlinkBaseURL)
	}
	apiKey, _, err := m.settings.Get(ctx, setting.KeyShortlinkAPIKey)
	if err != nil {
		return "", fmt.Errorf("shortlink: read %s: %w", setting.KeyShortlinkAPIKey, err)
	}

	minter := &HTTPMinter{client: m.client, baseURL: baseURL, apiKey: apiKey}
	return minter.Mint(ctx, destinationURL)
}
