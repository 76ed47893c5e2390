package cvg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client issues single-attempt JSON requests against the gateway API rooted
// at the per-dialog callback URL. There is no retry and no response caching;
// every call is one request, one response.
type Client struct {
	baseURL string
	httpc   *http.Client
	log     *slog.Logger
}

// NewClient builds a client for one reply channel. The proxy, when set,
// routes all gateway traffic for this dialog.
func NewClient(callbackURL, proxy string, log *slog.Logger) (*Client, error) {
	if callbackURL == "" {
		return nil, fmt.Errorf("cvg: callback url is required")
	}

	httpc := &http.Client{Timeout: 30 * time.Second}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("cvg: invalid proxy url %q: %w", proxy, err)
		}
		httpc.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	}

	if log == nil {
		log = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(callbackURL, "/"),
		httpc:   httpc,
		log:     log,
	}, nil
}

// Execute sends one request to base URL + path. A nil body is sent as an
// empty JSON object. A 204 yields an empty body with no parse attempt; any
// other response must carry JSON or the call fails. Non-2xx statuses are
// logged as a diagnostic and still returned to the caller, who owns the
// decision of what they mean.
func (c *Client) Execute(ctx context.Context, path, method string, body map[string]any) (int, map[string]any, error) {
	if body == nil {
		body = map[string]any{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("cvg: marshal body for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, fmt.Errorf("cvg: build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("cvg: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, map[string]any{}, nil
	}

	var parsed map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("cvg: %s %s: response body is not json: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("gateway request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"body", parsed,
		)
	}

	return resp.StatusCode, parsed, nil
}
