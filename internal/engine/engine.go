package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cvg-connector/internal/channel"
)

// Handler is the dialogue engine as seen by the connector. The engine owns
// conversation state; the connector only delivers normalized messages and
// executes whatever responses come back.
type Handler interface {
	Deliver(ctx context.Context, msg *channel.UserMessage) ([]Response, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg *channel.UserMessage) ([]Response, error)

func (f HandlerFunc) Deliver(ctx context.Context, msg *channel.UserMessage) ([]Response, error) {
	return f(ctx, msg)
}

// Response is one engine action produced while processing a message.
// Text is spoken into the call; Custom carries gateway operations keyed by
// prefixed operation names (e.g. cvg_call_bridge).
type Response struct {
	Text   string          `json:"text,omitempty"`
	Custom json.RawMessage `json:"custom,omitempty"`
}

// HTTPForwarder delivers messages to a REST-ingesting engine endpoint and
// decodes the response array of engine actions. One attempt, no retries.
type HTTPForwarder struct {
	url    string
	client *http.Client
}

func NewHTTPForwarder(url string) *HTTPForwarder {
	return &HTTPForwarder{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (f *HTTPForwarder) Deliver(ctx context.Context, msg *channel.UserMessage) ([]Response, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("engine: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("engine: deliver message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("engine: delivery rejected: status=%d body=%s", resp.StatusCode, body)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var responses []Response
	if err := json.NewDecoder(resp.Body).Decode(&responses); err != nil {
		return nil, fmt.Errorf("engine: decode responses: %w", err)
	}
	return responses, nil
}
