package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/parleybot/parley/internal/httpkit"
	"github.com/parleybot/parley/internal/proto"
)

// sessionHeader carries session affinity for HTTP tool servers that
// track per-client state across requests.
const sessionHeader = "Parley-Session"

// HTTPConfig configures an HTTP transport to a remote tool server
// (JSON-RPC over POST).
type HTTPConfig struct {
	// URL is the tool server endpoint.
	URL string

	// Headers are additional HTTP headers sent with every request
	// (e.g., Authorization).
	Headers map[string]string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// HTTPTransport sends each JSON-RPC request as an HTTP POST and reads
// the response from the response body.
type HTTPTransport struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string
}

// NewHTTPTransport creates an HTTP transport for the given config.
// The underlying HTTP client is constructed via httpkit.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPTransport{
		url:        cfg.URL,
		headers:    cfg.Headers,
		httpClient: httpkit.NewClient(),
		logger:     logger,
	}
}

// Send sends a JSON-RPC request via HTTP POST and returns the response.
func (t *HTTPTransport) Send(ctx context.Context, req *proto.Request) (*proto.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := t.newPost(ctx, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to %s: %w", t.url, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	// Capture session ID from the response for subsequent requests.
	if sid := httpResp.Header.Get(sessionHeader); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}

	if httpResp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 1<<20)
		return nil, fmt.Errorf("tool server returned %d: %s", httpResp.StatusCode, errBody)
	}

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20)) // 10 MiB limit
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var resp proto.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	return &resp, nil
}

// Notify sends a JSON-RPC notification via HTTP POST. No response
// content is expected, but the HTTP status is checked.
func (t *HTTPTransport) Notify(ctx context.Context, notif *proto.Notification) error {
	body, err := json.Marshal(notif)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	httpReq, err := t.newPost(ctx, body)
	if err != nil {
		return err
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP notification to %s: %w", t.url, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	// Accept 200 and 202 (accepted) for notifications.
	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		errBody := httpkit.ReadErrorBody(httpResp.Body, 1<<20)
		return fmt.Errorf("tool server returned %d for notification: %s", httpResp.StatusCode, errBody)
	}

	return nil
}

// newPost builds a POST request with the configured headers and session
// affinity applied.
func (t *HTTPTransport) newPost(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}

	t.mu.RLock()
	if t.sessionID != "" {
		httpReq.Header.Set(sessionHeader, t.sessionID)
	}
	t.mu.RUnlock()

	return httpReq, nil
}

// Close is a no-op for HTTP transports. The underlying client manages
// its own connection pool via httpkit.
func (t *HTTPTransport) Close() error {
	return nil
}
