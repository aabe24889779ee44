package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/parleybot/parley/internal/httpkit"
	"github.com/parleybot/parley/internal/proto"
)

// DefaultOllamaURL is the standard local Ollama endpoint.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient talks to a local Ollama instance over its native API.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates a client for the given endpoint and model.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &OllamaClient{
		baseURL:    baseURL,
		model:      model,
		httpClient: newOllamaHTTPClient(),
	}
}

// ollamaTransport builds the transport for Ollama's API. Chat requests
// are non-streaming, so the first response byte only arrives once
// generation finishes; the shared transport's response-header timeout
// would cut off any reply slower than that, so it is disabled here and
// the overall client timeout bounds the request instead.
func ollamaTransport() *http.Transport {
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 0
	return t
}

// newOllamaHTTPClient allows the full generation window for large
// local models, which also need time to load on first use.
func newOllamaHTTPClient() *http.Client {
	return httpkit.NewClient(
		httpkit.WithTransport(ollamaTransport()),
		httpkit.WithTimeout(5*time.Minute),
	)
}

// Model returns the configured model identifier.
func (c *OllamaClient) Model() string { return c.model }

// ollamaChatRequest is the request format for the Ollama chat API.
type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ollamaChatResponse is the non-streaming response from /api/chat.
type ollamaChatResponse struct {
	Model     string  `json:"model"`
	Message   Message `json:"message"`
	Done      bool    `json:"done"`
	ErrorText string  `json:"error,omitempty"`

	PromptEvalCount int `json:"prompt_eval_count,omitempty"`
	EvalCount       int `json:"eval_count,omitempty"`
}

// Chat sends a non-streaming chat completion request.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message) (*Reply, error) {
	req := ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, proto.WrapError(proto.KindProviderUnavailable, err, "ollama chat request")
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 1<<20)
		return nil, proto.NewError(proto.KindProviderUnavailable, "ollama returned %d: %s", resp.StatusCode, body)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if chatResp.ErrorText != "" {
		return nil, proto.NewError(proto.KindProviderUnavailable, "ollama error: %s", chatResp.ErrorText)
	}

	return &Reply{
		Content:      chatResp.Message.Content,
		Model:        chatResp.Model,
		InputTokens:  chatResp.PromptEvalCount,
		OutputTokens: chatResp.EvalCount,
	}, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return proto.WrapError(proto.KindProviderUnavailable, err, "ollama ping")
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		return proto.NewError(proto.KindProviderUnavailable, "ollama returned %d", resp.StatusCode)
	}

	return nil
}

// ListModels returns the models the local instance has pulled.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, proto.WrapError(proto.KindProviderUnavailable, err, "ollama list models")
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}
