// Package embeddings generates text embeddings via Ollama and provides
// the similarity primitives the retrieval backend ranks with.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/parleybot/parley/internal/httpkit"
)

// Config for the embedding client.
type Config struct {
	BaseURL string // Ollama base URL (e.g., "http://localhost:11434")
	Model   string // embedding model (e.g., "nomic-embed-text")
}

// Client generates embeddings using Ollama's embedding API.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates an embedding client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &Client{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  newEmbedHTTPClient(),
	}
}

// embedTransport disables the shared response-header timeout: the
// embedding endpoint sends nothing until the vector is computed, and a
// cold model load alone can exceed it. The client timeout bounds the
// whole request instead.
func embedTransport() *http.Transport {
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 0
	return t
}

func newEmbedHTTPClient() *http.Client {
	return httpkit.NewClient(
		httpkit.WithTransport(embedTransport()),
		httpkit.WithTimeout(2*time.Minute),
	)
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed creates an embedding for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, errBody)
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return embedResp.Embedding, nil
}

// EmbedBatch creates embeddings for multiple texts, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Model returns the configured embedding model.
func (c *Client) Model() string { return c.model }

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched or zero vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// Match is one ranked result from TopK.
type Match struct {
	Index int
	Score float32
}

// TopK ranks the vectors by similarity to query and returns the best k
// matches, highest score first.
func TopK(query []float32, vectors [][]float32, k int) []Match {
	matches := make([]Match, len(vectors))
	for i, v := range vectors {
		matches[i] = Match{Index: i, Score: CosineSimilarity(query, v)}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	if k > len(matches) {
		k = len(matches)
	}
	return matches[:k]
}
