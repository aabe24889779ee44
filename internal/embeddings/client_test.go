package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %q, want /api/embeddings", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	vec, err := client.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("embedding length = %d, want 3", len(vec))
	}
}

func TestEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	if _, err := client.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("Embed succeeded, want error")
	}
}

func TestEmbedTransportAllowsSlowFirstByte(t *testing.T) {
	tr := embedTransport()
	if tr.ResponseHeaderTimeout != 0 {
		t.Errorf("ResponseHeaderTimeout = %v, want 0: no bytes arrive until the vector is computed", tr.ResponseHeaderTimeout)
	}
	if c := newEmbedHTTPClient(); c.Timeout == 0 {
		t.Error("client has no overall timeout")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"length mismatch", []float32{1, 0}, []float32{1}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("CosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	query := []float32{1, 0}
	vectors := [][]float32{
		{0, 1},     // orthogonal
		{1, 0},     // exact
		{0.9, 0.1}, // close
		{-1, 0},    // opposite
	}

	matches := TopK(query, vectors, 2)
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Index != 1 {
		t.Errorf("best match index = %d, want 1", matches[0].Index)
	}
	if matches[1].Index != 2 {
		t.Errorf("second match index = %d, want 2", matches[1].Index)
	}
}

func TestTopKMoreThanAvailable(t *testing.T) {
	matches := TopK([]float32{1}, [][]float32{{1}}, 10)
	if len(matches) != 1 {
		t.Errorf("got %d matches, want 1", len(matches))
	}
}
