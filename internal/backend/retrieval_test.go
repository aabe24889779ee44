package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parleybot/parley/internal/proto"
)

// fakeEmbedder maps known words to fixed vectors so similarity is
// deterministic without a running Ollama.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "cat"):
		return []float32{1, 0, 0}, nil
	case strings.Contains(lower, "dog"):
		return []float32{0.9, 0.1, 0}, nil
	case strings.Contains(lower, "go"):
		return []float32{0, 0, 1}, nil
	default:
		return []float32{0, 1, 0}, nil
	}
}

func (fakeEmbedder) Model() string { return "fake-embed" }

func newRetrievalBackend(t *testing.T) *Builtin {
	t.Helper()
	b, err := NewRetrieval("retrieval", filepath.Join(t.TempDir(), "index.db"), fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewRetrieval: %v", err)
	}
	t.Cleanup(func() { b.Shutdown() })
	if _, err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return b
}

func TestRetrievalAddAndSearch(t *testing.T) {
	b := newRetrievalBackend(t)

	added := call(t, b, "rag_add_document", map[string]any{
		"title":   "Cats",
		"content": "All about the domestic cat.",
	})
	if added["success"] != true || added["id"] == "" {
		t.Fatalf("add payload = %v", added)
	}
	call(t, b, "rag_add_document", map[string]any{
		"title":   "Go",
		"content": "The Go programming language.",
	})

	found := call(t, b, "rag_search", map[string]any{"query": "dog breeds", "limit": 1})
	results, _ := found["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("results = %v, want 1", results)
	}
	top, _ := results[0].(map[string]any)
	if top["title"] != "Cats" {
		t.Errorf("top result = %v, want Cats (nearest to dog)", top["title"])
	}
}

func TestRetrievalSearchEmptyIndex(t *testing.T) {
	b := newRetrievalBackend(t)

	found := call(t, b, "rag_search", map[string]any{"query": "anything"})
	if found["count"] != float64(0) {
		t.Errorf("count = %v, want 0", found["count"])
	}
}

func TestRetrievalCollectionInfo(t *testing.T) {
	b := newRetrievalBackend(t)

	call(t, b, "rag_add_document", map[string]any{"title": "One", "content": "cat"})
	info := call(t, b, "rag_collection_info", nil)
	if info["documents"] != float64(1) {
		t.Errorf("documents = %v, want 1", info["documents"])
	}
	if info["embed_model"] != "fake-embed" {
		t.Errorf("embed_model = %v", info["embed_model"])
	}
}

func TestRetrievalPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	b, err := NewRetrieval("retrieval", path, fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("NewRetrieval: %v", err)
	}
	if _, err := b.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	call(t, b, "rag_add_document", map[string]any{"title": "Kept", "content": "cat"})
	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	reopened, err := NewRetrieval("retrieval", path, fakeEmbedder{}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Shutdown()
	if _, err := reopened.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	info := call(t, reopened, "rag_collection_info", nil)
	if info["documents"] != float64(1) {
		t.Errorf("documents after reopen = %v, want 1", info["documents"])
	}
}

func TestRetrievalMissingArguments(t *testing.T) {
	b := newRetrievalBackend(t)
	callExpectFail(t, b, "rag_add_document", map[string]any{"title": "no content"}, proto.KindArgument)
	callExpectFail(t, b, "rag_search", nil, proto.KindArgument)
}
