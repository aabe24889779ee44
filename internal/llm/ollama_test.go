package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parleybot/parley/internal/proto"
)

func TestOllamaChat(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "llama3.2:latest",
			Message:         Message{Role: RoleAssistant, Content: "Hello there."},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       5,
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "llama3.2:latest")
	reply, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are helpful."},
		{Role: RoleUser, Content: "Hi"},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if reply.Content != "Hello there." {
		t.Errorf("content = %q", reply.Content)
	}
	if reply.InputTokens != 12 || reply.OutputTokens != 5 {
		t.Errorf("usage = %d/%d, want 12/5", reply.InputTokens, reply.OutputTokens)
	}

	if gotReq.Stream {
		t.Error("request asked for streaming")
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != RoleSystem {
		t.Errorf("messages = %+v", gotReq.Messages)
	}
}

func TestOllamaChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "llama3.2:latest")
	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "Hi"}})
	if err == nil {
		t.Fatal("Chat succeeded, want error")
	}
	if got := proto.KindOf(err); got != proto.KindProviderUnavailable {
		t.Errorf("error kind = %q, want %q", got, proto.KindProviderUnavailable)
	}
}

func TestOllamaChatUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening

	client := NewOllamaClient(srv.URL, "llama3.2:latest")
	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "Hi"}})
	if err == nil {
		t.Fatal("Chat succeeded against closed server")
	}
	if got := proto.KindOf(err); got != proto.KindProviderUnavailable {
		t.Errorf("error kind = %q, want %q", got, proto.KindProviderUnavailable)
	}
}

func TestOllamaPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "llama3.2:latest")
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOllamaListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "llama3.2:latest"},
				{"name": "qwen2.5:7b"},
			},
		})
	}))
	defer srv.Close()

	client := NewOllamaClient(srv.URL, "llama3.2:latest")
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "llama3.2:latest" {
		t.Errorf("models = %v", models)
	}
}

func TestOllamaTransportAllowsSlowFirstByte(t *testing.T) {
	tr := ollamaTransport()
	if tr.ResponseHeaderTimeout != 0 {
		t.Errorf("ResponseHeaderTimeout = %v, want 0: a non-streaming chat reply sends no bytes until generation finishes", tr.ResponseHeaderTimeout)
	}
}

func TestOllamaDefaultBaseURL(t *testing.T) {
	client := NewOllamaClient("", "llama3.2:latest")
	if client.baseURL != DefaultOllamaURL {
		t.Errorf("baseURL = %q, want %q", client.baseURL, DefaultOllamaURL)
	}
}
