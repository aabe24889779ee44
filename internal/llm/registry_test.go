package llm

import (
	"context"
	"testing"

	"github.com/parleybot/parley/internal/proto"
)

// cannedClient returns a fixed reply and records the transcript it saw.
type cannedClient struct {
	model string
	reply string
	saw   []Message
	err   error
}

func (c *cannedClient) Chat(_ context.Context, messages []Message) (*Reply, error) {
	c.saw = messages
	if c.err != nil {
		return nil, c.err
	}
	return &Reply{Content: c.reply, Model: c.model}, nil
}

func (c *cannedClient) Ping(context.Context) error { return c.err }

func (c *cannedClient) Model() string { return c.model }

func TestRegistryFirstProviderIsActive(t *testing.T) {
	r := NewRegistry()
	r.Add("ollama", &cannedClient{model: "llama3.2:latest"})
	r.Add("openai", &cannedClient{model: "gpt-4o-mini"})

	name, client := r.Active()
	if name != "ollama" || client == nil {
		t.Errorf("active = %q, want ollama", name)
	}
}

func TestRegistryUseSwitches(t *testing.T) {
	r := NewRegistry()
	local := &cannedClient{model: "llama3.2:latest", reply: "from ollama"}
	hosted := &cannedClient{model: "gpt-4o-mini", reply: "from openai"}
	r.Add("ollama", local)
	r.Add("openai", hosted)

	if err := r.Use("openai"); err != nil {
		t.Fatalf("Use: %v", err)
	}

	reply, err := r.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply.Content != "from openai" {
		t.Errorf("reply = %q, want routing to openai", reply.Content)
	}
	if len(local.saw) != 0 {
		t.Error("inactive provider received the transcript")
	}
}

func TestRegistryUseUnknownKeepsSelection(t *testing.T) {
	r := NewRegistry()
	r.Add("ollama", &cannedClient{model: "llama3.2:latest"})

	if err := r.Use("deepseek"); err == nil {
		t.Fatal("Use(deepseek) succeeded")
	}
	if name, _ := r.Active(); name != "ollama" {
		t.Errorf("active = %q after failed switch, want ollama", name)
	}
}

func TestRegistryChatNoProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Chat(context.Background(), nil)
	if err == nil {
		t.Fatal("Chat succeeded with no providers")
	}
	if got := proto.KindOf(err); got != proto.KindProviderUnavailable {
		t.Errorf("error kind = %q, want %q", got, proto.KindProviderUnavailable)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	r.Add("openai", &cannedClient{})
	r.Add("ollama", &cannedClient{})

	names := r.Names()
	if len(names) != 2 || names[0] != "ollama" || names[1] != "openai" {
		t.Errorf("names = %v", names)
	}
}
