// Package session runs the chat turn loop: user input goes to the
// active model, tool calls the model emits are executed through the
// invoker, and tool results are fed back for a final natural-language
// answer. The conversation transcript belongs to the session, not the
// provider, so switching models mid-conversation loses nothing.
package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/proto"
)

// Conversation is the transcript plus the single-pending-call
// invariant: at most one tool call may be awaiting execution at any
// time. Safe for concurrent use.
type Conversation struct {
	mu           sync.Mutex
	systemPrompt string
	turns        []llm.Message
	pending      *proto.ToolCall
}

// NewConversation creates an empty transcript under the given system
// prompt.
func NewConversation(systemPrompt string) *Conversation {
	return &Conversation{systemPrompt: systemPrompt}
}

// SetSystemPrompt replaces the system prompt for subsequent requests.
func (c *Conversation) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = prompt
}

// AppendUser adds a user turn.
func (c *Conversation) AppendUser(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, llm.Message{Role: llm.RoleUser, Content: text})
}

// AppendAssistant adds an assistant turn.
func (c *Conversation) AppendAssistant(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, llm.Message{Role: llm.RoleAssistant, Content: text})
}

// Messages renders the transcript for a provider: the system prompt
// followed by every turn, as a fresh slice.
func (c *Conversation) Messages() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]llm.Message, 0, len(c.turns)+1)
	if c.systemPrompt != "" {
		out = append(out, llm.Message{Role: llm.RoleSystem, Content: c.systemPrompt})
	}
	return append(out, c.turns...)
}

// Turns returns a copy of the conversation turns without the system
// prompt.
func (c *Conversation) Turns() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// SetPending records the tool call awaiting execution. Fails if one is
// already pending.
func (c *Conversation) SetPending(call *proto.ToolCall) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return fmt.Errorf("tool call %q is already pending", c.pending.Tool)
	}
	c.pending = call
	return nil
}

// Pending returns the tool call awaiting execution, or nil.
func (c *Conversation) Pending() *proto.ToolCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// ClearPending marks the pending tool call resolved.
func (c *Conversation) ClearPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
}

// Clear drops every turn and any pending call; the system prompt stays.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
	c.pending = nil
}

// snapshot is the serialized conversation state.
type snapshot struct {
	SystemPrompt string          `json:"system_prompt"`
	Turns        []llm.Message   `json:"turns"`
	Pending      *proto.ToolCall `json:"pending,omitempty"`
}

// Snapshot serializes the conversation for persistence or handoff.
func (c *Conversation) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(snapshot{
		SystemPrompt: c.systemPrompt,
		Turns:        c.turns,
		Pending:      c.pending,
	})
}

// RestoreConversation rebuilds a conversation from Snapshot output.
func RestoreConversation(data []byte) (*Conversation, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode conversation snapshot: %w", err)
	}
	return &Conversation{
		systemPrompt: snap.SystemPrompt,
		turns:        snap.Turns,
		pending:      snap.Pending,
	}, nil
}
