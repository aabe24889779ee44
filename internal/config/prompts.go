package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Prompts holds every piece of text shown to models or users:
// per-server system prompts, the default prompt, and common fragments
// (tool-response summarization, welcome banner, provider error
// guidance). Keeping these in one external file lets operators tune
// model behavior without a rebuild.
type Prompts struct {
	DefaultSystemPrompt string                  `yaml:"default_system_prompt"`
	ServerPrompts       map[string]ServerPrompt `yaml:"server_prompts"`
	Common              CommonPrompts           `yaml:"common_prompts"`
}

// ServerPrompt is the system prompt used while a given server's tools
// dominate the conversation.
type ServerPrompt struct {
	SystemPrompt string `yaml:"system_prompt"`
}

// CommonPrompts are shared fragments independent of any server.
type CommonPrompts struct {
	// ToolResponse instructs the model to summarize a tool result in
	// natural language for the user.
	ToolResponse string `yaml:"tool_response"`

	// Welcome is printed when an interactive session starts.
	Welcome string `yaml:"welcome"`

	// ProviderError is shown when the active model backend is
	// unreachable; it names the recovery options instead of silently
	// switching providers.
	ProviderError string `yaml:"provider_error"`
}

// Default prompt texts used when no prompts file is configured or a
// field is left empty.
const (
	defaultSystemPrompt = `You are an intelligent assistant that can perform various tasks. When you need to perform specific operations, you must use tools.

System Rules:
1. You must use tools when performing operations
2. Tool usage format: {"tool": "tool_name", "arguments": {"parameter_name": "value"}}
3. When using tools, only return the tool call format, do not add any explanatory text
4. For normal conversation, respond directly without using tools
5. Keep your responses concise and clear
6. If you need more information, ask for it
7. If you can't perform a task, explain why`

	defaultToolResponsePrompt = "You are a helpful assistant. Process the following tool response and provide a clear, natural language explanation of the result. Do not include technical details or JSON formatting in your response."

	defaultWelcome = "Welcome to Parley!\nYour assistant is ready to help."

	defaultProviderError = "The active model provider is unreachable. Use /model <provider> to switch providers, or try again once the backend is back up."
)

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() *Prompts {
	return &Prompts{
		DefaultSystemPrompt: defaultSystemPrompt,
		ServerPrompts:       map[string]ServerPrompt{},
		Common: CommonPrompts{
			ToolResponse:  defaultToolResponsePrompt,
			Welcome:       defaultWelcome,
			ProviderError: defaultProviderError,
		},
	}
}

// LoadPrompts reads a prompts YAML file. Missing fields fall back to
// the built-in defaults; a missing file is an error (use
// DefaultPrompts when no file is configured).
func LoadPrompts(path string) (*Prompts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}

	p := &Prompts{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}

	defaults := DefaultPrompts()
	if p.DefaultSystemPrompt == "" {
		p.DefaultSystemPrompt = defaults.DefaultSystemPrompt
	}
	if p.ServerPrompts == nil {
		p.ServerPrompts = map[string]ServerPrompt{}
	}
	if p.Common.ToolResponse == "" {
		p.Common.ToolResponse = defaults.Common.ToolResponse
	}
	if p.Common.Welcome == "" {
		p.Common.Welcome = defaults.Common.Welcome
	}
	if p.Common.ProviderError == "" {
		p.Common.ProviderError = defaults.Common.ProviderError
	}

	return p, nil
}

// SystemPromptFor returns a server's dedicated system prompt. ok is
// false when the server has no entry; callers fall back to
// DefaultSystemPrompt.
func (p *Prompts) SystemPromptFor(serverName string) (string, bool) {
	sp, ok := p.ServerPrompts[serverName]
	if !ok || sp.SystemPrompt == "" {
		return "", false
	}
	return sp.SystemPrompt, true
}
