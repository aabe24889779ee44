package proto

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolCall is the tool-call envelope a model emits when it wants a
// capability invoked: {"tool": "<name>", "arguments": {...}}.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// ModelOutput is the interpreted form of one model completion: either
// free text for the user or a tool-call directive.
type ModelOutput struct {
	Text string
	Call *ToolCall
}

// IsToolCall reports whether the output carries a tool directive.
func (o ModelOutput) IsToolCall() bool { return o.Call != nil }

// ParseModelOutput interprets raw model output. Model output is
// best-effort: anything that does not parse as a tool-call envelope
// degrades to plain text rather than failing. Handles the envelope
// bare, wrapped in <tool_call> tags, inside a markdown code fence, or
// as a one-element array. Models that emit {"name": ..., "arguments": ...}
// (the function-calling shape) are accepted too.
func ParseModelOutput(raw string) ModelOutput {
	content := strings.TrimSpace(raw)
	if content == "" {
		return ModelOutput{Text: raw}
	}

	candidate := content
	if i := strings.Index(candidate, "<tool_call>"); i != -1 {
		candidate = candidate[i+len("<tool_call>"):]
		if j := strings.Index(candidate, "</tool_call>"); j != -1 {
			candidate = candidate[:j]
		}
		candidate = strings.TrimSpace(candidate)
	} else if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		if j := strings.Index(candidate, "```"); j != -1 {
			candidate = candidate[:j]
		}
		candidate = strings.TrimSpace(candidate)
	}

	if call := parseToolCall(candidate); call != nil {
		return ModelOutput{Call: call}
	}
	return ModelOutput{Text: raw}
}

// parseToolCall attempts a strict parse of one tool-call envelope.
func parseToolCall(s string) *ToolCall {
	if !strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[") {
		return nil
	}

	// One-element array of envelopes.
	if strings.HasPrefix(s, "[") {
		var calls []json.RawMessage
		if err := json.Unmarshal([]byte(s), &calls); err != nil || len(calls) == 0 {
			return nil
		}
		return parseToolCall(strings.TrimSpace(string(calls[0])))
	}

	var probe struct {
		Tool      string         `json:"tool"`
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil
	}

	name := probe.Tool
	if name == "" {
		name = probe.Name
	}
	if name == "" {
		return nil
	}

	args := probe.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return &ToolCall{Tool: name, Arguments: args}
}

// Encode renders the envelope back to its canonical wire form.
func (c *ToolCall) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal tool call: %w", err)
	}
	return string(data), nil
}

// FormatSchemaForModel renders a tool's parameter schema as the plain
// argument list shown to the model inside the system prompt. Parameter
// order is alphabetical so the catalog text is stable across turns.
func FormatSchemaForModel(name, description string, schema map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nTool: %s\nDescription: %s\nArguments:\n", name, description)

	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	} else if req, ok := schema["required"].([]string); ok {
		for _, s := range req {
			required[s] = true
		}
	}

	names := make([]string, 0, len(props))
	for p := range props {
		names = append(names, p)
	}
	sort.Strings(names)

	for _, p := range names {
		desc := "No description"
		if info, ok := props[p].(map[string]any); ok {
			if d, ok := info["description"].(string); ok && d != "" {
				desc = d
			}
		}
		if required[p] {
			fmt.Fprintf(&b, "- %s: %s (required)\n", p, desc)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", p, desc)
		}
	}
	return b.String()
}
