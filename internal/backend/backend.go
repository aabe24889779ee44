// Package backend implements the builtin tool servers: an in-memory
// key-value store, a SQL engine, a workspace filesystem, a document
// retrieval index, and speech transcription. Each backend runs
// in-process but is addressed through the same connector interface as
// remote servers, so nothing upstream can tell them apart.
package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/parleybot/parley/internal/proto"
	"github.com/parleybot/parley/internal/server"
)

// Tool is one callable tool exposed by a builtin backend. Handlers
// return any JSON-marshalable payload; failures are classified through
// the error they return.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(ctx context.Context, args map[string]any) (any, error)
}

// Builtin is the shared connector scaffolding for in-process backends:
// lifecycle tracking, tool dispatch, and result normalization.
type Builtin struct {
	name      string
	logger    *slog.Logger
	tools     []Tool
	byName    map[string]*Tool
	resources []server.ResourceDescriptor
	closeFn   func() error

	mu    sync.Mutex
	state server.State
}

// newBuiltin wires a backend's tools into a connector. closeFn may be
// nil for backends with nothing to release.
func newBuiltin(name string, logger *slog.Logger, tools []Tool, resources []server.ResourceDescriptor, closeFn func() error) *Builtin {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]*Tool, len(tools))
	for i := range tools {
		byName[tools[i].Name] = &tools[i]
	}
	for i := range resources {
		resources[i].Server = name
	}
	return &Builtin{
		name:      name,
		logger:    logger.With("server", name),
		tools:     tools,
		byName:    byName,
		resources: resources,
		closeFn:   closeFn,
		state:     server.StateNew,
	}
}

// Name returns the backend's server name.
func (b *Builtin) Name() string { return b.name }

// State reports the connector lifecycle state.
func (b *Builtin) State() server.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Initialize marks the backend ready and returns its tool descriptors.
// In-process backends have no handshake to perform.
func (b *Builtin) Initialize(_ context.Context) ([]server.ToolDescriptor, error) {
	b.mu.Lock()
	b.state = server.StateReady
	b.mu.Unlock()

	descriptors := make([]server.ToolDescriptor, len(b.tools))
	for i, t := range b.tools {
		descriptors[i] = server.ToolDescriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Server:      b.name,
		}
	}

	b.logger.Debug("builtin backend ready", "tools", len(descriptors))
	return descriptors, nil
}

// CallTool dispatches to the named tool and normalizes the outcome
// into a result envelope.
func (b *Builtin) CallTool(ctx context.Context, name string, args map[string]any) (proto.Result, error) {
	tool, ok := b.byName[name]
	if !ok {
		return proto.Fail(proto.KindToolNotFound, "backend %s has no tool %q", b.name, name), nil
	}
	if args == nil {
		args = map[string]any{}
	}

	payload, err := tool.Handler(ctx, args)
	if err != nil {
		return proto.Fail(proto.KindOf(err), "%s: %v", name, err), nil
	}

	result, err := proto.Success(payload)
	if err != nil {
		return proto.Fail(proto.KindExecution, "%s: %v", name, err), nil
	}
	return result, nil
}

// ListResources returns the backend's readable resources.
func (b *Builtin) ListResources(_ context.Context) ([]server.ResourceDescriptor, error) {
	out := make([]server.ResourceDescriptor, len(b.resources))
	copy(out, b.resources)
	return out, nil
}

// Shutdown releases backend resources. Idempotent.
func (b *Builtin) Shutdown() error {
	b.mu.Lock()
	if b.state == server.StateClosed {
		b.mu.Unlock()
		return nil
	}
	b.state = server.StateClosed
	b.mu.Unlock()

	if b.closeFn != nil {
		return b.closeFn()
	}
	return nil
}

// stringArg extracts a required string argument.
func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", proto.NewError(proto.KindArgument, "missing required parameter %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", proto.NewError(proto.KindArgument, "parameter %q must be a string", name)
	}
	return s, nil
}

// optionalStringArg extracts a string argument, using fallback when absent.
func optionalStringArg(args map[string]any, name, fallback string) (string, error) {
	v, ok := args[name]
	if !ok {
		return fallback, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", proto.NewError(proto.KindArgument, "parameter %q must be a string", name)
	}
	return s, nil
}

// intArg extracts an integer argument, using fallback when absent.
// JSON decoding yields float64, so whole floats are accepted.
func intArg(args map[string]any, name string, fallback int) (int, error) {
	v, ok := args[name]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, proto.NewError(proto.KindArgument, "parameter %q must be an integer", name)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, proto.NewError(proto.KindArgument, "parameter %q must be an integer", name)
		}
		return int(i), nil
	default:
		return 0, proto.NewError(proto.KindArgument, "parameter %q must be an integer, got %T", name, v)
	}
}

// objectSchema is shorthand for the JSON schema shape every builtin
// tool uses.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// prop builds one property entry.
func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

// fmtRows renders query rows for the model: a compact JSON array of
// objects keyed by column name.
func fmtRows(columns []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		m := make(map[string]any, len(columns))
		for j, col := range columns {
			if j < len(row) {
				m[col] = row[j]
			}
		}
		out[i] = m
	}
	return out
}

var _ server.Connector = (*Builtin)(nil)
