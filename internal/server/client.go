package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/parleybot/parley/internal/buildinfo"
	"github.com/parleybot/parley/internal/proto"
)

// protocolVersion is advertised during the initialize handshake.
const protocolVersion = "2024-11-05"

// methodNotFound is the JSON-RPC error code for an unsupported method.
const methodNotFound = -32601

// initializeResult is the result payload of an initialize response.
type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// resourcesListResult is the result payload of a resources/list response.
type resourcesListResult struct {
	Resources []ResourceDescriptor `json:"resources"`
}

// Client connects to one remote tool server over a Transport and
// implements the Connector interface: initialize handshake, tools/list
// discovery, tools/call forwarding, and shutdown.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	mu    sync.Mutex
	state State
}

// NewClient creates a connector for the given remote server. The
// transport determines how messages are delivered (stdio or HTTP).
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("server", name),
		state:     StateNew,
	}
}

// Name returns the server name this connector is bound to.
func (c *Client) Name() string { return c.name }

// State reports the connector's lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// advance moves the lifecycle forward; it never moves backwards.
func (c *Client) advance(to State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to > c.state {
		c.state = to
	}
}

// Initialize performs the handshake (initialize request plus the
// initialized notification) and returns the server's advertised tools.
func (c *Client) Initialize(ctx context.Context) ([]ToolDescriptor, error) {
	c.advance(StateInitializing)

	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "parley",
			"version": buildinfo.Version,
		},
	}

	resp, err := c.send(ctx, "initialize", params)
	if err != nil {
		return nil, proto.WrapError(proto.KindConnection, err, fmt.Sprintf("initialize %s", c.name))
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, proto.WrapError(proto.KindConnection, err, "unmarshal initialize result")
	}

	c.logger.Info("server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := c.transport.Notify(ctx, proto.NewNotification("notifications/initialized", nil)); err != nil {
		return nil, proto.WrapError(proto.KindConnection, err, "send initialized notification")
	}

	tools, err := c.listTools(ctx)
	if err != nil {
		return nil, err
	}

	c.advance(StateReady)
	return tools, nil
}

// listTools calls tools/list and stamps descriptors with the owner name.
func (c *Client) listTools(ctx context.Context) ([]ToolDescriptor, error) {
	resp, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, proto.WrapError(proto.KindConnection, err, "tools/list")
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, proto.WrapError(proto.KindConnection, err, "unmarshal tools/list result")
	}

	tools := result.Tools
	for i := range tools {
		tools[i].Server = c.name
	}

	c.logger.Info("discovered tools", "count", len(tools))
	return tools, nil
}

// CallTool invokes a tool by its server-local name. Transport failures
// come back as connection errors so the invoker can retry them; a
// well-formed failure envelope from the server is passed through.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (proto.Result, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.send(ctx, "tools/call", params)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return proto.Result{}, proto.WrapError(proto.KindCancelled, err, fmt.Sprintf("tools/call %s", name))
		}
		return proto.Result{}, proto.WrapError(proto.KindConnection, err, fmt.Sprintf("tools/call %s", name))
	}

	// Servers speaking our wire contract return the result envelope
	// directly; anything else is wrapped as a success payload.
	var result proto.Result
	if err := json.Unmarshal(resp.Result, &result); err == nil && (result.OK || result.Err != nil) {
		return result, nil
	}
	return proto.Result{OK: true, Payload: resp.Result}, nil
}

// ListResources calls resources/list. Servers that don't implement the
// method yield an empty slice rather than an error.
func (c *Client) ListResources(ctx context.Context) ([]ResourceDescriptor, error) {
	resp, err := c.send(ctx, "resources/list", nil)
	if err != nil {
		if rpcErr, ok := err.(*proto.RPCError); ok && rpcErr.Code == methodNotFound {
			return nil, nil
		}
		return nil, proto.WrapError(proto.KindConnection, err, "resources/list")
	}

	var result resourcesListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, proto.WrapError(proto.KindConnection, err, "unmarshal resources/list result")
	}

	resources := result.Resources
	for i := range resources {
		resources[i].Server = c.name
	}
	return resources, nil
}

// Shutdown closes the transport. Idempotent: repeated calls after the
// first are no-ops.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.logger.Info("closing server connector")
	return c.transport.Close()
}

// send issues a JSON-RPC request and surfaces protocol-level errors.
func (c *Client) send(ctx context.Context, method string, params any) (*proto.Response, error) {
	id := c.nextID.Add(1)
	req := proto.NewRequest(id, method, params)

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp, nil
}
