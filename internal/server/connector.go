// Package server owns the connection to a single tool server: the
// initialize handshake, tool discovery, call forwarding, and shutdown.
// A server is anything that exposes {list tools, call tool, shutdown}:
// an in-process backend, a subprocess on stdio, or a remote HTTP
// endpoint.
package server

import (
	"context"

	"github.com/parleybot/parley/internal/proto"
)

// ToolDescriptor describes one tool advertised by a server. Descriptors
// are created during discovery and immutable afterwards; the catalog
// invalidates them when the owning server deregisters.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`

	// Server is the owning server's name (non-owning back-reference).
	Server string `json:"server"`
}

// ResourceDescriptor describes one readable resource advertised by a
// server (e.g. the memory backend's key listing).
type ResourceDescriptor struct {
	Pattern     string `json:"pattern"`
	Description string `json:"description"`
	Server      string `json:"server"`
}

// State is a server connector's lifecycle state. Transitions only move
// forward; a closed connector is never reused. Reconnecting means
// building a fresh one.
type State int

const (
	// StateNew is the initial state before any handshake.
	StateNew State = iota

	// StateInitializing means the handshake is in flight.
	StateInitializing

	// StateReady means tools can be called.
	StateReady

	// StateClosed means resources have been released.
	StateClosed
)

// String returns the lifecycle state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connector is the uniform capability interface every tool server
// implements. Concrete backends (key-value store, SQL engine,
// filesystem, retrieval index, transcription, remote processes) hide
// behind it, so the catalog and orchestrator never special-case a
// server type.
type Connector interface {
	// Name returns the unique server name from configuration.
	Name() string

	// Initialize performs the handshake and returns the server's
	// advertised tools. Fails with a connection_error if the backend
	// is unreachable within the ctx deadline.
	Initialize(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool forwards one call. Bounded by the caller's ctx; never
	// blocks indefinitely.
	CallTool(ctx context.Context, name string, args map[string]any) (proto.Result, error)

	// ListResources returns the server's readable resources. Servers
	// without resources return an empty slice.
	ListResources(ctx context.Context) ([]ResourceDescriptor, error)

	// Shutdown releases the connection or subprocess. Idempotent.
	Shutdown() error

	// State reports the current lifecycle state.
	State() State
}
