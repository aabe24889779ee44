package server

import (
	"context"

	"github.com/parleybot/parley/internal/proto"
)

// Transport delivers JSON-RPC messages to a remote tool server.
// Implementations handle framing, encoding, and correlation for a
// specific medium (subprocess stdio or HTTP).
type Transport interface {
	// Send sends a JSON-RPC request and returns the matching response.
	Send(ctx context.Context, req *proto.Request) (*proto.Response, error)

	// Notify sends a JSON-RPC notification (no response expected).
	Notify(ctx context.Context, notif *proto.Notification) error

	// Close shuts down the transport and releases resources. For stdio
	// transports this terminates the subprocess.
	Close() error
}
