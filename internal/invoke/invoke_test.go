package invoke

import (
	"context"
	"testing"
	"time"

	"github.com/parleybot/parley/internal/catalog"
	"github.com/parleybot/parley/internal/proto"
	"github.com/parleybot/parley/internal/server"
)

// flakyConnector fails a configurable number of calls before yielding
// canned results, and records every attempt.
type flakyConnector struct {
	name     string
	failures int          // calls that fail before results kick in
	failKind proto.Kind   // kind the failures carry
	result   proto.Result // result after failures are exhausted
	calls    int
	lastArgs map[string]any
}

func (f *flakyConnector) Name() string { return f.name }

func (f *flakyConnector) Initialize(context.Context) ([]server.ToolDescriptor, error) {
	return nil, nil
}

func (f *flakyConnector) CallTool(_ context.Context, _ string, args map[string]any) (proto.Result, error) {
	f.calls++
	f.lastArgs = args
	if f.calls <= f.failures {
		return proto.Result{}, proto.NewError(f.failKind, "simulated failure %d", f.calls)
	}
	return f.result, nil
}

func (f *flakyConnector) ListResources(context.Context) ([]server.ResourceDescriptor, error) {
	return nil, nil
}

func (f *flakyConnector) Shutdown() error { return nil }

func (f *flakyConnector) State() server.State { return server.StateReady }

func okResult(t *testing.T, payload any) proto.Result {
	t.Helper()
	res, err := proto.Success(payload)
	if err != nil {
		t.Fatalf("Success: %v", err)
	}
	return res
}

// newInvoker builds an invoker over a single-server catalog.
func newInvoker(t *testing.T, conn server.Connector, schema map[string]any, policy Policy) *Invoker {
	t.Helper()
	cat := catalog.New(nil)
	err := cat.Register(conn, []server.ToolDescriptor{{
		Name:        "memory_set",
		Description: "Store a value",
		InputSchema: schema,
		Server:      conn.Name(),
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return New(cat, policy, nil)
}

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Backoff: BackoffFixed, Delay: time.Millisecond}
}

func TestInvokeSuccess(t *testing.T) {
	conn := &flakyConnector{name: "memory"}
	conn.result = okResult(t, "stored")
	inv := newInvoker(t, conn, nil, fastPolicy(3))

	result := inv.Invoke(context.Background(), "memory_set", map[string]any{"key": "k"})
	if !result.OK {
		t.Fatalf("result not OK: %+v", result.Err)
	}
	if conn.calls != 1 {
		t.Errorf("calls = %d, want 1", conn.calls)
	}
}

func TestInvokeRetriesConnectionErrors(t *testing.T) {
	conn := &flakyConnector{name: "memory", failures: 2, failKind: proto.KindConnection}
	conn.result = okResult(t, "stored")
	inv := newInvoker(t, conn, nil, fastPolicy(3))

	result := inv.Invoke(context.Background(), "memory_set", nil)
	if !result.OK {
		t.Fatalf("result not OK after retries: %+v", result.Err)
	}
	if conn.calls != 3 {
		t.Errorf("calls = %d, want 3", conn.calls)
	}
}

func TestInvokeExhaustsAttempts(t *testing.T) {
	conn := &flakyConnector{name: "memory", failures: 99, failKind: proto.KindConnection}
	inv := newInvoker(t, conn, nil, fastPolicy(3))

	result := inv.Invoke(context.Background(), "memory_set", nil)
	if result.OK {
		t.Fatal("result OK, want exhausted failure")
	}
	if result.Err.Kind != proto.KindConnection {
		t.Errorf("kind = %q, want %q", result.Err.Kind, proto.KindConnection)
	}
	if conn.calls != 3 {
		t.Errorf("calls = %d, want exactly 3", conn.calls)
	}
}

func TestInvokeDoesNotRetryTerminalKinds(t *testing.T) {
	for _, kind := range []proto.Kind{proto.KindExecution, proto.KindArgument} {
		conn := &flakyConnector{name: "memory", failures: 99, failKind: kind}
		inv := newInvoker(t, conn, nil, fastPolicy(3))

		result := inv.Invoke(context.Background(), "memory_set", nil)
		if result.OK {
			t.Fatalf("kind %s: result OK, want failure", kind)
		}
		if result.Err.Kind != kind {
			t.Errorf("kind = %q, want %q", result.Err.Kind, kind)
		}
		if conn.calls != 1 {
			t.Errorf("kind %s: calls = %d, want 1 (no retry)", kind, conn.calls)
		}
	}
}

func TestInvokeDoesNotRetryFailureEnvelopes(t *testing.T) {
	// The backend ran the tool and reported a semantic failure in the
	// envelope; running it again won't change the answer.
	conn := &flakyConnector{name: "sqlite"}
	conn.result = proto.Fail(proto.KindExecution, "no such table: users")
	inv := newInvoker(t, conn, nil, fastPolicy(3))

	result := inv.Invoke(context.Background(), "memory_set", nil)
	if result.OK {
		t.Fatal("result OK, want failure envelope")
	}
	if conn.calls != 1 {
		t.Errorf("calls = %d, want 1", conn.calls)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	conn := &flakyConnector{name: "memory"}
	inv := newInvoker(t, conn, nil, fastPolicy(3))

	result := inv.Invoke(context.Background(), "ghost_tool", nil)
	if result.OK {
		t.Fatal("result OK for unknown tool")
	}
	if result.Err.Kind != proto.KindToolNotFound {
		t.Errorf("kind = %q, want %q", result.Err.Kind, proto.KindToolNotFound)
	}
	if conn.calls != 0 {
		t.Errorf("calls = %d, want 0 (never dispatched)", conn.calls)
	}
}

func TestInvokeValidatesArguments(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"key":   map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
		},
		"required": []any{"key"},
	}

	tests := []struct {
		name string
		args map[string]any
		ok   bool
	}{
		{"valid", map[string]any{"key": "k", "count": 2}, true},
		{"missing required", map[string]any{"count": 2}, false},
		{"wrong type", map[string]any{"key": 42}, false},
		{"float for integer", map[string]any{"key": "k", "count": 2.5}, false},
		{"whole float for integer", map[string]any{"key": "k", "count": float64(3)}, true},
		{"undeclared extra passes", map[string]any{"key": "k", "extra": true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &flakyConnector{name: "memory"}
			conn.result = okResult(t, "stored")
			inv := newInvoker(t, conn, schema, fastPolicy(1))

			result := inv.Invoke(context.Background(), "memory_set", tt.args)
			if tt.ok {
				if !result.OK {
					t.Fatalf("result not OK: %+v", result.Err)
				}
				return
			}
			if result.OK {
				t.Fatal("result OK, want argument error")
			}
			if result.Err.Kind != proto.KindArgument {
				t.Errorf("kind = %q, want %q", result.Err.Kind, proto.KindArgument)
			}
			if conn.calls != 0 {
				t.Errorf("calls = %d, want 0 (rejected before dispatch)", conn.calls)
			}
		})
	}
}

func TestInvokeCancelledDuringBackoff(t *testing.T) {
	conn := &flakyConnector{name: "memory", failures: 99, failKind: proto.KindConnection}
	inv := newInvoker(t, conn, nil, Policy{
		MaxAttempts: 3,
		Backoff:     BackoffFixed,
		Delay:       time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := inv.Invoke(ctx, "memory_set", nil)
	if time.Since(start) > 5*time.Second {
		t.Fatal("Invoke did not interrupt backoff promptly")
	}
	if result.OK {
		t.Fatal("result OK, want cancelled")
	}
	if result.Err.Kind != proto.KindCancelled {
		t.Errorf("kind = %q, want %q", result.Err.Kind, proto.KindCancelled)
	}
}

func TestPolicyDelayFor(t *testing.T) {
	fixed := Policy{Backoff: BackoffFixed, Delay: time.Second}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := fixed.delayFor(attempt); got != time.Second {
			t.Errorf("fixed delayFor(%d) = %v, want 1s", attempt, got)
		}
	}

	exp := Policy{Backoff: BackoffExponential, Delay: time.Second}
	wants := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range wants {
		if got := exp.delayFor(i + 1); got != want {
			t.Errorf("exponential delayFor(%d) = %v, want %v", i+1, got, want)
		}
	}
}
