package server

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/parleybot/parley/internal/proto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEchoTransport runs cat as the subprocess: every request line comes
// straight back, so the response carries the request's own ID.
func newEchoTransport(t *testing.T) *StdioTransport {
	t.Helper()
	tr := NewStdioTransport(StdioConfig{Command: "cat", Logger: discardLogger()})
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestStdioSendMatchesResponse(t *testing.T) {
	tr := newEchoTransport(t)

	resp, err := tr.Send(context.Background(), proto.NewRequest(7, "ping", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 7 {
		t.Errorf("response ID = %d, want 7", resp.ID)
	}

	// The subprocess survives across calls.
	resp, err = tr.Send(context.Background(), proto.NewRequest(8, "ping", nil))
	if err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if resp.ID != 8 {
		t.Errorf("second response ID = %d, want 8", resp.ID)
	}
}

func TestStdioSkipsNonProtocolOutput(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{
		Command: "sh",
		Args:    []string{"-c", "echo starting up; exec cat"},
		Logger:  discardLogger(),
	})
	t.Cleanup(func() { tr.Close() })

	resp, err := tr.Send(context.Background(), proto.NewRequest(1, "ping", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 1 {
		t.Errorf("response ID = %d, want 1", resp.ID)
	}
}

func TestStdioSkipsUnmatchedFrames(t *testing.T) {
	// The subprocess emits a frame for a different request before
	// echoing the real one.
	script := `read line; echo '{"jsonrpc":"2.0","id":999}'; printf '%s\n' "$line"; exec cat`
	tr := NewStdioTransport(StdioConfig{
		Command: "sh",
		Args:    []string{"-c", script},
		Logger:  discardLogger(),
	})
	t.Cleanup(func() { tr.Close() })

	resp, err := tr.Send(context.Background(), proto.NewRequest(3, "ping", nil))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.ID != 3 {
		t.Errorf("response ID = %d, want 3", resp.ID)
	}
}

func TestStdioCancelKillsSubprocess(t *testing.T) {
	// sleep never answers, so the read blocks until cancellation.
	tr := NewStdioTransport(StdioConfig{
		Command: "sleep",
		Args:    []string{"30"},
		Logger:  discardLogger(),
	})
	t.Cleanup(func() { tr.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := tr.Send(ctx, proto.NewRequest(1, "ping", nil))
	if err == nil {
		t.Fatal("Send succeeded against a mute subprocess")
	}
	if got := proto.KindOf(err); got != proto.KindCancelled {
		t.Errorf("error kind = %q, want %q", got, proto.KindCancelled)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v", elapsed)
	}

	// The run was abandoned; the next call starts over.
	tr.mu.Lock()
	proc := tr.proc
	tr.mu.Unlock()
	if proc != nil {
		t.Error("subprocess still tracked after cancellation")
	}
}

func TestStdioDeadlineIsConnectionError(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{
		Command: "sleep",
		Args:    []string{"30"},
		Logger:  discardLogger(),
	})
	t.Cleanup(func() { tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := tr.Send(ctx, proto.NewRequest(1, "ping", nil))
	if err == nil {
		t.Fatal("Send succeeded against a mute subprocess")
	}
	if got := proto.KindOf(err); got != proto.KindConnection {
		t.Errorf("error kind = %q, want %q", got, proto.KindConnection)
	}
}

func TestStdioStartFailure(t *testing.T) {
	tr := NewStdioTransport(StdioConfig{Command: "no-such-binary-for-sure", Logger: discardLogger()})

	_, err := tr.Send(context.Background(), proto.NewRequest(1, "ping", nil))
	if err == nil {
		t.Fatal("Send succeeded with a missing binary")
	}
	if got := proto.KindOf(err); got != proto.KindConnection {
		t.Errorf("error kind = %q, want %q", got, proto.KindConnection)
	}
}

func TestStdioCloseIdempotent(t *testing.T) {
	tr := newEchoTransport(t)

	if _, err := tr.Send(context.Background(), proto.NewRequest(1, "ping", nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := tr.Close(); err != nil {
		t.Errorf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestStdioNotify(t *testing.T) {
	tr := newEchoTransport(t)

	if err := tr.Notify(context.Background(), proto.NewNotification("notifications/initialized", nil)); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}
