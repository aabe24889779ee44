package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/parleybot/parley/internal/proto"
)

// stopGrace is how long a subprocess gets to exit after stdin closes
// before it is killed.
const stopGrace = 5 * time.Second

// maxFrameBytes caps a single stdout line; larger tool results abort
// the connection rather than the whole process.
const maxFrameBytes = 1 << 20

// StdioConfig configures a subprocess transport. The tool server runs
// as a child process and exchanges newline-delimited JSON-RPC messages
// over stdin/stdout.
type StdioConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments passed to the executable.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"), appended to the current environment.
	Env []string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// StdioTransport talks to a tool server subprocess. A single reader
// goroutine pumps stdout lines into a channel for the lifetime of the
// subprocess, so request cancellation never leaves a read blocked on
// the pipe; stderr is drained to the log.
type StdioTransport struct {
	config StdioConfig
	logger *slog.Logger

	mu   sync.Mutex
	proc *stdioProc
}

// stdioProc is one subprocess run: its pipes, the stdout pump, and the
// quit signal that unblocks the pump when the run is abandoned.
type stdioProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	// lines carries stdout frames from the pump; it is closed when the
	// pump exits, after storing the terminal read error in scanErr.
	lines   chan []byte
	scanErr error
	quit    chan struct{}
}

// NewStdioTransport creates a stdio transport. The subprocess is not
// started until the first Send or Notify call.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{
		config: cfg,
		logger: logger,
	}
}

// Send writes a request to stdin and consumes stdout frames until one
// carries the request ID. Stdio is inherently sequential, so the mutex
// serializes calls; cancellation terminates the subprocess since a
// half-read conversation cannot be resumed.
func (t *StdioTransport) Send(ctx context.Context, req *proto.Request) (*proto.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.ensureProc()
	if err != nil {
		return nil, err
	}

	if err := p.writeFrame(req); err != nil {
		t.abandon()
		return nil, proto.WrapError(proto.KindConnection, err, "write request")
	}

	for {
		select {
		case <-ctx.Done():
			t.abandon()
			return nil, proto.WrapError(proto.KindOf(ctx.Err()), ctx.Err(), "awaiting tool server response")

		case line, ok := <-p.lines:
			if !ok {
				t.abandon()
				return nil, proto.WrapError(proto.KindConnection, p.readFailure(), "tool server stdout closed")
			}

			var resp proto.Response
			if err := json.Unmarshal(line, &resp); err != nil || resp.JSONRPC == "" {
				t.logger.Debug("discarding non-protocol output", "line", string(line))
				continue
			}
			if resp.ID != req.ID {
				t.logger.Debug("discarding unmatched frame", "id", resp.ID, "want", req.ID)
				continue
			}
			return &resp, nil
		}
	}
}

// Notify writes a notification to stdin. No response is expected.
func (t *StdioTransport) Notify(ctx context.Context, notif *proto.Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return proto.WrapError(proto.KindOf(err), err, "notify tool server")
	}

	p, err := t.ensureProc()
	if err != nil {
		return err
	}

	if err := p.writeFrame(notif); err != nil {
		t.abandon()
		return proto.WrapError(proto.KindConnection, err, "write notification")
	}
	return nil
}

// Close shuts the subprocess down, giving it stopGrace to exit after
// stdin closes before killing it. Idempotent.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.proc
	if p == nil {
		return nil
	}
	t.proc = nil

	t.logger.Info("stopping tool server subprocess", "pid", p.cmd.Process.Pid)
	p.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(stopGrace):
		t.logger.Warn("tool server did not exit in time, killing", "pid", p.cmd.Process.Pid)
		_ = p.cmd.Process.Kill()
		<-done
	}
	close(p.quit)
	return err
}

// ensureProc returns the running subprocess, launching it on first
// use or after an abandoned run. Caller holds t.mu.
func (t *StdioTransport) ensureProc() (*stdioProc, error) {
	if t.proc != nil {
		return t.proc, nil
	}

	t.logger.Info("starting tool server subprocess",
		"command", t.config.Command,
		"args", t.config.Args,
	)

	cmd := exec.Command(t.config.Command, t.config.Args...)
	cmd.Env = append(os.Environ(), t.config.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, proto.WrapError(proto.KindConnection, err, "create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, proto.WrapError(proto.KindConnection, err, "create stdout pipe")
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, proto.WrapError(proto.KindConnection, err, "create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		stderrPipe.Close()
		stdout.Close()
		stdin.Close()
		return nil, proto.WrapError(proto.KindConnection, err, fmt.Sprintf("start subprocess %s", t.config.Command))
	}

	p := &stdioProc{
		cmd:   cmd,
		stdin: stdin,
		lines: make(chan []byte, 8),
		quit:  make(chan struct{}),
	}
	go p.pump(stdout)
	go t.drainStderr(stderrPipe)

	t.logger.Info("tool server subprocess started", "pid", cmd.Process.Pid)
	t.proc = p
	return p, nil
}

// abandon kills the current subprocess and forgets it; the next call
// starts a fresh one. Caller holds t.mu.
func (t *StdioTransport) abandon() {
	p := t.proc
	if p == nil {
		return
	}
	t.proc = nil

	close(p.quit)
	p.stdin.Close()
	_ = p.cmd.Process.Kill()
	_ = p.cmd.Wait()
}

// writeFrame marshals one message and writes it newline-delimited.
func (p *stdioProc) writeFrame(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = p.stdin.Write(append(data, '\n'))
	return err
}

// pump forwards stdout lines into p.lines until the pipe closes or the
// run is abandoned. The terminal error is stored before the channel
// closes, so readers observing the close see it.
func (p *stdioProc) pump(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)

	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())

		select {
		case p.lines <- line:
		case <-p.quit:
			return
		}
	}

	p.scanErr = scanner.Err()
	close(p.lines)
}

// readFailure describes why stdout stopped producing frames.
func (p *stdioProc) readFailure() error {
	if p.scanErr != nil {
		return p.scanErr
	}
	return errors.New("subprocess exited")
}

// drainStderr reads stderr lines and logs them at debug level.
func (t *StdioTransport) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		t.logger.Debug("tool server stderr", "line", scanner.Text())
	}
}
