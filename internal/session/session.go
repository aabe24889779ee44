package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parleybot/parley/internal/catalog"
	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/invoke"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/proto"
	"github.com/parleybot/parley/internal/server"
)

// maxToolRounds bounds how many tool calls one user input may trigger
// before the session gives up and reports the loop.
const maxToolRounds = 5

// Phase is the observable state of the session's turn loop.
type Phase int

const (
	// PhaseAwaitingInput means the session is idle between turns.
	PhaseAwaitingInput Phase = iota

	// PhaseModelThinking means a model request is in flight.
	PhaseModelThinking

	// PhaseToolExecuting means a tool call is being dispatched.
	PhaseToolExecuting
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitingInput:
		return "awaiting_input"
	case PhaseModelThinking:
		return "model_thinking"
	case PhaseToolExecuting:
		return "tool_executing"
	default:
		return "unknown"
	}
}

// Usage accumulates token counts across the session for /usage.
type Usage struct {
	Requests     int
	InputTokens  int
	OutputTokens int
}

// UsageRecorder persists per-request token usage. The session treats
// it as best-effort: recording failures are logged, never fatal.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, provider, model string, inputTokens, outputTokens int) error
}

// ServerInfo describes one registered server for /servers.
type ServerInfo struct {
	Name  string
	State server.State
	Tools int
}

// Session owns one conversation: the transcript, the registered
// servers, the active provider, and the turn loop tying them together.
type Session struct {
	registry *llm.Registry
	catalog  *catalog.Catalog
	invoker  *invoke.Invoker
	prompts  *config.Prompts
	logger   *slog.Logger
	recorder UsageRecorder

	// level lets /debug flip wire logging at runtime.
	level     *slog.LevelVar
	baseLevel slog.Level

	mu         sync.Mutex
	conv       *Conversation
	connectors []server.Connector
	// promptOverrides holds per-server prompt sections set from server
	// configuration, taking precedence over the prompts file.
	promptOverrides map[string]string
	phase           Phase
	debug           bool
	usage           Usage
}

// Options carries the session's collaborators.
type Options struct {
	Registry *llm.Registry
	Catalog  *catalog.Catalog
	Invoker  *invoke.Invoker
	Prompts  *config.Prompts
	Logger   *slog.Logger
	Level    *slog.LevelVar
	Recorder UsageRecorder
}

// New creates a session. The system prompt starts from the prompts
// default and is extended with the tool catalog as servers register.
func New(opts Options) *Session {
	if opts.Prompts == nil {
		opts.Prompts = config.DefaultPrompts()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Session{
		registry:        opts.Registry,
		catalog:         opts.Catalog,
		invoker:         opts.Invoker,
		prompts:         opts.Prompts,
		logger:          opts.Logger,
		level:           opts.Level,
		recorder:        opts.Recorder,
		conv:            NewConversation(opts.Prompts.DefaultSystemPrompt),
		promptOverrides: make(map[string]string),
		phase:           PhaseAwaitingInput,
	}
	if opts.Level != nil {
		s.baseLevel = opts.Level.Level()
	}
	return s
}

// AddServer initializes a connector, registers its tools, and refreshes
// the system prompt with the grown catalog.
func (s *Session) AddServer(ctx context.Context, conn server.Connector) error {
	tools, err := conn.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initialize server %s: %w", conn.Name(), err)
	}
	if err := s.catalog.Register(conn, tools); err != nil {
		shutdownErr := conn.Shutdown()
		if shutdownErr != nil {
			s.logger.Warn("shutdown after failed registration", "server", conn.Name(), "error", shutdownErr)
		}
		return fmt.Errorf("register server %s: %w", conn.Name(), err)
	}

	s.mu.Lock()
	s.connectors = append(s.connectors, conn)
	s.mu.Unlock()

	s.refreshSystemPrompt()
	return nil
}

// SetServerPrompt records a server's prompt section ahead of AddServer.
// It overrides the prompts file entry of the same name; an empty prompt
// removes the override.
func (s *Session) SetServerPrompt(name, prompt string) {
	s.mu.Lock()
	if prompt == "" {
		delete(s.promptOverrides, name)
	} else {
		s.promptOverrides[name] = prompt
	}
	s.mu.Unlock()
	s.refreshSystemPrompt()
}

// RemoveServer deregisters a server's tools and shuts it down.
func (s *Session) RemoveServer(name string) error {
	s.mu.Lock()
	var conn server.Connector
	kept := s.connectors[:0]
	for _, c := range s.connectors {
		if c.Name() == name {
			conn = c
			continue
		}
		kept = append(kept, c)
	}
	s.connectors = kept
	delete(s.promptOverrides, name)
	s.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("no server named %q", name)
	}

	s.catalog.Deregister(name)
	s.refreshSystemPrompt()
	return conn.Shutdown()
}

// refreshSystemPrompt rebuilds the system prompt: the default prompt,
// one section per registered server that has a dedicated prompt, then
// the tool catalog.
func (s *Session) refreshSystemPrompt() {
	s.mu.Lock()
	connectors := make([]server.Connector, len(s.connectors))
	copy(connectors, s.connectors)
	s.mu.Unlock()

	prompt := s.prompts.DefaultSystemPrompt
	for _, c := range connectors {
		if sp := s.serverPrompt(c.Name()); sp != "" {
			prompt += "\n\n" + sp
		}
	}
	if tools := s.catalog.Instructions(); tools != "" {
		prompt += "\n\nYou have access to these tools:\n" + tools
	}
	s.conv.SetSystemPrompt(prompt)
}

// serverPrompt returns a server's prompt section: the configured
// override when set, otherwise the prompts file entry.
func (s *Session) serverPrompt(name string) string {
	s.mu.Lock()
	override := s.promptOverrides[name]
	s.mu.Unlock()
	if override != "" {
		return override
	}
	sp, _ := s.prompts.SystemPromptFor(name)
	return sp
}

// ProcessInput runs one full turn: consult the model, execute any tool
// call it emits, and feed the result back until the model answers in
// plain text.
func (s *Session) ProcessInput(ctx context.Context, input string) (string, error) {
	s.setPhase(PhaseModelThinking)
	defer s.setPhase(PhaseAwaitingInput)

	s.conv.AppendUser(input)

	for round := 0; round < maxToolRounds; round++ {
		reply, err := s.registry.Chat(ctx, s.conv.Messages())
		if err != nil {
			s.logger.Error("model request failed", "error", err)
			return "", err
		}
		s.recordUsage(ctx, reply)

		out := proto.ParseModelOutput(reply.Content)
		if !out.IsToolCall() {
			s.conv.AppendAssistant(out.Text)
			return out.Text, nil
		}

		answer, err := s.runToolCall(ctx, out.Call)
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		// Loop: the re-consult prompt is in the transcript, ask again.
		s.setPhase(PhaseModelThinking)
	}

	s.logger.Warn("tool round budget exhausted")
	text := "I could not complete that request: the model kept asking for more tool calls."
	s.conv.AppendAssistant(text)
	return text, nil
}

// runToolCall executes one pending tool call and appends the follow-up
// prompt for the model. It returns a non-empty answer only when the
// turn should end immediately (cancellation).
func (s *Session) runToolCall(ctx context.Context, call *proto.ToolCall) (string, error) {
	encoded, err := call.Encode()
	if err != nil {
		return "", fmt.Errorf("encode tool call: %w", err)
	}
	s.conv.AppendAssistant(encoded)

	if err := s.conv.SetPending(call); err != nil {
		return "", err
	}
	defer s.conv.ClearPending()

	s.setPhase(PhaseToolExecuting)
	if s.debugEnabled() {
		s.logger.Debug("executing tool call", "tool", call.Tool, "arguments", call.Arguments)
	}

	result := s.invoker.Invoke(ctx, call.Tool, call.Arguments)

	if !result.OK {
		if result.Err.Kind == proto.KindCancelled {
			// Record the outcome so a restored transcript never carries
			// a tool-call turn with no resolution.
			s.conv.AppendUser(fmt.Sprintf("The tool call %q was interrupted before it finished.", call.Tool))
			return "", proto.NewError(proto.KindCancelled, "tool call %s interrupted", call.Tool)
		}
		s.conv.AppendUser(fmt.Sprintf(
			"The tool call %q failed (%s): %s. Apologize briefly and tell the user what went wrong.",
			call.Tool, result.Err.Kind, result.Err.Message,
		))
		return "", nil
	}

	s.conv.AppendUser(fmt.Sprintf(
		"%s\n\nTool %q returned: %s",
		s.prompts.Common.ToolResponse, call.Tool, string(result.Payload),
	))
	return "", nil
}

// recordUsage folds a reply's token counts into the session totals
// and hands them to the persistent recorder when one is configured.
func (s *Session) recordUsage(ctx context.Context, reply *llm.Reply) {
	s.mu.Lock()
	s.usage.Requests++
	s.usage.InputTokens += reply.InputTokens
	s.usage.OutputTokens += reply.OutputTokens
	s.mu.Unlock()

	if s.recorder == nil {
		return
	}
	provider, _ := s.registry.Active()
	if err := s.recorder.RecordUsage(ctx, provider, reply.Model, reply.InputTokens, reply.OutputTokens); err != nil {
		s.logger.Warn("usage record failed", "error", err)
	}
}

// Usage returns accumulated token usage.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Phase returns the turn loop's current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Conversation exposes the transcript for persistence and inspection.
func (s *Session) Conversation() *Conversation {
	return s.conv
}

// ClearConversation drops the transcript but keeps servers, provider,
// and usage.
func (s *Session) ClearConversation() {
	s.conv.Clear()
}

// SwitchProvider changes the active model backend. The transcript is
// untouched: the next request replays it against the new provider.
func (s *Session) SwitchProvider(name string) error {
	if err := s.registry.Use(name); err != nil {
		return err
	}
	s.logger.Info("switched provider", "provider", name)
	return nil
}

// Provider returns the active provider name and its model.
func (s *Session) Provider() (string, string) {
	name, client := s.registry.Active()
	if client == nil {
		return name, ""
	}
	return name, client.Model()
}

// Providers lists the configured provider names.
func (s *Session) Providers() []string {
	return s.registry.Names()
}

// LocalModels lists the models available on the active provider.
// Providers without a listing endpoint return nothing.
func (s *Session) LocalModels(ctx context.Context) ([]string, error) {
	_, client := s.registry.Active()
	lister, ok := client.(interface {
		ListModels(context.Context) ([]string, error)
	})
	if !ok {
		return nil, nil
	}
	return lister.ListModels(ctx)
}

// Servers reports every registered server for /servers.
func (s *Session) Servers() []ServerInfo {
	s.mu.Lock()
	connectors := make([]server.Connector, len(s.connectors))
	copy(connectors, s.connectors)
	s.mu.Unlock()

	perServer := make(map[string]int)
	for _, e := range s.catalog.List() {
		perServer[e.Connector.Name()]++
	}

	infos := make([]ServerInfo, 0, len(connectors))
	for _, c := range connectors {
		infos = append(infos, ServerInfo{
			Name:  c.Name(),
			State: c.State(),
			Tools: perServer[c.Name()],
		})
	}
	return infos
}

// Tools returns the aggregated catalog for /tools.
func (s *Session) Tools() []catalog.Entry {
	return s.catalog.List()
}

// Resources collects every server's resources for /resources.
func (s *Session) Resources(ctx context.Context) []server.ResourceDescriptor {
	s.mu.Lock()
	connectors := make([]server.Connector, len(s.connectors))
	copy(connectors, s.connectors)
	s.mu.Unlock()

	var all []server.ResourceDescriptor
	for _, c := range connectors {
		resources, err := c.ListResources(ctx)
		if err != nil {
			s.logger.Warn("list resources failed", "server", c.Name(), "error", err)
			continue
		}
		all = append(all, resources...)
	}
	return all
}

// ToggleDebug flips wire-level logging and returns the new state.
func (s *Session) ToggleDebug() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.debug = !s.debug
	if s.level != nil {
		if s.debug {
			s.level.Set(slog.LevelDebug)
		} else {
			s.level.Set(s.baseLevel)
		}
	}
	return s.debug
}

func (s *Session) debugEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debug
}

// Shutdown closes every registered server, last added first, and
// reports the first error.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	connectors := s.connectors
	s.connectors = nil
	s.mu.Unlock()

	var firstErr error
	for i := len(connectors) - 1; i >= 0; i-- {
		c := connectors[i]
		s.catalog.Deregister(c.Name())
		if err := c.Shutdown(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutdown %s: %w", c.Name(), err)
		}
	}
	return firstErr
}
