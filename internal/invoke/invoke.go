// Package invoke executes tool calls against the catalog with a
// bounded retry policy. Only connection failures are retried: they
// happen before the backend has done any work, so a fresh attempt is
// safe. Semantic failures (bad arguments, unknown tools, backends that
// ran and reported an error) come back on the first attempt untouched.
package invoke

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/catalog"
	"github.com/parleybot/parley/internal/proto"
)

// Backoff strategies for the delay between attempts.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Policy bounds the retry behavior of one invocation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff selects the delay strategy between attempts.
	Backoff string

	// Delay is the base delay between attempts. Fixed backoff waits
	// exactly this long; exponential doubles it each retry.
	Delay time.Duration

	// Timeout bounds each individual attempt. Zero means only the
	// caller's context limits the call.
	Timeout time.Duration
}

// DefaultPolicy matches the shipped configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     BackoffFixed,
		Delay:       time.Second,
		Timeout:     30 * time.Second,
	}
}

// delayFor returns the wait before the given retry (attempt numbers
// start at 1; the first retry follows attempt 1).
func (p Policy) delayFor(attempt int) time.Duration {
	if p.Backoff != BackoffExponential {
		return p.Delay
	}
	d := p.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Invoker resolves tool names through the catalog and dispatches calls
// under the retry policy.
type Invoker struct {
	catalog *catalog.Catalog
	policy  Policy
	logger  *slog.Logger
}

// New creates an invoker over the given catalog.
func New(cat *catalog.Catalog, policy Policy, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Invoker{
		catalog: cat,
		policy:  policy,
		logger:  logger,
	}
}

// Invoke runs one tool call end to end: resolve, validate, dispatch
// with retries. Every outcome is a normalized result envelope; callers
// inspect Result.Err.Kind rather than a Go error.
func (inv *Invoker) Invoke(ctx context.Context, toolName string, args map[string]any) proto.Result {
	callID := uuid.NewString()
	logger := inv.logger.With("call_id", callID, "tool", toolName)

	entry, err := inv.catalog.Resolve(toolName)
	if err != nil {
		logger.Warn("tool not found")
		return proto.Fail(proto.KindToolNotFound, "no tool named %q", toolName)
	}

	if err := validateArgs(entry.Descriptor.InputSchema, args); err != nil {
		logger.Warn("argument validation failed", "error", err)
		return proto.Fail(proto.KindArgument, "%s: %v", toolName, err)
	}

	logger = logger.With("server", entry.Connector.Name())

	var result proto.Result
	for attempt := 1; attempt <= inv.policy.MaxAttempts; attempt++ {
		result = inv.attempt(ctx, entry, args)
		if !result.OK && result.Err == nil {
			// A failure without detail can't be classified; treat it
			// as the backend reporting an execution error.
			result.Err = &proto.Failure{Kind: proto.KindExecution, Message: "tool reported failure without detail"}
		}
		if result.OK || !result.Err.Kind.Retryable() {
			if attempt > 1 && result.OK {
				logger.Info("tool call succeeded after retry", "attempts", attempt)
			}
			return result
		}

		if attempt == inv.policy.MaxAttempts {
			break
		}

		delay := inv.policy.delayFor(attempt)
		logger.Warn("tool call failed, retrying",
			"attempt", attempt,
			"max_attempts", inv.policy.MaxAttempts,
			"delay", delay,
			"error", result.Err.Message,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return proto.Fail(proto.KindCancelled, "%s: interrupted while waiting to retry", toolName)
		case <-timer.C:
		}
	}

	logger.Error("tool call failed",
		"attempts", inv.policy.MaxAttempts,
		"error", result.Err.Message,
	)
	return result
}

// attempt runs a single dispatch under the per-attempt timeout.
func (inv *Invoker) attempt(ctx context.Context, entry catalog.Entry, args map[string]any) proto.Result {
	if inv.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.policy.Timeout)
		defer cancel()
	}

	result, err := entry.Connector.CallTool(ctx, entry.Descriptor.Name, args)
	if err != nil {
		return proto.Fail(proto.KindOf(err), "%s: %v", entry.Name, err)
	}
	return result
}

// validateArgs checks args against a JSON-schema-shaped input schema:
// required properties must be present and declared property types must
// match. Properties the schema doesn't declare pass through untouched;
// backends own their full validation.
func validateArgs(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}

	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required parameter %q", name)
			}
		}
	}
	// Schemas loaded from our own Go maps carry []string.
	if req, ok := schema["required"].([]string); ok {
		for _, name := range req {
			if _, present := args[name]; !present {
				return fmt.Errorf("missing required parameter %q", name)
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for name, value := range args {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		declared, _ := prop["type"].(string)
		if declared == "" || value == nil {
			continue
		}
		if !typeMatches(declared, value) {
			return fmt.Errorf("parameter %q: expected %s, got %T", name, declared, value)
		}
	}

	return nil
}

// typeMatches checks a decoded JSON value against a schema type name.
func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case "integer":
		switch v := value.(type) {
		case int, int64:
			return true
		case float64:
			return v == float64(int64(v))
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
