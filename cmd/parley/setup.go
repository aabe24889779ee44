package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parleybot/parley/internal/backend"
	"github.com/parleybot/parley/internal/catalog"
	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/embeddings"
	"github.com/parleybot/parley/internal/invoke"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/server"
	"github.com/parleybot/parley/internal/session"
	"github.com/parleybot/parley/internal/usage"
)

// app is everything a subcommand needs after startup wiring.
type app struct {
	Session *session.Session
	Prompts *config.Prompts
	Logger  *slog.Logger
	Usage   *usage.Store
}

// Close shuts the session down, closing every registered server and
// the usage store.
func (e *app) Close() {
	if err := e.Session.Shutdown(); err != nil {
		e.Logger.Error("shutdown failed", "error", err)
	}
	if e.Usage != nil {
		if err := e.Usage.Close(); err != nil {
			e.Logger.Error("usage store close failed", "error", err)
		}
	}
}

// buildSession wires the full stack from configuration: logger,
// providers, catalog, invoker, builtin and remote servers, session.
// Servers that fail to start are logged and skipped so one bad server
// does not take the whole session down.
func buildSession(ctx context.Context, logStream io.Writer, cfg *config.Config) (*app, error) {
	logger, levelVar, err := config.NewLogger(logStream, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	prompts, err := loadPrompts(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}

	usageStore, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	cat := catalog.New(logger)
	inv := invoke.New(cat, invoke.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		Backoff:     cfg.Retry.Backoff,
		Delay:       cfg.Retry.Delay(),
		Timeout:     cfg.Retry.Timeout(),
	}, logger)

	sess := session.New(session.Options{
		Registry: registry,
		Catalog:  cat,
		Invoker:  inv,
		Prompts:  prompts,
		Logger:   logger,
		Level:    levelVar,
		Recorder: usageStore,
	})

	for _, sc := range cfg.Servers {
		conn, err := buildConnector(cfg, sc, logger)
		if err != nil {
			logger.Error("server setup failed, skipping", "server", sc.Name, "error", err)
			continue
		}
		if sc.Prompt != "" {
			sess.SetServerPrompt(sc.Name, sc.Prompt)
		}
		if err := sess.AddServer(ctx, conn); err != nil {
			logger.Error("server registration failed, skipping", "server", sc.Name, "error", err)
		}
	}

	return &app{Session: sess, Prompts: prompts, Logger: logger, Usage: usageStore}, nil
}

// loadPrompts reads the configured prompts file, or falls back to the
// built-in prompt set when none is configured.
func loadPrompts(cfg *config.Config) (*config.Prompts, error) {
	if cfg.PromptsFile == "" {
		return config.DefaultPrompts(), nil
	}
	prompts, err := config.LoadPrompts(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts %s: %w", cfg.PromptsFile, err)
	}
	return prompts, nil
}

// buildProviders registers the configured model backends. The default
// provider is added first so it starts active.
func buildProviders(cfg *config.Config) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	add := func(name string) {
		switch name {
		case "ollama":
			registry.Add("ollama", llm.NewOllamaClient(cfg.Providers.Ollama.BaseURL, cfg.Providers.Ollama.Model))
		case "openai":
			if cfg.Providers.OpenAI.APIKey != "" {
				registry.Add("openai", llm.NewOpenAIClient(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.BaseURL, cfg.Providers.OpenAI.Model))
			}
		}
	}

	add(cfg.Providers.Default)
	for _, name := range []string{"ollama", "openai"} {
		if name != cfg.Providers.Default {
			add(name)
		}
	}

	if len(registry.Names()) == 0 {
		return nil, fmt.Errorf("no model providers configured (default %q)", cfg.Providers.Default)
	}
	return registry, nil
}

// buildConnector constructs one tool server from its config entry.
func buildConnector(cfg *config.Config, sc config.ServerConfig, logger *slog.Logger) (server.Connector, error) {
	switch sc.Transport {
	case "builtin":
		return buildBuiltin(cfg, sc, logger)
	case "stdio":
		transport := server.NewStdioTransport(server.StdioConfig{
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			Logger:  logger,
		})
		return server.NewClient(sc.Name, transport, logger), nil
	case "http":
		transport := server.NewHTTPTransport(server.HTTPConfig{
			URL:     sc.URL,
			Headers: sc.Headers,
			Logger:  logger,
		})
		return server.NewClient(sc.Name, transport, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", sc.Transport)
	}
}

// buildBuiltin constructs one in-process backend. The backend kind
// defaults to the server name, so the shipped config needs no options.
func buildBuiltin(cfg *config.Config, sc config.ServerConfig, logger *slog.Logger) (server.Connector, error) {
	kind := sc.Options["kind"]
	if kind == "" {
		kind = sc.Name
	}

	switch kind {
	case "memory":
		return backend.NewMemory(sc.Name, logger), nil
	case "sqlite":
		path := sc.Options["path"]
		if path == "" {
			path = filepath.Join(cfg.DataDir, "parley.db")
		}
		return backend.NewSQLite(sc.Name, path, logger)
	case "file":
		workspace := sc.Options["workspace"]
		if workspace == "" {
			workspace = filepath.Join(cfg.DataDir, "workspace")
		}
		// Options like "root.notes: ~/notes" become named path roots.
		var roots map[string]string
		for key, dir := range sc.Options {
			if name, ok := strings.CutPrefix(key, "root."); ok {
				if roots == nil {
					roots = make(map[string]string)
				}
				roots[name] = dir
			}
		}
		return backend.NewFile(sc.Name, workspace, roots, logger)
	case "retrieval":
		return buildRetrievalBackendNamed(cfg, sc.Name, sc.Options["path"], logger)
	case "transcribe":
		command := sc.Options["command"]
		if command == "" {
			command = "whisper-cli"
		}
		return backend.NewTranscribe(sc.Name, command, sc.Options["model"], logger), nil
	default:
		return nil, fmt.Errorf("unknown builtin kind %q", kind)
	}
}

// buildRetrievalBackend opens the retrieval index under the default
// name and path, for subcommands that use it standalone.
func buildRetrievalBackend(cfg *config.Config, logger *slog.Logger) (server.Connector, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	return buildRetrievalBackendNamed(cfg, "retrieval", "", logger)
}

func buildRetrievalBackendNamed(cfg *config.Config, name, path string, logger *slog.Logger) (server.Connector, error) {
	if path == "" {
		path = filepath.Join(cfg.DataDir, "retrieval.db")
	}

	embedURL := cfg.Providers.Embed.BaseURL
	if embedURL == "" {
		embedURL = cfg.Providers.Ollama.BaseURL
	}
	embedder := embeddings.New(embeddings.Config{
		BaseURL: embedURL,
		Model:   cfg.Providers.Embed.Model,
	})

	return backend.NewRetrieval(name, path, embedder, logger)
}
