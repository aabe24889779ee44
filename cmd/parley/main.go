// Parley is a tool-calling chat agent.
//
// It connects a conversational model to capability servers (an
// in-process memory store, a SQLite engine, a workspace filesystem,
// a document retrieval index, and any external process or HTTP
// endpoint speaking the JSON-RPC tool protocol) and runs the loop
// that turns model tool-call directives into executed tools and
// natural-language answers. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	parley chat              Start an interactive chat session
//	parley ask <question>    Ask a single question and exit
//	parley init [dir]        Initialize a working directory with defaults
//	parley ingest <path>     Import markdown documents into the retrieval index
//	parley version           Print version and build information
//	parley -o json version   Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parleybot/parley/internal/buildinfo"
	"github.com/parleybot/parley/internal/config"
	"github.com/parleybot/parley/internal/ingest"
)

// main constructs the OS-level environment (context, stdio, argv) and
// delegates immediately to [run]. This keeps os.Exit, os.Stdout, and
// os.Args out of the application logic so the full lifecycle can be
// driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the parley command. All OS-level
// dependencies are injected as parameters so tests can drive it.
//
// Arguments are parsed by hand: the flag package relies on
// package-level globals (flag.CommandLine), which makes it impossible
// to call run() concurrently from tests, and our argument surface is
// small enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "chat":
		return runChat(ctx, stdin, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parley ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ingest":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parley ingest <file.md or directory>")
		}
		return runIngest(ctx, stdout, configPath, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Parley - Tool-Calling Chat Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: parley [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat         Start an interactive chat session")
	fmt.Fprintln(w, "  ask          Ask a single question and exit")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  ingest       Import markdown docs into the retrieval index")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./parley.yaml, ~/.config/parley/parley.yaml, /etc/parley/parley.yaml")
	return nil
}

// loadConfig resolves and loads the configuration. A missing config
// file is not fatal: the built-in defaults bring up the builtin
// servers against a local Ollama.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, "", err
		}
		return config.Default(), "(defaults)", nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// runAsk boots a full session, processes one question, prints the
// answer, and shuts everything down.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath string, args []string) error {
	question := strings.Join(args, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	env, err := buildSession(ctx, stderr, cfg)
	if err != nil {
		return err
	}
	defer env.Close()
	env.Logger.Info("config loaded", "path", cfgPath)

	answer, err := env.Session.ProcessInput(ctx, question)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, answer)
	return nil
}

// runIngest imports one markdown file, or every markdown file under a
// directory, into the retrieval index through the retrieval server's
// own tool surface.
func runIngest(ctx context.Context, stdout io.Writer, configPath, path string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, _, err := config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	conn, err := buildRetrievalBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Shutdown()

	if _, err := conn.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize retrieval server: %w", err)
	}

	ingester := ingest.New(conn, logger)

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}

	var count int
	if info.IsDir() {
		count, err = ingester.IngestDir(ctx, path)
	} else {
		count, err = ingester.IngestFile(ctx, path)
	}
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}

	fmt.Fprintf(stdout, "Ingested %d document chunks from %s\n", count, path)
	return nil
}
