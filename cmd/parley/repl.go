package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/parleybot/parley/internal/buildinfo"
	"github.com/parleybot/parley/internal/history"
	"github.com/parleybot/parley/internal/proto"
)

// runChat handles the "parley chat" subcommand: the interactive loop.
// Lines starting with "/" are session commands; everything else goes
// to the model. SIGINT and SIGTERM end the session cleanly.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	env, err := buildSession(ctx, stderr, cfg)
	if err != nil {
		return err
	}
	defer env.Close()
	env.Logger.Info("starting parley", "version", buildinfo.Version, "config", cfgPath)

	hist, err := history.Load(cfg.HistoryFile)
	if err != nil {
		env.Logger.Warn("history unavailable", "path", cfg.HistoryFile, "error", err)
		hist = history.New()
	}
	defer func() {
		if err := hist.Save(); err != nil {
			env.Logger.Warn("history save failed", "error", err)
		}
	}()

	fmt.Fprintln(stdout, env.Prompts.Common.Welcome)
	fmt.Fprintln(stdout, `Type /help for commands, /exit to quit.`)

	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(stdout, "\nyou> ")
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		hist.Add(input)

		if strings.HasPrefix(input, "/") {
			if input == "/history" {
				for _, e := range hist.Recent(20) {
					fmt.Fprintln(stdout, e)
				}
				continue
			}
			if quit := runCommand(ctx, stdout, env, input); quit {
				break
			}
			continue
		}

		answer, err := env.Session.ProcessInput(ctx, input)
		if err != nil {
			if proto.KindOf(err) == proto.KindProviderUnavailable {
				fmt.Fprintln(stdout, env.Prompts.Common.ProviderError)
				continue
			}
			if ctx.Err() != nil {
				break
			}
			fmt.Fprintf(stdout, "error: %s\n", err)
			continue
		}
		fmt.Fprintf(stdout, "\nparley> %s\n", answer)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	fmt.Fprintln(stdout, "\nGoodbye!")
	return nil
}

// runCommand dispatches one slash command. It returns true when the
// session should end.
func runCommand(ctx context.Context, stdout io.Writer, env *app, input string) bool {
	fields := strings.Fields(input)
	command, args := fields[0], fields[1:]

	switch command {
	case "/exit", "/quit":
		return true

	case "/help":
		printCommands(stdout)

	case "/servers":
		servers := env.Session.Servers()
		if len(servers) == 0 {
			fmt.Fprintln(stdout, "no servers registered")
			return false
		}
		for _, s := range servers {
			fmt.Fprintf(stdout, "%-16s %-12s %d tools\n", s.Name, s.State, s.Tools)
		}

	case "/tools":
		entries := env.Session.Tools()
		if len(entries) == 0 {
			fmt.Fprintln(stdout, "no tools available")
			return false
		}
		for _, e := range entries {
			fmt.Fprintf(stdout, "%-28s [%s] %s\n", e.Name, e.Connector.Name(), e.Descriptor.Description)
		}

	case "/resources":
		resources := env.Session.Resources(ctx)
		if len(resources) == 0 {
			fmt.Fprintln(stdout, "no resources available")
			return false
		}
		for _, r := range resources {
			fmt.Fprintf(stdout, "%-28s [%s] %s\n", r.Pattern, r.Server, r.Description)
		}

	case "/model":
		if len(args) == 0 {
			name, model := env.Session.Provider()
			fmt.Fprintf(stdout, "active: %s (%s)\n", name, model)
			names := env.Session.Providers()
			sort.Strings(names)
			fmt.Fprintf(stdout, "available: %s\n", strings.Join(names, ", "))

			// Best effort: show what the active provider has pulled.
			listCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			models, err := env.Session.LocalModels(listCtx)
			cancel()
			if err == nil && len(models) > 0 {
				fmt.Fprintf(stdout, "local models: %s\n", strings.Join(models, ", "))
			}
			return false
		}
		if err := env.Session.SwitchProvider(args[0]); err != nil {
			fmt.Fprintf(stdout, "error: %s\n", err)
			return false
		}
		name, model := env.Session.Provider()
		fmt.Fprintf(stdout, "switched to %s (%s); conversation carries over\n", name, model)

	case "/debug":
		if env.Session.ToggleDebug() {
			fmt.Fprintln(stdout, "debug logging on")
		} else {
			fmt.Fprintln(stdout, "debug logging off")
		}

	case "/usage":
		u := env.Session.Usage()
		fmt.Fprintf(stdout, "requests: %d  input tokens: %d  output tokens: %d\n",
			u.Requests, u.InputTokens, u.OutputTokens)
		if env.Usage != nil {
			byProvider, err := env.Usage.SummaryByProvider(time.Time{}, time.Now().Add(time.Hour))
			if err != nil {
				fmt.Fprintf(stdout, "error: %s\n", err)
				return false
			}
			for provider, sum := range byProvider {
				fmt.Fprintf(stdout, "all time [%s]: %d requests, %d in, %d out\n",
					provider, sum.TotalRecords, sum.TotalInputTokens, sum.TotalOutputTokens)
			}
		}

	case "/clear":
		dropped := len(env.Session.Conversation().Turns())
		env.Session.ClearConversation()
		fmt.Fprintf(stdout, "conversation cleared (%d turns dropped)\n", dropped)

	default:
		fmt.Fprintf(stdout, "unknown command %s (try /help)\n", command)
	}
	return false
}

func printCommands(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  /servers          List registered tool servers")
	fmt.Fprintln(w, "  /tools            List available tools")
	fmt.Fprintln(w, "  /resources        List server resources")
	fmt.Fprintln(w, "  /model [name]     Show or switch the model provider")
	fmt.Fprintln(w, "  /debug            Toggle debug logging")
	fmt.Fprintln(w, "  /usage            Show token usage")
	fmt.Fprintln(w, "  /history          Show recent input history")
	fmt.Fprintln(w, "  /clear            Clear the conversation")
	fmt.Fprintln(w, "  /exit             Quit")
}
