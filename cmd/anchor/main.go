// Anchor is a supervised CBT companion bot.
//
// Every candidate reply is drafted by a therapist model and reviewed by
// a supervisor model before it reaches the user; messages that hint at
// acute risk bypass generation entirely and receive a fixed safety
// response. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	anchor serve             Start the Telegram bot and ops server
//	anchor ask <message>     Run a single message through the loop (for testing)
//	anchor version           Print version and build information
//	anchor -o json version   Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anchorbot/anchor/internal/agent"
	"github.com/anchorbot/anchor/internal/buildinfo"
	"github.com/anchorbot/anchor/internal/config"
	"github.com/anchorbot/anchor/internal/events"
	"github.com/anchorbot/anchor/internal/history"
	"github.com/anchorbot/anchor/internal/llm"
	"github.com/anchorbot/anchor/internal/memory"
	"github.com/anchorbot/anchor/internal/telegram"
	"github.com/anchorbot/anchor/internal/telemetry"
	"github.com/anchorbot/anchor/internal/web"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the anchor command. All OS-level
// dependencies are injected as parameters so that tests can drive the
// full lifecycle. Arguments are parsed by hand: the flag package relies
// on package-level globals, and our surface is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
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
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: anchor ask <message>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
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
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Anchor - Supervised CBT Companion Bot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: anchor [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the Telegram bot and ops server")
	fmt.Fprintln(w, "  ask          Run a single message through the loop (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk handles "anchor ask <message>": one message through the full
// grounding loop with no persistence and no transport. Useful for
// prompt and model smoke tests.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn, "text")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Info("config loaded", "path", cfgPath)

	client, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	analyzer := agent.NewStateAnalyzer(client, cfg.Models, logger)
	drafter := agent.NewTherapistDrafter(client, cfg.Models, logger)
	critic := agent.NewSupervisorCritic(client, cfg.Models, logger)
	loop := agent.NewController(drafter, critic, cfg.Loop, cfg.Safety, logger, nil)
	svc := agent.NewService(analyzer, loop, nil, nil, cfg.Loop, logger, nil)

	out, err := svc.HandleTurn(ctx, "cli-test", strings.Join(args, " "), nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, out.Text)
	fmt.Fprintf(stdout, "\n[outcome=%s iterations=%d emotion=%s intensity=%d]\n",
		out.Kind, out.Iterations, out.Snapshot.Emotion, out.Snapshot.Intensity)
	return nil
}

// runServe handles "anchor serve": the full bot with Telegram
// transport, persistence, ops server, and telemetry.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, "text")
	slog.SetDefault(logger)

	logger.Info("starting anchor",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
	)

	// Shut down cleanly on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(cfg.DataDir, "anchor.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hist, err := history.NewStore(db, cfg.History.Window)
	if err != nil {
		return err
	}

	mem, err := memory.NewManager(cfg.MemoryDir, logger)
	if err != nil {
		return err
	}

	client, err := createLLMClient(cfg)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		// The provider may come up later; the loop degrades safely
		// until then.
		logger.Warn("llm provider unreachable at startup", "error", err)
	}

	bus := events.New()
	collector := telemetry.NewCollector()

	analyzer := agent.NewStateAnalyzer(client, cfg.Models, logger)
	drafter := agent.NewTherapistDrafter(client, cfg.Models, logger)
	critic := agent.NewSupervisorCritic(client, cfg.Models, logger)
	loop := agent.NewController(drafter, critic, cfg.Loop, cfg.Safety, logger, bus)
	svc := agent.NewService(analyzer, loop, hist, mem, cfg.Loop, logger, bus)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		collector.Run(ctx, bus)
	}()

	if cfg.Telegram.Enabled {
		if cfg.Telegram.Token == "" {
			return fmt.Errorf("telegram enabled but no token configured")
		}
		tgClient := telegram.NewClient(telegram.DefaultBaseURL, cfg.Telegram.Token, cfg.Telegram.PollTimeoutSec, logger)
		bridge := telegram.NewBridge(telegram.BridgeConfig{
			Client:    tgClient,
			Handler:   svc,
			History:   hist,
			Memory:    mem,
			Texts:     cfg.Texts,
			RateLimit: cfg.Telegram.RateLimit,
			Logger:    logger,
			Bus:       bus,
		})

		wg.Add(2)
		go func() {
			defer wg.Done()
			tgClient.Start(ctx)
		}()
		go func() {
			defer wg.Done()
			bridge.Start(ctx)
		}()
	} else {
		logger.Warn("telegram transport disabled")
	}

	if cfg.Web.Enabled {
		ws := web.NewWebServer(web.Config{
			Memory:    mem,
			Bus:       bus,
			StatsFunc: collector.Snapshot,
			Logger:    logger,
		})
		addr := net.JoinHostPort(cfg.Web.Address, strconv.Itoa(cfg.Web.Port))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Serve(ctx, addr); err != nil {
				logger.Error("web server stopped", "error", err)
			}
		}()
	}

	if cfg.Telemetry.Enabled {
		pub := telemetry.NewPublisher(cfg.Telemetry, collector, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pub.Start(ctx); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
				return
			}
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("mqtt disconnect failed", "error", err)
			}
		}()
	}

	logger.Info("anchor running", "build", buildinfo.String())

	<-ctx.Done()
	logger.Info("shutdown signal received")
	wg.Wait()
	logger.Info("anchor stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level and format. All log output goes through slog; this helper
// standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// createLLMClient builds the provider client both model roles share.
func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.Models.Provider {
	case "openai", "openrouter", "":
		if cfg.Models.APIKey == "" {
			return nil, fmt.Errorf("provider %q requires models.api_key", cfg.Models.Provider)
		}
		return llm.NewOpenAIClient(cfg.Models.BaseURL, cfg.Models.APIKey), nil
	case "ollama":
		return llm.NewOllamaClient(cfg.Models.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Models.Provider)
	}
}
