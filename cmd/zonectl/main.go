package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/zonectl/internal/action"
	"github.com/mattjoyce/zonectl/internal/api"
	"github.com/mattjoyce/zonectl/internal/config"
	"github.com/mattjoyce/zonectl/internal/discovery"
	"github.com/mattjoyce/zonectl/internal/dispatch"
	"github.com/mattjoyce/zonectl/internal/doctor"
	"github.com/mattjoyce/zonectl/internal/events"
	"github.com/mattjoyce/zonectl/internal/journal"
	"github.com/mattjoyce/zonectl/internal/lock"
	"github.com/mattjoyce/zonectl/internal/log"
	"github.com/mattjoyce/zonectl/internal/storage"
	"github.com/mattjoyce/zonectl/internal/tui/watch"
	"github.com/mattjoyce/zonectl/internal/zone"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitProblems = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(exitError)
	}
	os.Exit(runCommand(os.Args[1], os.Args[2:]))
}

func runCommand(cmd string, args []string) int {
	switch cmd {
	case "run":
		return runRun(args)
	case "serve":
		return runServe(args)
	case "watch":
		return runWatch(args)
	case "config":
		return runConfigNoun(args)
	case "version":
		fmt.Printf("zonectl version %s\n", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
		return exitError
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `zonectl - Per-zone command dispatcher for networked audio players

Usage:
  zonectl <command> [flags] [args]

Commands:
  run [--zone NAME] ACTION...   Discover zones, dispatch actions, report and exit
  serve                         Discover zones and expose the HTTP API until interrupted
  watch [--api URL]             Live terminal view of a running server
  config check                  Validate configuration and its integrity
  config lock                   Record the config checksum for integrity checks
  version                       Show version information
  help                          Show this help message

Actions use the form name[:key=value,...], e.g. "volume:level=20".
Without --zone, actions are sent to every zone as it is discovered.

Common flags:
  --config PATH   Configuration file or directory (default: discovered)
`)
}

// --- run ---

func runRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	zoneName := fs.String("zone", "", "Zone that receives the actions (default: every discovered zone)")
	timeout := fs.Duration("timeout", 0, "Override the wait budget (drain_timeout with --zone, settle_timeout without)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	specs := fs.Args()
	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "run: at least one action is required")
		return exitError
	}
	for _, spec := range specs {
		if _, err := action.Parse(spec); err != nil {
			fmt.Fprintf(os.Stderr, "run: %v\n", err)
			return exitError
		}
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitError
	}
	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitError
	}
	defer rt.Close()

	drain := *zoneName != ""
	wait := cfg.Dispatch.SettleTimeout
	if drain {
		wait = cfg.Dispatch.DrainTimeout
	}
	if *timeout > 0 {
		wait = *timeout
	}

	src := discovery.NewStatic(cfg.Zones, rt.dispatcher, nil, log.WithComponent("discovery"))
	if drain {
		for _, spec := range specs {
			cmd, _ := action.Parse(spec)
			if err := rt.dispatcher.DispatchCommand(cmd, *zoneName); err != nil {
				logger.Error("dispatch failed", "zone", *zoneName, "command", spec, "error", err)
				return exitError
			}
		}
	} else {
		src.OnFound(func(found string, _ zone.Device) {
			for _, spec := range specs {
				cmd, _ := action.Parse(spec)
				if err := rt.dispatcher.DispatchCommand(cmd, found); err != nil {
					logger.Error("dispatch failed", "zone", found, "command", spec, "error", err)
				}
			}
		})
	}

	discoveryCtx, stopDiscovery := context.WithCancel(ctx)
	defer stopDiscovery()
	go func() {
		if err := src.Run(discoveryCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("discovery stopped", "error", err)
		}
	}()

	logger.Info("zonectl run", "version", version, "zone", *zoneName, "actions", specs, "wait", wait)
	switch err := rt.dispatcher.AwaitIdle(ctx, wait, drain); {
	case err == nil:
	case errors.Is(err, dispatch.ErrIdleTimeout):
		logger.Warn("zones still busy at deadline", "wait", wait)
	default:
		logger.Warn("wait interrupted", "error", err)
	}
	stopDiscovery()

	report := rt.shutdown(cfg.Dispatch.StopGrace)
	if report.HasProblems() {
		return exitProblems
	}
	return exitOK
}

// --- serve ---

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	listen := fs.String("listen", "", "Override api.listen")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitError
	}
	if *listen != "" {
		cfg.API.Enabled = true
		cfg.API.Listen = *listen
	}
	if !cfg.API.Enabled {
		fmt.Fprintln(os.Stderr, "serve: api is disabled (set api.enabled or pass --listen)")
		return exitError
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("zonectl starting", "version", version, "config", path)

	integrity, err := config.VerifyIntegrity(path)
	if err != nil {
		logger.Error("integrity check failed", "error", err)
		return exitError
	}
	if !integrity.Passed {
		for _, msg := range integrity.Errors {
			logger.Error("config integrity", "error", msg)
		}
		return exitError
	}
	for _, msg := range integrity.Warnings {
		logger.Warn("config integrity", "warning", msg)
	}

	lockPath := lock.PathFor(cfg.Journal.Path, cfg.Service.Name)
	pidLock, err := lock.AcquirePIDLock(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return exitError
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return exitError
	}
	defer rt.Close()

	errCh := make(chan error, 2)

	src := discovery.NewStatic(cfg.Zones, rt.dispatcher, nil, log.WithComponent("discovery"))
	go func() {
		if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("discovery: %w", err)
		}
	}()

	var history api.History
	if rt.journal != nil {
		history = rt.journal
	}
	server := api.New(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token},
		rt.dispatcher, history, rt.hub, log.WithComponent("api"))
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	code := exitOK
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = exitError
		stop()
	}

	rt.shutdown(cfg.Dispatch.StopGrace)
	return code
}

// --- watch ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	apiURL := fs.String("api", "", "API base URL (default: from api.listen)")
	token := fs.String("token", "", "Bearer token (default: api.token)")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	if *apiURL == "" || *token == "" {
		cfg, _, err := loadConfig(*configPath)
		switch {
		case err == nil:
			if *apiURL == "" {
				*apiURL = "http://" + cfg.API.Listen
			}
			if *token == "" {
				*token = cfg.API.Token
			}
		case *apiURL == "":
			fmt.Fprintf(os.Stderr, "Failed to load config (pass --api to skip): %v\n", err)
			return exitError
		}
	}

	p := tea.NewProgram(watch.New(strings.TrimRight(*apiURL, "/"), *token), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return exitError
	}
	return exitOK
}

// --- config ---

func runConfigNoun(args []string) int {
	if len(args) < 1 || isHelpToken(args[0]) {
		fmt.Fprintln(os.Stderr, "Usage: zonectl config <check|lock> [--config PATH]")
		if len(args) < 1 {
			return exitError
		}
		return exitOK
	}

	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return exitError
	}
}

func runConfigCheck(args []string) int {
	var configPath, format string
	var strict, jsonOut bool

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if jsonOut {
		format = "json"
	}

	cfg, path, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return exitError
	}

	result := doctor.New(cfg).Validate()
	integrity, err := config.VerifyIntegrity(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Integrity check error: %v\n", err)
		return exitError
	}
	doctor.AddIntegrity(result, integrity)
	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return exitError
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return exitError
	}
	if strict && len(result.Warnings) > 0 {
		return exitProblems
	}
	return exitOK
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	// Refuse to bless a config that does not load.
	_, path, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return exitError
	}
	manifest, err := config.Lock(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lock: %v\n", err)
		return exitError
	}
	fmt.Printf("Locked %s -> %s\n", path, manifest)
	return exitOK
}

// --- shared wiring ---

func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", err
		}
		path = discovered
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

// app is the dispatcher with its optional journal and event hub.
type app struct {
	dispatcher *dispatch.Dispatcher
	journal    *journal.Journal
	hub        *events.Hub
	logger     *slog.Logger
	closeDB    func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	rt := &app{
		hub:     events.NewHub(cfg.Events.Buffer),
		logger:  log.WithComponent("main"),
		closeDB: func() error { return nil },
	}

	opts := dispatch.Options{
		Worker: zone.Options{
			RequireDevice:  cfg.Dispatch.RequiresDevice(),
			CommandTimeout: cfg.Dispatch.CommandTimeout,
		},
		Logger: log.WithComponent("dispatch"),
		Events: rt.hub,
	}

	if cfg.Journal.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal %s: %w", cfg.Journal.Path, err)
		}
		rt.closeDB = db.Close
		rt.journal = journal.New(db)
		opts.Journal = rt.journal
		rt.logger.Info("journal opened", "path", cfg.Journal.Path)
	}

	rt.dispatcher = dispatch.New(opts)
	return rt, nil
}

// shutdown logs the diagnostic report, joins the workers for at most grace
// and clears the registry.
func (rt *app) shutdown(grace time.Duration) dispatch.Report {
	report := rt.dispatcher.LogSummary()

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := rt.dispatcher.StopAll(ctx); err != nil {
		rt.logger.Warn("zones did not stop within grace period", "grace", grace, "error", err)
	}
	rt.dispatcher.ResetAll()
	return report
}

func (rt *app) Close() {
	if err := rt.closeDB(); err != nil {
		rt.logger.Warn("failed to close journal", "error", err)
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "-h" || token == "--help"
}
