package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corvidlabs/pennywise/internal/api"
	"github.com/corvidlabs/pennywise/internal/config"
	"github.com/corvidlabs/pennywise/internal/router"
	"github.com/corvidlabs/pennywise/internal/scheduler"
	"github.com/corvidlabs/pennywise/internal/security"
	"github.com/corvidlabs/pennywise/internal/task"
	"github.com/corvidlabs/pennywise/internal/tui"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

// App holds all the runtime components
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Router    *router.Router
	APIServer *api.Server
	Scheduler *scheduler.Scheduler
	Watcher   *config.Watcher
	Reloader  *config.Reloader
	apiCtx    context.Context
	apiCancel context.CancelFunc
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		return serveCommand(nil)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve", "start":
		return serveCommand(args)
	case "init":
		return initCommand(args)
	case "route":
		return routeCommand(args)
	case "exec":
		return execCommand(args)
	case "report":
		return reportCommand(args)
	case "dashboard":
		return dashboardCommand(args)
	case "token":
		return tokenCommand(args)
	case "version", "--version", "-version":
		fmt.Printf("pennywise v%s (built %s)\n", version, buildTime)
		return 0
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		// Bare flags mean "serve" with those flags
		if cmd[0] == '-' {
			return serveCommand(os.Args[1:])
		}
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println(`pennywise - cost-tiered model routing

Usage:
  pennywise serve      start the routing server (default)
  pennywise init       write a default config file
  pennywise route      classify a task without executing (dry run)
  pennywise exec       route and execute a single task
  pennywise report     print the savings report from a running server
  pennywise dashboard  live terminal dashboard for a running server
  pennywise token      mint an API token
  pennywise version    print version`)
}

// ─────────────────────────────────────────────────────
// serve
// ─────────────────────────────────────────────────────

func serveCommand(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "pennywise.json", "path to config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	app, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	if err := startServices(app, *configPath); err != nil {
		app.Logger.Error("failed to start services", "error", err)
		return 1
	}

	printBanner(app)

	if err := waitForShutdown(app); err != nil {
		app.Logger.Error("shutdown error", "error", err)
		return 1
	}
	return 0
}

// setup initializes all application components
func setup(configPath string) (*App, error) {
	app := &App{}

	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	app.Logger.Info("starting pennywise",
		"version", version,
		"config", configPath,
	)

	cfg, err := loadConfig(configPath, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app.Config = cfg

	// Recreate logger with config's log level
	app.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	if cfg.PricingPath != "" {
		overrides, err := config.LoadPricing(cfg.PricingPath)
		if err != nil {
			return nil, fmt.Errorf("load pricing overrides: %w", err)
		}
		applied := cfg.ApplyPricing(overrides)
		app.Logger.Info("pricing overrides applied", "count", applied, "path", cfg.PricingPath)
	}

	r, err := router.New(cfg, app.Logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}
	app.Router = r

	app.APIServer = api.NewServer(cfg.Server.Port, r, authSecret(cfg), app.Logger)

	if cfg.Scheduler.Enabled {
		app.Scheduler = scheduler.New(app.Logger)
		expr := cfg.Scheduler.SnapshotCron
		if expr == "" {
			expr = "0 * * * *"
		}
		if err := app.Scheduler.Add("ledger-snapshot", expr, func(ctx context.Context) error {
			return r.Snapshot(ctx)
		}); err != nil {
			return nil, fmt.Errorf("schedule snapshot job: %w", err)
		}
	}

	return app, nil
}

// authSecret resolves the API signing secret. Env wins over config.
func authSecret(cfg *config.Config) []byte {
	if s := security.GetJWTSecret(); s != nil {
		return s
	}
	if cfg.Server.AuthSecret != "" {
		return []byte(cfg.Server.AuthSecret)
	}
	return nil
}

// loadConfig loads configuration from file or creates default
func loadConfig(path string, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("no config found, creating default")
			cfg = config.DefaultConfig()
			if err := cfg.Save(path); err != nil {
				return nil, fmt.Errorf("save default config: %w", err)
			}
			logger.Info("default config created", "path", path)
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startServices starts the API server, scheduler, and config watcher
func startServices(app *App, configPath string) error {
	app.apiCtx, app.apiCancel = context.WithCancel(context.Background())

	go func() {
		if err := app.APIServer.Start(app.apiCtx); err != nil {
			app.Logger.Error("API server error", "error", err)
		}
	}()

	if app.Scheduler != nil {
		app.Scheduler.Start(app.apiCtx)
	}

	// Hot reload: watch the config file and apply runtime-safe fields
	app.Reloader = config.NewReloader(configPath, app.Config, app.Logger)
	for _, field := range []string{"Thresholds", "Routing", "HeavyBoost", "LogDecisions"} {
		if err := app.Reloader.OnApply(field, app.Router.ApplyRuntimeConfig); err != nil {
			return fmt.Errorf("register reload hook %s: %w", field, err)
		}
	}
	app.Watcher = config.NewWatcher(configPath, 5*time.Second, app.Logger, func() {
		result, err := app.Reloader.Reload()
		if err != nil {
			app.Logger.Error("config reload failed", "error", err)
			return
		}
		result.LogResult(app.Logger)
	})
	app.Watcher.Start()

	return nil
}

// printBanner displays the startup banner
func printBanner(app *App) {
	report := app.Router.Report()
	fmt.Println()
	fmt.Printf("  pennywise v%s\n", version)
	fmt.Printf("  API:   http://localhost:%d\n", app.Config.Server.Port)
	fmt.Printf("  Tiers: %d configured\n", app.Router.Registry().Len())
	fmt.Printf("  Spend: $%.4f this window\n", report.TotalUSD)
	fmt.Println()
}

// waitForShutdown waits for termination signal and performs graceful shutdown
func waitForShutdown(app *App) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	app.Logger.Info("shutdown signal received", "signal", sig.String())

	if app.Watcher != nil {
		app.Watcher.Stop()
	}
	if app.Scheduler != nil {
		app.Scheduler.Stop()
	}
	if app.apiCancel != nil {
		app.apiCancel()
	}

	if err := app.Router.Close(); err != nil {
		return fmt.Errorf("close router: %w", err)
	}

	app.Logger.Info("pennywise stopped")
	return nil
}

// ─────────────────────────────────────────────────────
// init
// ─────────────────────────────────────────────────────

func initCommand(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", "pennywise.json", "path to write config")
	force := fs.Bool("force", false, "overwrite an existing config")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s already exists (use -force to overwrite)\n", *configPath)
		return 1
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "write config: %v\n", err)
		return 1
	}
	fmt.Printf("wrote %s\n", *configPath)
	return 0
}

// ─────────────────────────────────────────────────────
// route / exec: offline, built straight from config
// ─────────────────────────────────────────────────────

func buildRouter(configPath string) (*router.Router, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	r, err := router.New(cfg, logger, router.WithoutStore())
	if err != nil {
		return nil, nil, fmt.Errorf("create router: %w", err)
	}
	return r, cfg, nil
}

func routeCommand(args []string) int {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	configPath := fs.String("config", "pennywise.json", "path to config file")
	category := fs.String("category", "", "task category")
	tools := fs.Bool("tools", false, "task requires tool use")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	payload := fs.Arg(0)
	if payload == "" || *category == "" {
		fmt.Fprintln(os.Stderr, "usage: pennywise route -category <cat> [-tools] <payload>")
		return 1
	}

	r, _, err := buildRouter(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer r.Close()

	profile, err := r.Route(task.Request{
		Payload:       payload,
		Category:      *category,
		RequiresTools: *tools,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(profile)
	return 0
}

func execCommand(args []string) int {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	configPath := fs.String("config", "pennywise.json", "path to config file")
	category := fs.String("category", "", "task category")
	tools := fs.Bool("tools", false, "task requires tool use")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	payload := fs.Arg(0)
	if payload == "" || *category == "" {
		fmt.Fprintln(os.Stderr, "usage: pennywise exec -category <cat> [-tools] <payload>")
		return 1
	}

	r, _, err := buildRouter(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	out, err := r.Execute(ctx, task.Request{
		Payload:       payload,
		Category:      *category,
		RequiresTools: *tools,
	})
	if err != nil {
		var exhausted *task.ExhaustedError
		if errors.As(err, &exhausted) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			printJSON(out)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(out)
	return 0
}

// ─────────────────────────────────────────────────────
// report / dashboard / token: client side
// ─────────────────────────────────────────────────────

func reportCommand(args []string) int {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8710", "server base URL")
	token := fs.String("token", os.Getenv("PENNYWISE_TOKEN"), "API token")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	d := tui.NewDashboard(*server, *token)
	report, err := d.FetchReport()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printJSON(report)
	return 0
}

func dashboardCommand(args []string) int {
	fs := flag.NewFlagSet("dashboard", flag.ExitOnError)
	server := fs.String("server", "http://localhost:8710", "server base URL")
	token := fs.String("token", os.Getenv("PENNYWISE_TOKEN"), "API token")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if err := tui.NewDashboard(*server, *token).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func tokenCommand(args []string) int {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "pennywise.json", "path to config file")
	subject := fs.String("subject", "ops", "token subject")
	role := fs.String("role", security.RoleViewer, "role: viewer or operator")
	expiry := fs.Duration("expiry", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if *role != security.RoleViewer && *role != security.RoleOperator {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		return 1
	}

	secret := security.GetJWTSecret()
	if secret == nil {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if cfg.Server.AuthSecret == "" {
			fmt.Fprintln(os.Stderr, "no auth secret configured (set server.authSecret or PENNYWISE_JWT_SECRET)")
			return 1
		}
		secret = []byte(cfg.Server.AuthSecret)
	}

	tok, err := security.GenerateToken(*subject, *role, secret, *expiry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(tok)
	return 0
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
