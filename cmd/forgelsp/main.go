// Command forgelsp runs language servers for a workspace and exposes their
// diagnostics on the command line, over HTTP and WebSocket, and to coding
// agents through MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Strob0t/forgelsp/internal/adapter/install"
	flnats "github.com/Strob0t/forgelsp/internal/adapter/nats"
	flotel "github.com/Strob0t/forgelsp/internal/adapter/otel"
	"github.com/Strob0t/forgelsp/internal/config"
	"github.com/Strob0t/forgelsp/internal/logger"
	"github.com/Strob0t/forgelsp/internal/service"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

// errDiagnostics makes check exit 1 without logging a fatal error.
var errDiagnostics = errors.New("errors reported")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errDiagnostics) {
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "forgelsp: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		printHelp()
		return nil
	}

	switch args[0] {
	case "check":
		return runCheck(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "serve":
		return runServe(args[1:])
	case "mcp":
		return runMCP(args[1:])
	case "install":
		return runInstall(args[1:])
	case "status":
		return runStatus(args[1:])
	case "version":
		fmt.Println(version)
		return nil
	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `Usage: forgelsp <command> [options]

Commands:
  check <files...>   Open files, wait for diagnostics and print them
  watch              Forward file writes to language servers and print diagnostics
  serve              HTTP and WebSocket status surface
  mcp                MCP server on stdio
  install <lang...>  Install language servers
  status             Show installed language servers
  version            Print the version
  help               Show this help message

Configuration is read from forgelsp.yaml (or $FORGELSP_CONFIG) and
FORGELSP_* environment variables.

Examples:
  forgelsp check src/main.ts src/util.ts
  forgelsp watch --dir ./src
  forgelsp serve --addr 127.0.0.1:7070
  forgelsp install rust go
`)
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// app bundles the wiring shared by the long-running commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *flotel.Metrics
	registry *install.Registry
	svc      *service.LSPService

	closers []func(context.Context) error
}

// newApp loads configuration and wires logging, telemetry, the installer
// registry, the LSP service and the optional NATS publisher.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func(context.Context) error {
		logCloser.Close()
		return nil
	})

	otelShutdown, err := flotel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, func(ctx context.Context) error { return otelShutdown(ctx) })

	a.metrics, err = flotel.NewMetrics()
	if err != nil {
		log.Warn("metrics disabled", "error", err)
		a.metrics = nil
	}

	var pub *flnats.Publisher
	if cfg.NATS.URL != "" {
		pub, err = flnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	}

	a.registry = install.NewRegistry(cfg.Installer, log, a.metrics)
	factory := service.NewClientFactory(a.registry, service.ClientOptions(cfg.LSP, log, a.metrics))
	a.svc = service.NewLSPService(cfg.LSP, factory, log)
	a.svc.SetInstallers(a.registry, cfg.Breaker)
	a.svc.SetMetrics(a.metrics)
	if pub != nil {
		a.svc.AddBroadcaster(pub)
	}
	a.closers = append(a.closers, a.svc.Shutdown)

	log.Debug("forgelsp started",
		"version", version,
		"workspace", cfg.LSP.Workspace,
		"install_dir", cfg.Installer.Dir,
		"auto_install", cfg.LSP.AutoInstall,
		"nats", cfg.NATS.URL != "",
	)
	return a, nil
}

// close runs the closers in reverse order so the service stops before the
// publisher and telemetry it reports to.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown step failed", "error", err)
		}
	}
}
