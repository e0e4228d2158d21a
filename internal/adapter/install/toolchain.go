package install

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	flotel "github.com/Strob0t/forgelsp/internal/adapter/otel"
	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// Runner executes a package-manager command in dir and returns its combined output.
type Runner func(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, dir string, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // G204: fixed package-manager invocations
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// ToolchainConfig configures a ToolchainInstaller.
type ToolchainConfig struct {
	Language lspDomain.Language
	Version  string
	Root     string
	Tool     string // package manager executable: npm, go, dotnet
	// InstallArgs builds the package-manager arguments for a staging dir.
	InstallArgs func(stagingDir, version string) []string
	// Env adds environment variables for the package manager.
	Env     func(stagingDir string) []string
	Binary  string // executable path relative to the install directory
	Args    []string
	Run     Runner
	Look    func(file string) (string, error) // default exec.LookPath
	Logger  *slog.Logger
	Metrics *flotel.Metrics
}

// ToolchainInstaller delegates installation to the language's package
// manager, which enforces its own integrity checks (npm lockfile
// integrity, the Go checksum database, NuGet package signatures).
type ToolchainInstaller struct {
	cfg    ToolchainConfig
	logger *slog.Logger
}

// NewToolchainInstaller creates a ToolchainInstaller.
func NewToolchainInstaller(cfg ToolchainConfig) *ToolchainInstaller {
	if cfg.Run == nil {
		cfg.Run = execRunner
	}
	if cfg.Look == nil {
		cfg.Look = exec.LookPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ToolchainInstaller{
		cfg:    cfg,
		logger: cfg.Logger.With("language", string(cfg.Language), "version", cfg.Version),
	}
}

func (t *ToolchainInstaller) Language() lspDomain.Language { return t.cfg.Language }
func (t *ToolchainInstaller) Version() string              { return t.cfg.Version }

func (t *ToolchainInstaller) installDir() string {
	return filepath.Join(t.cfg.Root, string(t.cfg.Language), t.cfg.Version)
}

func (t *ToolchainInstaller) binaryPath() string {
	return filepath.Join(t.installDir(), filepath.FromSlash(t.cfg.Binary))
}

func (t *ToolchainInstaller) IsInstalled() bool {
	info, err := os.Stat(t.binaryPath())
	return err == nil && !info.IsDir()
}

func (t *ToolchainInstaller) ServerCommand() ([]string, error) {
	if !t.IsInstalled() {
		return nil, fmt.Errorf("%w: %s %s", lspDomain.ErrServerNotInstalled, t.cfg.Language, t.cfg.Version)
	}
	return append([]string{t.binaryPath()}, t.cfg.Args...), nil
}

func (t *ToolchainInstaller) Install(ctx context.Context, opts Options) error {
	start := time.Now()
	ctx, span := flotel.StartInstallSpan(ctx, string(t.cfg.Language), t.cfg.Version)
	err := t.install(ctx, opts)
	flotel.EndSpan(span, err)
	t.cfg.Metrics.InstallCompleted(ctx, string(t.cfg.Language), time.Since(start), err)
	return err
}

func (t *ToolchainInstaller) install(ctx context.Context, opts Options) error {
	if _, err := t.cfg.Look(t.cfg.Tool); err != nil {
		return fmt.Errorf("%w: %s (needed for %s)", ErrToolchainMissing, t.cfg.Tool, t.cfg.Language)
	}

	langDir := filepath.Join(t.cfg.Root, string(t.cfg.Language))
	if err := os.MkdirAll(langDir, 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}
	staging, err := os.MkdirTemp(langDir, ".staging-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Cancel != nil {
		go watchCancel(runCtx, cancel, opts)
	}

	opts.report(Progress{TotalBytes: -1, Percentage: -1})
	args := t.cfg.InstallArgs(staging, t.cfg.Version)
	var env []string
	if t.cfg.Env != nil {
		env = t.cfg.Env(staging)
	}
	t.logger.Info("installing language server", "tool", t.cfg.Tool, "args", strings.Join(args, " "))
	out, err := t.cfg.Run(runCtx, staging, env, t.cfg.Tool, args...)
	if opts.cancelled(ctx) {
		return ErrCancelled
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", t.cfg.Tool, strings.Join(args, " "), err, tail(out, 2048))
	}

	if _, err := os.Stat(filepath.Join(staging, filepath.FromSlash(t.cfg.Binary))); err != nil {
		return fmt.Errorf("%s did not produce %s: %w", t.cfg.Tool, t.cfg.Binary, err)
	}

	final := t.installDir()
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("remove stale install: %w", err)
	}
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("move install into place: %w", err)
	}
	opts.report(Progress{TotalBytes: -1, Percentage: 100})
	t.logger.Info("language server installed", "dir", final)
	return nil
}

// watchCancel polls the cooperative cancel flag and cancels the package
// manager process once it is set.
func watchCancel(ctx context.Context, cancel context.CancelFunc, opts Options) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if opts.Cancel.Load() {
				cancel()
				return
			}
		}
	}
}

func tail(out []byte, n int) string {
	s := strings.TrimSpace(string(out))
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}
