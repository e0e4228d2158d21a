package install

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	flotel "github.com/Strob0t/forgelsp/internal/adapter/otel"
	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// Artifact is a release download resolved for one platform.
type Artifact struct {
	URL     string
	Archive ArchiveKind
	Binary  string // executable path relative to the install directory
	Sidecar bool   // the publisher serves <URL>.sha256
}

// ResolveFunc maps a server version to the artifact for goos/goarch.
type ResolveFunc func(version, goos, goarch string) (Artifact, error)

// ReleaseConfig configures a ReleaseInstaller.
type ReleaseConfig struct {
	Language lspDomain.Language
	Version  string
	Root     string // installation root; the server lands in Root/<language>/<version>
	Resolve  ResolveFunc
	// Args returns the launch arguments given the install directory.
	Args            func(installDir string) []string
	Checksum        string // expected SHA-256; empty falls back to the sidecar
	AllowUnverified bool
	HTTPClient      *http.Client
	Logger          *slog.Logger
	Metrics         *flotel.Metrics
	GOOS, GOARCH    string // default: runtime values
}

// ReleaseInstaller downloads a prebuilt release artifact, verifies its
// digest and unpacks it.
type ReleaseInstaller struct {
	cfg    ReleaseConfig
	logger *slog.Logger
}

// NewReleaseInstaller creates a ReleaseInstaller.
func NewReleaseInstaller(cfg ReleaseConfig) *ReleaseInstaller {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.GOARCH == "" {
		cfg.GOARCH = runtime.GOARCH
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ReleaseInstaller{
		cfg:    cfg,
		logger: cfg.Logger.With("language", string(cfg.Language), "version", cfg.Version),
	}
}

func (r *ReleaseInstaller) Language() lspDomain.Language { return r.cfg.Language }
func (r *ReleaseInstaller) Version() string              { return r.cfg.Version }

func (r *ReleaseInstaller) installDir() string {
	return filepath.Join(r.cfg.Root, string(r.cfg.Language), r.cfg.Version)
}

func (r *ReleaseInstaller) binaryPath() (string, error) {
	art, err := r.cfg.Resolve(r.cfg.Version, r.cfg.GOOS, r.cfg.GOARCH)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.installDir(), filepath.FromSlash(art.Binary)), nil
}

func (r *ReleaseInstaller) IsInstalled() bool {
	bin, err := r.binaryPath()
	if err != nil {
		return false
	}
	info, err := os.Stat(bin)
	return err == nil && info.Mode().IsRegular()
}

func (r *ReleaseInstaller) ServerCommand() ([]string, error) {
	if !r.IsInstalled() {
		return nil, fmt.Errorf("%w: %s %s", lspDomain.ErrServerNotInstalled, r.cfg.Language, r.cfg.Version)
	}
	bin, err := r.binaryPath()
	if err != nil {
		return nil, err
	}
	argv := []string{bin}
	if r.cfg.Args != nil {
		argv = append(argv, r.cfg.Args(r.installDir())...)
	}
	return argv, nil
}

func (r *ReleaseInstaller) Install(ctx context.Context, opts Options) error {
	start := time.Now()
	ctx, span := flotel.StartInstallSpan(ctx, string(r.cfg.Language), r.cfg.Version)
	err := r.install(ctx, opts)
	flotel.EndSpan(span, err)
	r.cfg.Metrics.InstallCompleted(ctx, string(r.cfg.Language), time.Since(start), err)
	return err
}

func (r *ReleaseInstaller) install(ctx context.Context, opts Options) error {
	art, err := r.cfg.Resolve(r.cfg.Version, r.cfg.GOOS, r.cfg.GOARCH)
	if err != nil {
		return err
	}
	expected, err := r.expectedDigest(ctx, art)
	if err != nil {
		return err
	}

	langDir := filepath.Join(r.cfg.Root, string(r.cfg.Language))
	if err := os.MkdirAll(langDir, 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}
	staging, err := os.MkdirTemp(langDir, ".staging-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	artifactPath := filepath.Join(staging, "artifact")
	f, err := os.Create(artifactPath) //nolint:gosec // G304: path inside our staging dir
	if err != nil {
		return err
	}
	r.logger.Info("downloading language server", "url", art.URL)
	sum, err := Download(ctx, r.cfg.HTTPClient, art.URL, f, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("download %s: %w", art.URL, err)
	}

	if expected == "" {
		r.logger.Warn("installing unverified artifact", "url", art.URL, "sha256", hex.EncodeToString(sum))
	} else if !matchDigest(sum, expected) {
		return fmt.Errorf("%w: %s: got %s, want %s", ErrChecksumMismatch, art.URL, hex.EncodeToString(sum), expected)
	}

	if opts.cancelled(ctx) {
		return ErrCancelled
	}

	root := filepath.Join(staging, "root")
	if err := extract(art.Archive, artifactPath, root, art.Binary); err != nil {
		return fmt.Errorf("extract %s: %w", art.URL, err)
	}
	bin := filepath.Join(root, filepath.FromSlash(art.Binary))
	if _, err := os.Stat(bin); err != nil {
		return fmt.Errorf("artifact %s has no %s: %w", art.URL, art.Binary, err)
	}
	if err := os.Chmod(bin, 0o755); err != nil { //nolint:gosec // G302: executable
		return err
	}

	final := r.installDir()
	if err := os.RemoveAll(final); err != nil {
		return fmt.Errorf("remove stale install: %w", err)
	}
	if err := os.Rename(root, final); err != nil {
		return fmt.Errorf("move install into place: %w", err)
	}
	r.logger.Info("language server installed", "dir", final)
	return nil
}

// expectedDigest resolves the known-good digest: configured value, then the
// published sidecar. An empty result means the operator allowed unverified
// installs.
func (r *ReleaseInstaller) expectedDigest(ctx context.Context, art Artifact) (string, error) {
	if r.cfg.Checksum != "" {
		return r.cfg.Checksum, nil
	}

	var sidecarErr error
	if art.Sidecar {
		digest, err := fetchSidecar(ctx, r.cfg.HTTPClient, art.URL+".sha256")
		if err == nil {
			return digest, nil
		}
		if ctx.Err() != nil {
			return "", ErrCancelled
		}
		sidecarErr = err
	}

	if r.cfg.AllowUnverified {
		return "", nil
	}
	err := fmt.Errorf("%w: %s %s (set installer.checksums.%s or allow_unverified)",
		ErrChecksumUnknown, r.cfg.Language, r.cfg.Version, r.cfg.Language)
	if sidecarErr != nil {
		err = errors.Join(err, sidecarErr)
	}
	return "", err
}
