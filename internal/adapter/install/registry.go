package install

import (
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	flotel "github.com/Strob0t/forgelsp/internal/adapter/otel"
	"github.com/Strob0t/forgelsp/internal/config"
	lspDomain "github.com/Strob0t/forgelsp/internal/domain/lsp"
)

// DefaultVersions are installed when configuration does not pin a version.
var DefaultVersions = map[lspDomain.Language]string{
	lspDomain.LanguageTypeScript: "4.3.3",
	lspDomain.LanguagePython:     "1.1.389",
	lspDomain.LanguageJava:       "1.40.0",
	lspDomain.LanguageKotlin:     "1.3.13",
	lspDomain.LanguageCSharp:     "0.15.0",
	lspDomain.LanguageRust:       "2025-01-06",
	lspDomain.LanguageGo:         "v0.17.1",
}

// DefaultJDTLSTimestamp is the build timestamp of the default jdtls milestone.
const DefaultJDTLSTimestamp = "202409261450"

// typescriptVersion is installed next to typescript-language-server, which
// needs a tsserver to delegate to.
const typescriptVersion = "5.6.3"

// Registry holds one Installer per server language.
type Registry struct {
	installers map[lspDomain.Language]Installer
}

// NewRegistryFrom builds a Registry from explicit installers.
func NewRegistryFrom(installers ...Installer) *Registry {
	r := &Registry{installers: make(map[lspDomain.Language]Installer, len(installers))}
	for _, in := range installers {
		r.installers[in.Language()] = in
	}
	return r
}

// NewRegistry builds the default installers from configuration.
func NewRegistry(cfg config.Installer, logger *slog.Logger, metrics *flotel.Metrics) *Registry {
	client := &http.Client{
		Timeout:   cfg.DownloadTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	version := func(lang lspDomain.Language) string {
		if v := cfg.Versions[string(lang)]; v != "" {
			return v
		}
		return DefaultVersions[lang]
	}
	timestamp := cfg.JDTLSTimestamp
	if timestamp == "" {
		timestamp = DefaultJDTLSTimestamp
	}

	release := func(lang lspDomain.Language, resolve ResolveFunc, args func(string) []string) Installer {
		return NewReleaseInstaller(ReleaseConfig{
			Language:        lang,
			Version:         version(lang),
			Root:            cfg.Dir,
			Resolve:         resolve,
			Args:            args,
			Checksum:        cfg.Checksums[string(lang)],
			AllowUnverified: cfg.AllowUnverified,
			HTTPClient:      client,
			Logger:          logger,
			Metrics:         metrics,
		})
	}
	toolchain := func(tc ToolchainConfig) Installer {
		tc.Version = version(tc.Language)
		tc.Root = cfg.Dir
		tc.Logger = logger
		tc.Metrics = metrics
		return NewToolchainInstaller(tc)
	}

	return NewRegistryFrom(
		toolchain(ToolchainConfig{
			Language: lspDomain.LanguageTypeScript,
			Tool:     "npm",
			InstallArgs: func(staging, v string) []string {
				return npmInstallArgs(staging, "typescript-language-server@"+v, "typescript@"+typescriptVersion)
			},
			Binary: npmBin("typescript-language-server"),
			Args:   []string{"--stdio"},
		}),
		toolchain(ToolchainConfig{
			Language: lspDomain.LanguagePython,
			Tool:     "npm",
			InstallArgs: func(staging, v string) []string {
				return npmInstallArgs(staging, "pyright@"+v)
			},
			Binary: npmBin("pyright-langserver"),
			Args:   []string{"--stdio"},
		}),
		toolchain(ToolchainConfig{
			Language: lspDomain.LanguageGo,
			Tool:     "go",
			InstallArgs: func(_, v string) []string {
				return []string{"install", "golang.org/x/tools/gopls@" + v}
			},
			Env: func(staging string) []string {
				return []string{"GOBIN=" + filepath.Join(staging, "bin")}
			},
			Binary: "bin/" + exe("gopls"),
		}),
		toolchain(ToolchainConfig{
			Language: lspDomain.LanguageCSharp,
			Tool:     "dotnet",
			InstallArgs: func(staging, v string) []string {
				return []string{"tool", "install", "csharp-ls", "--version", v, "--tool-path", staging}
			},
			Binary: exe("csharp-ls"),
		}),
		release(lspDomain.LanguageRust, resolveRustAnalyzer, nil),
		release(lspDomain.LanguageJava, resolveJDTLS(timestamp), func(dir string) []string {
			return []string{"-data", filepath.Join(dir, "data")}
		}),
		release(lspDomain.LanguageKotlin, resolveKotlin, nil),
	)
}

// Get returns the installer for a server language.
func (r *Registry) Get(lang lspDomain.Language) (Installer, bool) {
	in, ok := r.installers[lang]
	return in, ok
}

// All returns the installers in lspDomain.ServerLanguages order.
func (r *Registry) All() []Installer {
	out := make([]Installer, 0, len(r.installers))
	for _, lang := range lspDomain.ServerLanguages {
		if in, ok := r.installers[lang]; ok {
			out = append(out, in)
		}
	}
	return out
}

func npmInstallArgs(prefix string, packages ...string) []string {
	args := []string{"install", "--prefix", prefix, "--no-save", "--no-audit", "--no-fund"}
	return append(args, packages...)
}

// npmBin is the path of an npm-installed executable under the prefix.
func npmBin(name string) string {
	if runtime.GOOS == "windows" {
		return "node_modules/.bin/" + name + ".cmd"
	}
	return "node_modules/.bin/" + name
}

func exe(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

var rustTargets = map[string]string{
	"linux/amd64":   "x86_64-unknown-linux-gnu",
	"linux/arm64":   "aarch64-unknown-linux-gnu",
	"darwin/amd64":  "x86_64-apple-darwin",
	"darwin/arm64":  "aarch64-apple-darwin",
	"windows/amd64": "x86_64-pc-windows-msvc",
	"windows/arm64": "aarch64-pc-windows-msvc",
}

func resolveRustAnalyzer(version, goos, goarch string) (Artifact, error) {
	target, ok := rustTargets[goos+"/"+goarch]
	if !ok {
		return Artifact{}, fmt.Errorf("rust-analyzer: no release for %s/%s", goos, goarch)
	}
	base := fmt.Sprintf("https://github.com/rust-lang/rust-analyzer/releases/download/%s/rust-analyzer-%s", version, target)
	if goos == "windows" {
		return Artifact{URL: base + ".zip", Archive: ArchiveZip, Binary: "rust-analyzer.exe"}, nil
	}
	return Artifact{URL: base + ".gz", Archive: ArchiveGzip, Binary: "rust-analyzer"}, nil
}

func resolveJDTLS(timestamp string) ResolveFunc {
	return func(version, goos, _ string) (Artifact, error) {
		binary := "bin/jdtls"
		if goos == "windows" {
			binary = "bin/jdtls.bat"
		}
		return Artifact{
			URL:     fmt.Sprintf("https://download.eclipse.org/jdtls/milestones/%s/jdt-language-server-%s-%s.tar.gz", version, version, timestamp),
			Archive: ArchiveTarGz,
			Binary:  binary,
			Sidecar: true,
		}, nil
	}
}

func resolveKotlin(version, goos, _ string) (Artifact, error) {
	binary := "server/bin/kotlin-language-server"
	if goos == "windows" {
		binary += ".bat"
	}
	return Artifact{
		URL:     fmt.Sprintf("https://github.com/fwcd/kotlin-language-server/releases/download/%s/server.zip", version),
		Archive: ArchiveZip,
		Binary:  binary,
	}, nil
}
