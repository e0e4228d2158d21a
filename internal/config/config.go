// Package config provides hierarchical configuration loading for forgelsp.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the LSP integration layer.
type Config struct {
	LSP       LSP       `yaml:"lsp"`
	Installer Installer `yaml:"installer"`
	Logging   Logging   `yaml:"logging"`
	NATS      NATS      `yaml:"nats"`
	Telemetry Telemetry `yaml:"telemetry"`
	Server    Server    `yaml:"server"`
	Breaker   Breaker   `yaml:"breaker"`
}

// LSP holds language server client and manager configuration.
type LSP struct {
	Enabled             bool          `yaml:"enabled"`
	AutoInstall         bool          `yaml:"auto_install"`
	Workspace           string        `yaml:"workspace"`            // Root passed to servers (default: cwd)
	DiagnosticsDebounce time.Duration `yaml:"diagnostics_debounce"` // Per-file change debounce (default: 500ms)
	RequestTimeout      time.Duration `yaml:"request_timeout"`      // Per-request timeout (default: 30s)
	LateResponseGrace   time.Duration `yaml:"late_response_grace"`  // Keep timed-out ids this long (default: 5s)
	StartTimeout        time.Duration `yaml:"start_timeout"`        // Spawn + initialize bound (default: 60s)
	KillDelay           time.Duration `yaml:"kill_delay"`           // Force-kill after stop (default: 2s)
	MaxDiagnostics      int           `yaml:"max_diagnostics"`      // Retained per file; 0 = unlimited
	MaxMessageSize      int           `yaml:"max_message_size"`     // Largest accepted JSON-RPC body in bytes
}

// Installer holds language server installation configuration.
type Installer struct {
	Dir             string            `yaml:"dir"`              // Installation root (default: user cache dir)
	AllowUnverified bool              `yaml:"allow_unverified"` // Accept downloads with no known checksum
	DownloadTimeout time.Duration     `yaml:"download_timeout"`
	Versions        map[string]string `yaml:"versions"`  // language -> pinned server version
	Checksums       map[string]string `yaml:"checksums"` // language -> expected SHA-256 of the artifact
	JDTLSTimestamp  string            `yaml:"jdtls_timestamp"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// NATS holds the optional event publisher configuration. Empty URL disables it.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Telemetry holds OpenTelemetry exporter configuration.
// Empty OTLPEndpoint keeps the global no-op providers.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

// Server holds the HTTP status surface configuration.
type Server struct {
	Addr       string  `yaml:"addr"`
	CORSOrigin string  `yaml:"cors_origin"`
	RateLimit  float64 `yaml:"rate_limit"` // File notifications per second per client; 0 disables
	RateBurst  int     `yaml:"rate_burst"`
}

// Breaker holds circuit breaker configuration for server installs.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		LSP: LSP{
			Enabled:             true,
			AutoInstall:         true,
			DiagnosticsDebounce: 500 * time.Millisecond,
			RequestTimeout:      30 * time.Second,
			LateResponseGrace:   5 * time.Second,
			StartTimeout:        60 * time.Second,
			KillDelay:           2 * time.Second,
			MaxDiagnostics:      100,
			MaxMessageSize:      64 << 20,
		},
		Installer: Installer{
			DownloadTimeout: 10 * time.Minute,
			Versions:        map[string]string{},
			Checksums:       map[string]string{},
		},
		Logging: Logging{
			Level:   "info",
			Service: "forgelsp",
		},
		NATS: NATS{
			SubjectPrefix: "lsp",
		},
		Telemetry: Telemetry{
			ServiceName: "forgelsp",
		},
		Server: Server{
			Addr:       "127.0.0.1:7070",
			CORSOrigin: "http://localhost:3000",
			RateLimit:  50,
			RateBurst:  200,
		},
		Breaker: Breaker{
			MaxFailures: 3,
			Timeout:     5 * time.Minute,
		},
	}
}
