package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "forgelsp.yaml"

// versionedLanguages are the server languages accepting FORGELSP_<LANG>_VERSION
// and FORGELSP_<LANG>_SHA256.
var versionedLanguages = []string{"typescript", "python", "java", "kotlin", "csharp", "rust", "go"}

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("FORGELSP_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := resolvePaths(&cfg); err != nil {
		return nil, fmt.Errorf("config paths: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setBool(&cfg.LSP.Enabled, "FORGELSP_ENABLED")
	setBool(&cfg.LSP.AutoInstall, "FORGELSP_AUTO_INSTALL")
	setString(&cfg.LSP.Workspace, "FORGELSP_WORKSPACE")
	setDuration(&cfg.LSP.DiagnosticsDebounce, "FORGELSP_DEBOUNCE")
	setDuration(&cfg.LSP.RequestTimeout, "FORGELSP_REQUEST_TIMEOUT")
	setDuration(&cfg.LSP.LateResponseGrace, "FORGELSP_LATE_RESPONSE_GRACE")
	setDuration(&cfg.LSP.StartTimeout, "FORGELSP_START_TIMEOUT")
	setDuration(&cfg.LSP.KillDelay, "FORGELSP_KILL_DELAY")
	setInt(&cfg.LSP.MaxDiagnostics, "FORGELSP_MAX_DIAGNOSTICS")
	setInt(&cfg.LSP.MaxMessageSize, "FORGELSP_MAX_MESSAGE_SIZE")

	// Installer
	setString(&cfg.Installer.Dir, "FORGELSP_INSTALL_DIR")
	setBool(&cfg.Installer.AllowUnverified, "FORGELSP_ALLOW_UNVERIFIED")
	setDuration(&cfg.Installer.DownloadTimeout, "FORGELSP_DOWNLOAD_TIMEOUT")
	setString(&cfg.Installer.JDTLSTimestamp, "FORGELSP_JDTLS_TIMESTAMP")
	if cfg.Installer.Versions == nil {
		cfg.Installer.Versions = map[string]string{}
	}
	if cfg.Installer.Checksums == nil {
		cfg.Installer.Checksums = map[string]string{}
	}
	for _, lang := range versionedLanguages {
		prefix := "FORGELSP_" + strings.ToUpper(lang)
		if v := os.Getenv(prefix + "_VERSION"); v != "" {
			cfg.Installer.Versions[lang] = v
		}
		if v := os.Getenv(prefix + "_SHA256"); v != "" {
			cfg.Installer.Checksums[lang] = v
		}
	}

	setString(&cfg.Logging.Level, "FORGELSP_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FORGELSP_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "FORGELSP_LOG_ASYNC")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "FORGELSP_NATS_SUBJECT_PREFIX")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.Telemetry.Insecure, "FORGELSP_OTLP_INSECURE")

	setString(&cfg.Server.Addr, "FORGELSP_ADDR")
	setString(&cfg.Server.CORSOrigin, "FORGELSP_CORS_ORIGIN")
	setFloat(&cfg.Server.RateLimit, "FORGELSP_RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "FORGELSP_RATE_BURST")

	setInt(&cfg.Breaker.MaxFailures, "FORGELSP_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "FORGELSP_BREAKER_TIMEOUT")
}

// resolvePaths fills the workspace and install directory when unset.
func resolvePaths(cfg *Config) error {
	if cfg.LSP.Workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
		cfg.LSP.Workspace = wd
	}
	abs, err := filepath.Abs(cfg.LSP.Workspace)
	if err != nil {
		return fmt.Errorf("workspace %s: %w", cfg.LSP.Workspace, err)
	}
	cfg.LSP.Workspace = abs

	if cfg.Installer.Dir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return fmt.Errorf("user cache dir: %w", err)
		}
		cfg.Installer.Dir = filepath.Join(cacheDir, "forgelsp", "servers")
	}
	return nil
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.LSP.DiagnosticsDebounce < 0 {
		return errors.New("lsp.diagnostics_debounce must be >= 0")
	}
	if cfg.LSP.RequestTimeout <= 0 {
		return errors.New("lsp.request_timeout must be > 0")
	}
	if cfg.LSP.LateResponseGrace < 0 {
		return errors.New("lsp.late_response_grace must be >= 0")
	}
	if cfg.LSP.StartTimeout <= 0 {
		return errors.New("lsp.start_timeout must be > 0")
	}
	if cfg.LSP.KillDelay <= 0 {
		return errors.New("lsp.kill_delay must be > 0")
	}
	if cfg.LSP.MaxDiagnostics < 0 {
		return errors.New("lsp.max_diagnostics must be >= 0")
	}
	if cfg.LSP.MaxMessageSize < 1024 {
		return errors.New("lsp.max_message_size must be >= 1024")
	}
	if cfg.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must be >= 0")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateBurst < 1 {
		return errors.New("server.rate_burst must be >= 1 when rate_limit is set")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Installer.Dir == "" {
		return errors.New("installer.dir is required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
