// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	RemoteAPI     RemoteAPIConfig     `yaml:"remote_api"`
	Session       SessionConfig       `yaml:"session"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Wizard        WizardConfig        `yaml:"wizard"`
	History       HistoryConfig       `yaml:"history"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// RemoteAPIConfig describes the remote onboarding API. Client credentials
// are read from the named environment variables, never from YAML values.
type RemoteAPIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	ClientIDEnv     string        `yaml:"client_id_env"`
	ClientSecretEnv string        `yaml:"client_secret_env"`
}

// ClientID resolves the configured client-id environment variable.
func (r RemoteAPIConfig) ClientID() string { return os.Getenv(r.ClientIDEnv) }

// ClientSecret resolves the configured client-secret environment variable.
func (r RemoteAPIConfig) ClientSecret() string { return os.Getenv(r.ClientSecretEnv) }

// SessionConfig describes session storage and the signed session cookie.
// The cookie signing key is read from the named environment variable.
type SessionConfig struct {
	Store         SessionStoreConfig `yaml:"store"`
	TTL           time.Duration      `yaml:"ttl"`
	CookieName    string             `yaml:"cookie_name"`
	CookieDomain  string             `yaml:"cookie_domain"`
	CookieSecure  bool               `yaml:"cookie_secure"`
	SigningKeyEnv string             `yaml:"signing_key_env"`
}

// SigningKey resolves the configured cookie signing key environment variable.
func (s SessionConfig) SigningKey() []byte { return []byte(os.Getenv(s.SigningKeyEnv)) }

// SessionStoreConfig describes session persistence settings.
type SessionStoreConfig struct {
	Driver  string `yaml:"driver"`
	AddrEnv string `yaml:"addr_env"`
	DB      int    `yaml:"db"`
}

// DefinitionsConfig describes where to find wizard definition YAML files.
type DefinitionsConfig struct {
	Directories     []string `yaml:"directories"`
	StrictChecksums bool     `yaml:"strict_checksums"`
}

// WizardConfig describes wizard behaviour settings.
type WizardConfig struct {
	DefaultVariant string `yaml:"default_variant"`
	PostbackURL    string `yaml:"postback_url"`
}

// HistoryConfig describes submission audit trail persistence settings.
type HistoryConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		RemoteAPI: RemoteAPIConfig{
			Timeout:         15 * time.Second,
			ClientIDEnv:     "ONBOARD_REMOTE_CLIENT_ID",
			ClientSecretEnv: "ONBOARD_REMOTE_CLIENT_SECRET",
		},
		Session: SessionConfig{
			Store:         SessionStoreConfig{Driver: "memory"},
			TTL:           30 * time.Minute,
			CookieName:    "onboard_session",
			SigningKeyEnv: "ONBOARD_SESSION_SIGNING_KEY",
		},
		Definitions: DefinitionsConfig{
			Directories:     []string{"definitions"},
			StrictChecksums: true,
		},
		Wizard: WizardConfig{
			DefaultVariant: "kyc_full",
			PostbackURL:    "http://localhost:3000/?step=1",
		},
		History: HistoryConfig{
			Driver:          "memory",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.RemoteAPI.BaseURL == "" {
		errs = append(errs, "remote_api.base_url is required")
	}
	if c.RemoteAPI.ClientIDEnv == "" || c.RemoteAPI.ClientSecretEnv == "" {
		errs = append(errs, "remote_api.client_id_env and client_secret_env are required")
	}
	if c.Session.SigningKeyEnv == "" {
		errs = append(errs, "session.signing_key_env is required")
	}
	switch c.Session.Store.Driver {
	case "memory":
	case "redis":
		if c.Session.Store.AddrEnv == "" {
			errs = append(errs, "session.store.addr_env is required for the redis driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.store.driver %q is not supported", c.Session.Store.Driver))
	}
	switch c.History.Driver {
	case "memory":
	case "postgres":
		if c.History.DSNEnv == "" {
			errs = append(errs, "history.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("history.driver %q is not supported", c.History.Driver))
	}
	if c.Wizard.DefaultVariant == "" {
		errs = append(errs, "wizard.default_variant is required")
	}
	if c.Wizard.PostbackURL == "" {
		errs = append(errs, "wizard.postback_url is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads ONBOARD_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ONBOARD_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ONBOARD_REMOTE_API_BASE_URL"); v != "" {
		cfg.RemoteAPI.BaseURL = v
	}
	if v := os.Getenv("ONBOARD_SESSION_STORE_DRIVER"); v != "" {
		cfg.Session.Store.Driver = v
	}
	if v := os.Getenv("ONBOARD_HISTORY_DRIVER"); v != "" {
		cfg.History.Driver = v
	}
	if v := os.Getenv("ONBOARD_WIZARD_DEFAULT_VARIANT"); v != "" {
		cfg.Wizard.DefaultVariant = v
	}
	if v := os.Getenv("ONBOARD_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
