// Package config loads the server configuration.
//
// LAYERING (later wins):
//  1. defaultConfig(): works out of the box for local development
//  2. an optional YAML file (CONFIG_PATH)
//  3. environment variables (PORT, DB_PATH, JWT_SECRET, ...)
//
// Validate runs last, so a bad value from any layer is reported at startup
// instead of at the first request that needs it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	GitHub   GitHubConfig   `yaml:"github"`
	Titles   TitlesConfig   `yaml:"titles"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds the token settings. JWTSecret has no default: a server
// must never run with a guessable signing key.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"token_ttl"`
	CookieSecure bool          `yaml:"cookie_secure"`
}

// GitHubConfig enables GitHub sign-in when both id and secret are set.
type GitHubConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	CallbackURL  string `yaml:"callback_url"`
}

// Enabled reports whether GitHub sign-in is configured.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

// TitlesConfig controls the background video-title lookups.
type TitlesConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Load builds the configuration: defaults, then the YAML file at path (skipped
// when path is empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			CORSOrigin:      "http://localhost:3000",
			MaxUploadBytes:  32 << 20, // 32 MiB
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/scenes.db",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		GitHub: GitHubConfig{
			CallbackURL: "http://localhost:8080/auth/github/callback",
		},
		Titles: TitlesConfig{
			Enabled:   true,
			Workers:   2,
			QueueSize: 64,
			Timeout:   10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// applyEnvOverrides copies set environment variables over cfg. Unset or
// empty variables leave the current value alone; unparsable ones are errors.
func applyEnvOverrides(cfg *Config) error {
	var errs []string

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not an integer", key, v))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	num("PORT", &cfg.Server.Port)
	str("CORS_ORIGIN", &cfg.Server.CORSOrigin)
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("MAX_UPLOAD_BYTES: %q is not an integer", v))
		} else {
			cfg.Server.MaxUploadBytes = n
		}
	}

	str("DB_PATH", &cfg.Database.Path)

	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	dur("TOKEN_TTL", &cfg.Auth.TokenTTL)
	flag("COOKIE_SECURE", &cfg.Auth.CookieSecure)

	str("GITHUB_CLIENT_ID", &cfg.GitHub.ClientID)
	str("GITHUB_CLIENT_SECRET", &cfg.GitHub.ClientSecret)
	str("GITHUB_CALLBACK_URL", &cfg.GitHub.CallbackURL)

	flag("TITLES_ENABLED", &cfg.Titles.Enabled)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// minJWTSecretLength matches auth.NewTokenService.
const minJWTSecretLength = 16

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, "server.max_upload_bytes must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required (set JWT_SECRET environment variable)")
	} else if len(c.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Sprintf("auth.jwt_secret must be at least %d characters", minJWTSecretLength))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, "auth.token_ttl must be positive")
	}

	if c.GitHub.Enabled() && c.GitHub.CallbackURL == "" {
		errs = append(errs, "github.callback_url is required when GitHub sign-in is enabled")
	}

	if c.Titles.Enabled {
		if c.Titles.Workers < 1 {
			errs = append(errs, "titles.workers must be at least 1")
		}
		if c.Titles.QueueSize < 1 {
			errs = append(errs, "titles.queue_size must be at least 1")
		}
		if c.Titles.Timeout <= 0 {
			errs = append(errs, "titles.timeout must be positive")
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
