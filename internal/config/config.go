// Package config loads docuchat configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full docuchat configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	OIDC     OIDCConfig     `yaml:"oidc"`
	Session  SessionConfig  `yaml:"session"`
	Database DatabaseConfig `yaml:"database"`
	Sentry   SentryConfig   `yaml:"sentry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// BaseURL is the externally visible URL, used to build the OIDC
	// redirect URL and as the session token issuer.
	BaseURL string `yaml:"base_url"`
	// FrontendURL is the session token audience. Defaults to BaseURL for
	// single-origin deployments.
	FrontendURL string `yaml:"frontend_url"`
}

// OIDCConfig holds the identity provider settings.
type OIDCConfig struct {
	IssuerURL    string   `yaml:"issuer_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	// RoleMapping maps provider group names to application roles.
	RoleMapping map[string]string `yaml:"role_mapping"`
	// DefaultRole is assigned when no provider group maps to a role
	// (default: viewer).
	DefaultRole string `yaml:"default_role"`
}

// SessionConfig holds session token settings.
type SessionConfig struct {
	// Secret signs session tokens. Required.
	Secret string `yaml:"secret"`
	// Lifetime is how long a session token is valid (default: 1h).
	Lifetime time.Duration `yaml:"lifetime"`
	// CookieName is the session cookie name (default: docuchat_session).
	CookieName string `yaml:"cookie_name"`
	// CookieSecure forces the Secure flag on cookies even without TLS
	// detection.
	CookieSecure bool `yaml:"cookie_secure"`
}

// DatabaseConfig selects the persistence backend. When URL is set (or
// DATABASE_URL is in the environment) PostgreSQL is used; otherwise SQLite
// at Path.
type DatabaseConfig struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
}

// SentryConfig holds error reporting settings.
type SentryConfig struct {
	DSN         string  `yaml:"dsn"`
	Environment string  `yaml:"environment"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Default returns a Config with defaults applied.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
		},
		OIDC: OIDCConfig{
			Scopes:      []string{"openid", "profile", "email"},
			DefaultRole: "viewer",
		},
		Session: SessionConfig{
			Lifetime:   time.Hour,
			CookieName: "docuchat_session",
		},
		Database: DatabaseConfig{
			Path: "docuchat.db",
		},
		Sentry: SentryConfig{
			Environment: "development",
			SampleRate:  1.0,
		},
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// FromEnv builds a Config from defaults and environment variables alone,
// honoring DOCUCHAT_CONFIG as the file path when set.
func FromEnv() (Config, error) {
	return Load(os.Getenv("DOCUCHAT_CONFIG"))
}

func (c *Config) applyEnv() {
	setString(&c.Server.Addr, "DOCUCHAT_ADDR")
	setString(&c.Server.BaseURL, "DOCUCHAT_BASE_URL")
	setString(&c.Server.FrontendURL, "DOCUCHAT_FRONTEND_URL")

	setString(&c.OIDC.IssuerURL, "DOCUCHAT_OIDC_ISSUER_URL")
	setString(&c.OIDC.ClientID, "DOCUCHAT_OIDC_CLIENT_ID")
	setString(&c.OIDC.ClientSecret, "DOCUCHAT_OIDC_CLIENT_SECRET")
	setString(&c.OIDC.RedirectURL, "DOCUCHAT_OIDC_REDIRECT_URL")
	setString(&c.OIDC.DefaultRole, "DOCUCHAT_OIDC_DEFAULT_ROLE")
	if v := os.Getenv("DOCUCHAT_OIDC_SCOPES"); v != "" {
		c.OIDC.Scopes = splitAndTrim(v)
	}
	// DOCUCHAT_OIDC_ROLE_MAPPING: "AdminGroup=admin,EditorGroup=editor"
	if v := os.Getenv("DOCUCHAT_OIDC_ROLE_MAPPING"); v != "" {
		mapping := make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
			if len(kv) == 2 && kv[0] != "" && kv[1] != "" {
				mapping[kv[0]] = kv[1]
			}
		}
		if len(mapping) > 0 {
			c.OIDC.RoleMapping = mapping
		}
	}

	setString(&c.Session.Secret, "DOCUCHAT_SESSION_SECRET")
	setString(&c.Session.CookieName, "DOCUCHAT_SESSION_COOKIE_NAME")
	if v := os.Getenv("DOCUCHAT_SESSION_LIFETIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Session.Lifetime = d
		}
	}
	if v := os.Getenv("DOCUCHAT_SESSION_COOKIE_SECURE"); v != "" {
		c.Session.CookieSecure = strings.EqualFold(v, "true") || v == "1"
	}

	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Database.Path, "DOCUCHAT_DB_PATH")

	setString(&c.Sentry.DSN, "SENTRY_DSN")
	setString(&c.Sentry.Environment, "SENTRY_ENVIRONMENT")
	if v := os.Getenv("SENTRY_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Sentry.SampleRate = f
		}
	}

	if c.OIDC.RedirectURL == "" && c.Server.BaseURL != "" {
		c.OIDC.RedirectURL = strings.TrimRight(c.Server.BaseURL, "/") + "/api/v1/auth/callback"
	}
	if c.Server.FrontendURL == "" {
		c.Server.FrontendURL = c.Server.BaseURL
	}
}

// Validate checks that the configuration is complete enough to start.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.OIDC.IssuerURL == "" {
		errs = append(errs, errors.New("oidc.issuer_url is required"))
	}
	if c.OIDC.ClientID == "" {
		errs = append(errs, errors.New("oidc.client_id is required"))
	}
	if c.OIDC.ClientSecret == "" {
		errs = append(errs, errors.New("oidc.client_secret is required"))
	}
	if c.Session.Secret == "" {
		errs = append(errs, errors.New("session.secret is required"))
	}
	if len(c.Session.Secret) > 0 && len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session.secret must be at least 32 bytes"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
