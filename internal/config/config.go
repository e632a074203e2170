// Package config loads heartbeat settings from a yaml file, a .env file and
// the environment, in that order of precedence from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Public  PublicConfig  `yaml:"public"`
	Auth    AuthConfig    `yaml:"auth"`
	Toast   ToastConfig   `yaml:"toast"`
	Session SessionConfig `yaml:"session"`
	Process ProcessConfig `yaml:"process"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"HEARTBEAT_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HEARTBEAT_SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"HEARTBEAT_LOG_LEVEL"`
	Format string `yaml:"format" env:"HEARTBEAT_LOG_FORMAT"`
}

// PublicConfig is rendered into the page as public runtime config.
type PublicConfig struct {
	APIKey     string `yaml:"api_key" json:"apiKey" env:"NUXT_PUBLIC_FB_API_KEY"`
	AuthDomain string `yaml:"auth_domain" json:"authDomain" env:"NUXT_PUBLIC_FB_AUTH_DOMAIN"`
	ProjectID  string `yaml:"project_id" json:"projectId" env:"NUXT_PUBLIC_FB_PROJECT_ID"`
	AppID      string `yaml:"app_id" json:"appId" env:"NUXT_PUBLIC_FB_APP_ID"`
}

type AuthConfig struct {
	// Provider is "google" or "dev".
	Provider          string   `yaml:"provider" env:"HEARTBEAT_AUTH_PROVIDER"`
	ClientID          string   `yaml:"client_id" env:"HEARTBEAT_GOOGLE_CLIENT_ID"`
	ClientSecret      string   `yaml:"client_secret" env:"HEARTBEAT_GOOGLE_CLIENT_SECRET"`
	RedirectURL       string   `yaml:"redirect_url" env:"HEARTBEAT_GOOGLE_REDIRECT_URL"`
	Scopes            []string `yaml:"scopes" env:"HEARTBEAT_GOOGLE_SCOPES" envSeparator:","`
	Secret            string   `yaml:"secret" env:"HEARTBEAT_AUTH_SECRET"`
	AuthorizedDomains []string `yaml:"authorized_domains" env:"HEARTBEAT_AUTHORIZED_DOMAINS" envSeparator:","`
}

type ToastConfig struct {
	// Mode is "queue" or "single-slot".
	Mode string `yaml:"mode" env:"HEARTBEAT_TOAST_MODE"`
}

type SessionConfig struct {
	CookieName string        `yaml:"cookie_name" env:"HEARTBEAT_SESSION_COOKIE"`
	IdleTTL    time.Duration `yaml:"idle_ttl" env:"HEARTBEAT_SESSION_IDLE_TTL"`
}

// ProcessConfig describes how a process manager should run the server.
type ProcessConfig struct {
	Name             string `yaml:"name"`
	Script           string `yaml:"script"`
	Args             string `yaml:"args"`
	Port             int    `yaml:"port" env:"PORT"`
	ExecMode         string `yaml:"exec_mode"`
	Instances        int    `yaml:"instances"`
	AutoRestart      bool   `yaml:"autorestart"`
	Watch            bool   `yaml:"watch"`
	MaxMemoryRestart string `yaml:"max_memory_restart" env:"HEARTBEAT_MAX_MEMORY"`
	EnvFile          string `yaml:"env_file" env:"HEARTBEAT_ENV_FILE"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			Provider: "google",
		},
		Toast: ToastConfig{
			Mode: "queue",
		},
		Session: SessionConfig{
			CookieName: "hb_sid",
			IdleTTL:    30 * time.Minute,
		},
		Process: ProcessConfig{
			Name:             "heartbeat-text-converter",
			Script:           "./heartbeat",
			Args:             "serve",
			Port:             3020,
			ExecMode:         "fork",
			Instances:        1,
			AutoRestart:      true,
			MaxMemoryRestart: "300M",
			EnvFile:          ".env",
		},
	}
}

// Load reads path (skipped when empty), then the env file, then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	envFile := cfg.Process.EnvFile
	if v := os.Getenv("HEARTBEAT_ENV_FILE"); v != "" {
		envFile = v
	}
	if envFile != "" {
		// Variables already set in the environment win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":" + strconv.Itoa(c.Process.Port)
	}
	// The identity service always accepts its own domain and localhost.
	if len(c.Auth.AuthorizedDomains) == 0 && c.Public.AuthDomain != "" {
		c.Auth.AuthorizedDomains = []string{"localhost", c.Public.AuthDomain}
	}
	if c.Auth.Secret == "" {
		c.Auth.Secret = c.Auth.ClientSecret
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not a known level", c.Log.Level))
	}

	switch c.Toast.Mode {
	case "", "queue", "single-slot", "single_slot", "single":
	default:
		errs = append(errs, fmt.Errorf("toast.mode must be queue or single-slot, got %q", c.Toast.Mode))
	}

	switch c.Auth.Provider {
	case "dev":
	case "google":
		if c.Auth.ClientID == "" {
			errs = append(errs, errors.New("auth.client_id is required for the google provider"))
		}
		if c.Auth.ClientSecret == "" {
			errs = append(errs, errors.New("auth.client_secret is required for the google provider"))
		}
		if c.Auth.RedirectURL == "" {
			errs = append(errs, errors.New("auth.redirect_url is required for the google provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.provider must be google or dev, got %q", c.Auth.Provider))
	}

	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session.cookie_name must not be empty"))
	}
	if c.Session.IdleTTL <= 0 {
		errs = append(errs, errors.New("session.idle_ttl must be positive"))
	}
	if c.Process.Port <= 0 || c.Process.Port > 65535 {
		errs = append(errs, fmt.Errorf("process.port %d is out of range", c.Process.Port))
	}
	if c.Process.Instances < 1 {
		errs = append(errs, errors.New("process.instances must be at least 1"))
	}
	if _, err := c.MemoryLimitBytes(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// MemoryLimitBytes parses the process memory ceiling, such as "300M". Zero
// means no limit.
func (c *Config) MemoryLimitBytes() (int64, error) {
	return parseByteSize(c.Process.MaxMemoryRestart)
}

func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "G"):
		multiplier = 1 << 30
	case strings.HasSuffix(s, "M"):
		multiplier = 1 << 20
	case strings.HasSuffix(s, "K"):
		multiplier = 1 << 10
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid memory size %q", s)
	}
	return n * multiplier, nil
}

// Descriptor renders the process description as yaml.
func (c *Config) Descriptor() ([]byte, error) {
	apps := struct {
		Apps []ProcessConfig `yaml:"apps"`
	}{Apps: []ProcessConfig{c.Process}}
	return yaml.Marshal(apps)
}
