// ABOUTME: Configuration loading and parsing for valueapi
// ABOUTME: Supports YAML or TOML files with environment variable expansion and env fallbacks

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Storage drivers
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// SQLiteFileName is the database file created in storage.dir by the sqlite driver
const SQLiteFileName = "valueapi.db"

// Config represents the complete valueapi configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Admin     AdminConfig     `yaml:"admin" toml:"admin"`
	History   HistoryConfig   `yaml:"history" toml:"history"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// TrustProxy makes X-Forwarded-For the source address recorded in history
	TrustProxy bool `yaml:"trust_proxy" toml:"trust_proxy"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// StorageConfig selects where documents are kept
type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // "file" or "sqlite"
	Dir    string `yaml:"dir" toml:"dir"`
}

// AuthConfig holds the bootstrap secret for the Default API token
type AuthConfig struct {
	Token string `yaml:"token" toml:"token"`
}

// AdminConfig holds admin UI login configuration
type AdminConfig struct {
	Password     string `yaml:"password" toml:"password"`
	PasswordHash string `yaml:"password_hash" toml:"password_hash"` // bcrypt hash, preferred over password

	MaxLoginAttempts int           `yaml:"max_login_attempts" toml:"max_login_attempts"`
	LoginWindow      time.Duration `yaml:"-" toml:"-"`
	CookieSecure     bool          `yaml:"cookie_secure" toml:"cookie_secure"`

	// Raw string value for unmarshaling
	LoginWindowRaw string `yaml:"login_window" toml:"login_window"`
}

// HistoryConfig holds the default ledger cap for a fresh settings document
type HistoryConfig struct {
	Limit int `yaml:"limit" toml:"limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then PORT,
// TOKEN and ADMIN_PASSWORD fill settings the file leaves empty.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(&cfg)
}

// FromEnvironment builds a Config from defaults and the PORT, TOKEN and
// ADMIN_PASSWORD environment variables, for running without a config file.
func FromEnvironment() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	applyEnv(cfg)
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnv fills empty settings from the environment variables older
// deployments configure through a .env file.
func applyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" && cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = net.JoinHostPort("0.0.0.0", port)
	}
	if tok := os.Getenv("TOKEN"); tok != "" && cfg.Auth.Token == "" {
		cfg.Auth.Token = tok
	}
	if pw := os.Getenv("ADMIN_PASSWORD"); pw != "" && cfg.Admin.Password == "" && cfg.Admin.PasswordHash == "" {
		cfg.Admin.Password = pw
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = "0.0.0.0:3000"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverFile
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data"
	}
	if cfg.Tailscale.Enabled && cfg.Tailscale.StateDir == "" {
		cfg.Tailscale.StateDir = filepath.Join(cfg.Storage.Dir, "tsnet")
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = 1000
	}
	if cfg.Admin.MaxLoginAttempts == 0 {
		cfg.Admin.MaxLoginAttempts = 5
	}
	if cfg.Admin.LoginWindowRaw == "" {
		cfg.Admin.LoginWindowRaw = "15m"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Admin.LoginWindowRaw != "" {
		cfg.Admin.LoginWindow, err = time.ParseDuration(cfg.Admin.LoginWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing login_window %q: %w", cfg.Admin.LoginWindowRaw, err)
		}
	}

	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Storage.Driver {
	case DriverFile, DriverSQLite:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverFile, DriverSQLite, c.Storage.Driver)
	}

	if c.Admin.Password == "" && c.Admin.PasswordHash == "" {
		return fmt.Errorf("admin.password or admin.password_hash is required (or set ADMIN_PASSWORD)")
	}

	if c.History.Limit < 1 {
		return fmt.Errorf("history.limit must be at least 1")
	}

	if c.Admin.MaxLoginAttempts < 1 {
		return fmt.Errorf("admin.max_login_attempts must be at least 1")
	}

	if c.Admin.LoginWindow <= 0 {
		return fmt.Errorf("admin.login_window must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// SQLitePath returns the database path used by the sqlite driver
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Storage.Dir, SQLiteFileName)
}
