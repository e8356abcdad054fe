// ABOUTME: TOML configuration for the chat client binaries.
// ABOUTME: Supports ${VAR} environment expansion and duration parsing.

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the complete client configuration.
type Config struct {
	API      APIConfig      `toml:"api"`
	Realtime RealtimeConfig `toml:"realtime"`
	Session  SessionConfig  `toml:"session"`
	Logging  LoggingConfig  `toml:"logging"`
}

// APIConfig points at the messaging REST API.
type APIConfig struct {
	BaseURL string `toml:"base_url"`

	Timeout    time.Duration `toml:"-"`
	TimeoutRaw string        `toml:"timeout"`
}

// RealtimeConfig points at the websocket endpoint.
type RealtimeConfig struct {
	URL string `toml:"url"`
}

// SessionConfig locates the local credential store.
type SessionConfig struct {
	DBPath string `toml:"db_path"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `toml:"level"`
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads config from path, expanding ${VAR} references from the
// environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.API.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.API.TimeoutRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing api.timeout: %w", err)
		}
		cfg.API.Timeout = d
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.Timeout == 0 {
		c.API.Timeout = 15 * time.Second
	}
	if c.Session.DBPath == "" {
		c.Session.DBPath = filepath.Join(DataDir(), "session.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks required fields and URL schemes.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api.base_url must be an http(s) URL")
	}

	if c.Realtime.URL == "" {
		return fmt.Errorf("realtime.url is required")
	}
	w, err := url.Parse(c.Realtime.URL)
	if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") {
		return fmt.Errorf("realtime.url must be a ws(s) URL")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}

// DefaultPath returns the config file location.
// Priority: PLAZA_CONFIG env var > XDG_CONFIG_HOME/plaza/chat.toml >
// ~/.config/plaza/chat.toml.
func DefaultPath() string {
	if envPath := os.Getenv("PLAZA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "plaza", "chat.toml")
}

// DataDir returns the local data directory.
// Priority: XDG_DATA_HOME/plaza > ~/.local/share/plaza.
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "plaza")
}
