// Package config provides TOML configuration file loading for the
// ticketchat client. The configuration file lives at
// ~/.ticketchat/config.toml by default, but can be overridden with the
// --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the client configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML
// files via struct tags.
type Config struct {
	// APIBase is the REST origin, including the /api prefix.
	// Default: http://127.0.0.1:8000/api
	APIBase string `toml:"api_base"`

	// WSBase is the WebSocket origin.
	// Default: ws://127.0.0.1:8000
	WSBase string `toml:"ws_base"`

	// Token is the bearer credential for both the REST API and the
	// realtime endpoints. Usually supplied per-invocation with --token
	// rather than stored.
	Token string `toml:"token"`

	// UserID is the backend id of the local user; the turn gate and the
	// pending-confirmation flag depend on who is looking.
	UserID int64 `toml:"user_id"`

	// Role is the local user's helpdesk role: employe, technicien, admin.
	// Default: employe
	Role string `toml:"role"`

	// Name is the display name shown for locally echoed prompts.
	Name string `toml:"name"`

	// ReconnectMaxAttempts bounds automatic reconnection before the
	// client requires a manual /reload. Default: 5
	ReconnectMaxAttempts int `toml:"reconnect_max_attempts"`
}

// DefaultConfigPath returns the default config file location:
// ~/.ticketchat/config.toml. Returns an error only if the user's home
// directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".ticketchat", "config.toml"), nil
}

// Load reads a TOML config file from the given path and returns a Config
// with defaults filled in.
//
// Behavior:
//   - If path is empty, attempts to load from the default location.
//     Returns defaults without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir; run on defaults alone.
			cfg.applyDefaults()
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			cfg.applyDefaults()
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if the file doesn't exist. If the
		// user names a config file, it should be there.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.APIBase == "" {
		c.APIBase = DefaultAPIBase
	}
	if c.WSBase == "" {
		c.WSBase = DefaultWSBase
	}
	if c.Role == "" {
		c.Role = DefaultRole
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = DefaultReconnectMaxAttempts
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.WSBase, "ws://") && !strings.HasPrefix(c.WSBase, "wss://") {
		return fmt.Errorf("ws_base must start with ws:// or wss://, got %q", c.WSBase)
	}
	if !strings.HasPrefix(c.APIBase, "http://") && !strings.HasPrefix(c.APIBase, "https://") {
		return fmt.Errorf("api_base must start with http:// or https://, got %q", c.APIBase)
	}
	switch c.Role {
	case "employe", "technicien", "admin":
	default:
		return fmt.Errorf("role must be employe, technicien or admin, got %q", c.Role)
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("reconnect_max_attempts must not be negative")
	}
	return nil
}
