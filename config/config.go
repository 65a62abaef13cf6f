// Copyright 2026 The Crosswire Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the Crosswire bridge.
//
// Configuration is loaded from a single YAML file specified by:
//   - CROSSWIRE_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides. The only expansion
// performed is ${VAR} and ${VAR:-default} substitution in path fields, for
// portability across deployments.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Crosswire bridge process.
type Config struct {
	// Bridge configures the Matrix-facing side: homeserver location,
	// server name, and the appservice listener port.
	Bridge BridgeConfig `yaml:"bridge"`

	// Database configures the persistent room-link and ghost-user stores.
	Database DatabaseConfig `yaml:"database"`

	// Gateway configures the Discord connection.
	Gateway GatewayConfig `yaml:"gateway"`

	// Admin configures the operator socket. Optional; when SocketPath is
	// empty no admin socket is served.
	Admin AdminConfig `yaml:"admin"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// BridgeConfig configures the Matrix-facing side of the bridge.
type BridgeConfig struct {
	// Domain is the Matrix server name used to construct user IDs and
	// room aliases (e.g., "example.org" in "@_discord_bot:example.org").
	Domain string `yaml:"domain"`

	// HomeserverURL is the base URL the bridge uses to reach the
	// homeserver's client-server API (e.g., "http://localhost:8008").
	HomeserverURL string `yaml:"homeserverUrl"`

	// Port is the TCP port the appservice listener binds. The homeserver
	// pushes transactions and queries here. Zero binds an ephemeral port
	// (useful in tests).
	Port int `yaml:"port"`
}

// DatabaseConfig configures the SQLite stores.
type DatabaseConfig struct {
	// RoomStorePath is the SQLite database file for room links.
	RoomStorePath string `yaml:"roomStorePath"`

	// UserStorePath is the SQLite database file for ghost users.
	UserStorePath string `yaml:"userStorePath"`
}

// GatewayConfig configures the Discord gateway connection.
//
// The bot token comes from exactly one of BotToken (inline, discouraged
// outside development) or BotTokenFile. When IdentityFile is also set,
// BotTokenFile is expected to contain an age-encrypted token and is
// decrypted with the identity at startup.
type GatewayConfig struct {
	// BotToken is the Discord bot token in plaintext. Prefer
	// BotTokenFile so the token never appears in the config file.
	BotToken string `yaml:"botToken"`

	// BotTokenFile is a path to a file containing the bot token:
	// plaintext when IdentityFile is empty, age-encrypted otherwise.
	BotTokenFile string `yaml:"botTokenFile"`

	// IdentityFile is a path to an age identity file (AGE-SECRET-KEY-1...
	// lines) used to decrypt BotTokenFile.
	IdentityFile string `yaml:"identityFile"`
}

// AdminConfig configures the operator admin socket.
type AdminConfig struct {
	// SocketPath is the Unix socket path for the admin protocol
	// (status, ping). Empty disables the admin socket.
	SocketPath string `yaml:"socketPath"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the minimum severity to emit: "debug", "info", "warn",
	// or "error". Empty means "info".
	Level string `yaml:"level"`
}

// Default returns the default configuration. These defaults exist so all
// fields have sensible zero-values before the config file is merged on
// top. The config file is still required for anything deployment-specific
// (domain, homeserver URL, token).
func Default() *Config {
	return &Config{
		Bridge: BridgeConfig{
			HomeserverURL: "http://localhost:8008",
			Port:          9005,
		},
		Database: DatabaseConfig{
			RoomStorePath: "crosswire-rooms.db",
			UserStorePath: "crosswire-users.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the CROSSWIRE_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks: if CROSSWIRE_CONFIG is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("CROSSWIRE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("CROSSWIRE_CONFIG environment variable not set; " +
			"set it to the path of your crosswire.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging the file
// over Default() and expanding ${VAR} patterns in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// Apply merges the non-zero fields of overlay into c. This is how CLI
// flags override file values: the command builds an overlay Config from
// its flags and applies it after LoadFile.
func (c *Config) Apply(overlay *Config) {
	if overlay == nil {
		return
	}
	if overlay.Bridge.Domain != "" {
		c.Bridge.Domain = overlay.Bridge.Domain
	}
	if overlay.Bridge.HomeserverURL != "" {
		c.Bridge.HomeserverURL = overlay.Bridge.HomeserverURL
	}
	if overlay.Bridge.Port != 0 {
		c.Bridge.Port = overlay.Bridge.Port
	}
	if overlay.Database.RoomStorePath != "" {
		c.Database.RoomStorePath = overlay.Database.RoomStorePath
	}
	if overlay.Database.UserStorePath != "" {
		c.Database.UserStorePath = overlay.Database.UserStorePath
	}
	if overlay.Gateway.BotToken != "" {
		c.Gateway.BotToken = overlay.Gateway.BotToken
	}
	if overlay.Gateway.BotTokenFile != "" {
		c.Gateway.BotTokenFile = overlay.Gateway.BotTokenFile
	}
	if overlay.Gateway.IdentityFile != "" {
		c.Gateway.IdentityFile = overlay.Gateway.IdentityFile
	}
	if overlay.Admin.SocketPath != "" {
		c.Admin.SocketPath = overlay.Admin.SocketPath
	}
	if overlay.Logging.Level != "" {
		c.Logging.Level = overlay.Logging.Level
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. Only paths are expanded; tokens and URLs are taken literally.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Database.RoomStorePath = expandVars(c.Database.RoomStorePath, vars)
	c.Database.UserStorePath = expandVars(c.Database.UserStorePath, vars)
	c.Gateway.BotTokenFile = expandVars(c.Gateway.BotTokenFile, vars)
	c.Gateway.IdentityFile = expandVars(c.Gateway.IdentityFile, vars)
	c.Admin.SocketPath = expandVars(c.Admin.SocketPath, vars)
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are reported
// together so the operator fixes the file in one pass.
func (c *Config) Validate() error {
	var errs []error

	if c.Bridge.Domain == "" {
		errs = append(errs, fmt.Errorf("bridge.domain is required"))
	}
	if c.Bridge.HomeserverURL == "" {
		errs = append(errs, fmt.Errorf("bridge.homeserverUrl is required"))
	} else if _, err := url.Parse(c.Bridge.HomeserverURL); err != nil {
		errs = append(errs, fmt.Errorf("bridge.homeserverUrl is not a valid URL: %w", err))
	}
	if c.Bridge.Port < 0 || c.Bridge.Port > 65535 {
		errs = append(errs, fmt.Errorf("bridge.port %d is out of range", c.Bridge.Port))
	}
	if c.Database.RoomStorePath == "" {
		errs = append(errs, fmt.Errorf("database.roomStorePath is required"))
	}
	if c.Database.UserStorePath == "" {
		errs = append(errs, fmt.Errorf("database.userStorePath is required"))
	}
	if c.Gateway.BotToken != "" && c.Gateway.BotTokenFile != "" {
		errs = append(errs, fmt.Errorf("gateway.botToken and gateway.botTokenFile are mutually exclusive"))
	}
	if c.Gateway.IdentityFile != "" && c.Gateway.BotTokenFile == "" {
		errs = append(errs, fmt.Errorf("gateway.identityFile requires gateway.botTokenFile"))
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel parses the configured level into a slog.Level. Empty means
// info.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", l.Level)
	}
	return level, nil
}
