// Package config manages the ~/.crosstalk directory: the TOML application
// config, persisted transport credentials, and the running-instance
// registry.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the crosstalk configuration, read from ~/.crosstalk/config.toml.
// Zero values defer to the defaults of whichever component consumes them.
type Config struct {
	Log       string          `toml:"log"` // log file path; empty disables logging
	Hub       HubConfig       `toml:"hub"`
	Transport TransportConfig `toml:"transport"`
}

// HubConfig holds hub daemon settings.
type HubConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Store        string `toml:"store"`         // memory | snapshot | redis
	SnapshotPath string `toml:"snapshot_path"` // defaults to <dir>/hub.json
	RedisAddr    string `toml:"redis_addr"`
	RedisPrefix  string `toml:"redis_prefix"`
	MaxBuffer    int    `toml:"max_buffer"`
	MaxAgents    int    `toml:"max_agents"`
}

// TransportConfig holds the client-side transport defaults.
type TransportConfig struct {
	Kind     string `toml:"kind"` // hub | relay
	HubURL   string `toml:"hub_url"`
	RelayURL string `toml:"relay_url"`
}

// Dir returns the path to the .crosstalk directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".crosstalk"), nil
}

// Path returns the path to the main config file.
func Path() (string, error) {
	configDir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Hub:       HubConfig{Store: "memory"},
		Transport: TransportConfig{Kind: "hub"},
	}
}

// Load reads ~/.crosstalk/config.toml. A missing file yields the defaults;
// the file never gets written back, it belongs to the user.
func Load() (Config, error) {
	configPath, err := Path()
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("parse %s: %w", configPath, err)
	}
	if cfg.Hub.Store == "" {
		cfg.Hub.Store = "memory"
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = "hub"
	}
	return cfg, nil
}
