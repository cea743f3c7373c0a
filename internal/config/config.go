// Package config handles server configuration loading and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config is the top-level server configuration. Every field has a default;
// a missing config file yields a fully usable configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Users   UsersConfig   `json:"users"`
	Sim     SimConfig     `json:"sim"`
	History HistoryConfig `json:"history"`
	Web     WebConfig     `json:"web"`
}

// ServerConfig defines the TCP listener and process-level settings.
type ServerConfig struct {
	ListenAddr      string   `json:"listen_addr"`
	LogLevel        string   `json:"log_level"`
	ShutdownTimeout Duration `json:"shutdown_timeout,omitempty"`
}

// UsersConfig locates the JSON user store.
type UsersConfig struct {
	File string `json:"file"`
}

// SimConfig tunes the environment simulation.
type SimConfig struct {
	DefaultIntervalMs int   `json:"default_interval_ms"`
	Seed              int64 `json:"seed,omitempty"`     // 0 = time-derived
	NoNoise           bool  `json:"no_noise,omitempty"` // deterministic stepping
}

// HistoryConfig selects the optional sensor-reading history backend.
// An empty driver disables history entirely.
type HistoryConfig struct {
	Driver string `json:"driver,omitempty"` // "", "sqlite" or "postgres"
	DSN    string `json:"dsn,omitempty"`
}

// WebConfig enables the optional HTTP/WebSocket surface.
// An empty addr disables it.
type WebConfig struct {
	Addr string `json:"addr,omitempty"`
}

// Duration is a JSON-friendly time.Duration (accepts strings like "30s",
// or bare numbers meaning seconds).
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		dur, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		d.Duration = dur
	case float64:
		d.Duration = time.Duration(val) * time.Second
	default:
		return fmt.Errorf("invalid duration: %v", v)
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Load reads a config file, validates it and applies defaults. A missing
// file is not an error; it yields the default configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// run on defaults
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be debug, info, warn or error")
	}
	switch c.History.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("history.driver must be sqlite or postgres")
	}
	if c.History.Driver == "postgres" && c.History.DSN == "" {
		return fmt.Errorf("history.dsn is required for the postgres driver")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":5555"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout.Duration == 0 {
		c.Server.ShutdownTimeout.Duration = 10 * time.Second
	}
	if c.Users.File == "" {
		c.Users.File = "users.json"
	}
	if c.Sim.DefaultIntervalMs == 0 {
		c.Sim.DefaultIntervalMs = 1000
	}
	if c.History.Driver == "sqlite" && c.History.DSN == "" {
		c.History.DSN = "readings.db"
	}
}
