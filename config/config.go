// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config holds the settings shared by the device simulator and the server.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Environment overrides.
const (
	EnvServerURL   = "SPORTBUDDY_SERVER_URL"
	EnvDatabaseURL = "SPORTBUDDY_DATABASE_URL"
	EnvJWTSecret   = "SPORTBUDDY_JWT_SECRET"
)

// Duration is a time.Duration written as "2s", "150ms" in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all configuration, stored as TOML.
type Config struct {
	Client ClientConfig `toml:"client"`
	Server ServerConfig `toml:"server"`
	Sync   SyncConfig   `toml:"sync"`
	Log    LogConfig    `toml:"log"`
}

// ClientConfig describes the device.
type ClientConfig struct {
	ServerURL string `toml:"server_url"`
	DataFile  string `toml:"data_file"` // SQLite key-value store
	UserID    string `toml:"user_id"`
	DeviceID  string `toml:"device_id"`
}

// ServerConfig describes the REST API process.
type ServerConfig struct {
	Addr        string   `toml:"addr"`
	DatabaseURL string   `toml:"database_url"` // empty selects the in-memory backend
	JWTSecret   string   `toml:"jwt_secret"`
	TokenTTL    Duration `toml:"token_ttl"`
	LogRequests bool     `toml:"log_requests"`
}

// SyncConfig tunes connectivity detection and the sync engine. The retry ceiling is fixed.
type SyncConfig struct {
	PollInterval Duration `toml:"poll_interval"`
	ProbeURL     string   `toml:"probe_url"`
	ProbeTimeout Duration `toml:"probe_timeout"`
	PulseReset   Duration `toml:"pulse_reset"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// DefaultConfig returns a configuration with sensible defaults for local runs
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			ServerURL: "http://localhost:8080",
			DataFile:  "sportbuddy.db",
			DeviceID:  "device-1",
		},
		Server: ServerConfig{
			Addr:      ":8080",
			JWTSecret: "your-secret-key-change-in-production",
			TokenTTL:  Duration(24 * time.Hour),
		},
		Sync: SyncConfig{
			PollInterval: Duration(2 * time.Second),
			ProbeURL:     "https://www.google.com/favicon.ico",
			ProbeTimeout: Duration(3 * time.Second),
			PulseReset:   Duration(3 * time.Millisecond),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies environment overrides. A missing file is
// not an error; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("cannot read config: %w", err)
		default:
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config: %w", err)
			}
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvServerURL); v != "" {
		c.Client.ServerURL = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Server.DatabaseURL = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.Server.JWTSecret = v
	}
}

// Validate checks values that would otherwise fail later and less clearly.
func (c *Config) Validate() error {
	if c.Sync.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive")
	}
	if c.Sync.PulseReset <= 0 {
		return fmt.Errorf("sync.pulse_reset must be positive")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.Log.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}
