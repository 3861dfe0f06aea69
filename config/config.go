// Package config loads the platform's own application configuration —
// which store backend to open, the admin HTTP listen address, whether the
// cron scheduler runs, and logging options — from a YAML file on disk.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" | "postgres"
	SQLite   struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Postgres struct {
		URL      string `yaml:"url"`
		MaxConns int32  `yaml:"maxConns"`
		MinConns int32  `yaml:"minConns"`
	} `yaml:"postgres"`
}

// ServerConfig configures the admin HTTP surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listenAddr"`
}

// SchedulerConfig controls whether the cron-backed schedule trigger runs.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig controls the root slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "text" | "json"
}

// AppConfig is the full shape of the platform's own config file.
type AppConfig struct {
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// defaults mirrors the zero-config, embedded-SQLite developer experience:
// running the binary with no config file at all still works.
func defaults() AppConfig {
	cfg := AppConfig{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLite.Path = "skillengine.db"
	cfg.Server.ListenAddr = ":8080"
	cfg.Scheduler.Enabled = true
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// Load reads and parses a YAML config file. Fields absent from the file
// keep their zero-config defaults.
func Load(path string) (*AppConfig, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadOrDefault behaves like Load, but returns the zero-config defaults
// instead of an error when path is empty or does not exist.
func LoadOrDefault(path string) (*AppConfig, error) {
	if path == "" {
		cfg := defaults()
		return &cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaults()
		return &cfg, nil
	}
	return Load(path)
}

// Hash returns the SHA256 hex digest of the YAML-serialized config, for
// change detection without a full reload.
func Hash(cfg *AppConfig) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
