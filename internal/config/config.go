// Package config loads runtime settings from per-environment YAML files
// with environment-variable overrides. The active environment comes from
// CADMAFLOW_ENV (default "development"); settings load from
// <dir>/<env>.yaml when present.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings.
type Config struct {
	Env      string         `yaml:"-"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Flows    FlowsConfig    `yaml:"flows"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type FlowsConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the built-in settings for the given environment.
func Default(env string) *Config {
	return &Config{
		Env:      env,
		Database: DatabaseConfig{Path: "cadmaflow.db"},
		Server:   ServerConfig{Addr: ":8080"},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Flows:    FlowsConfig{Dir: "flows"},
	}
}

// Load reads settings for the active environment from dir. A missing file
// is not an error: defaults apply. Environment variables override file
// values last: CADMAFLOW_DB_PATH, CADMAFLOW_ADDR, CADMAFLOW_LOG_LEVEL,
// CADMAFLOW_LOG_FORMAT, CADMAFLOW_FLOWS_DIR.
func Load(dir string) (*Config, error) {
	env := os.Getenv("CADMAFLOW_ENV")
	if env == "" {
		env = "development"
	}
	cfg := Default(env)

	path := filepath.Join(dir, env+".yaml")
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults apply
	case err != nil:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("CADMAFLOW_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CADMAFLOW_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CADMAFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CADMAFLOW_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CADMAFLOW_FLOWS_DIR"); v != "" {
		cfg.Flows.Dir = v
	}
	return cfg, nil
}

// Logger builds a slog.Logger per the logging settings, writing to stderr.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(c.Logging.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
