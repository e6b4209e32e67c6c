// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vybe Contributors

// Package config loads runtime configuration from defaults, an optional
// YAML config file, and command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/vybeapp/vybe/internal/xdg"
)

// Config holds the plugin runtime configuration.
type Config struct {
	// PluginsDir is the root directory plugin packages live under.
	PluginsDir string `koanf:"plugins_dir"`
	// SettingsPath is the persisted settings document (disabled plugin set).
	SettingsPath string `koanf:"settings_path"`
	// LogFormat is "json" or "text".
	LogFormat string `koanf:"log_format"`
	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string `koanf:"log_level"`
	// MetricsAddr is the metrics/health HTTP listen address (empty = disabled).
	MetricsAddr string `koanf:"metrics_addr"`
}

// Default returns the configuration defaults, rooted in the XDG directories.
func Default() Config {
	return Config{
		PluginsDir:   xdg.PluginsDir(),
		SettingsPath: xdg.SettingsPath(),
		LogFormat:    "json",
		LogLevel:     "info",
		MetricsAddr:  "127.0.0.1:9600",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}
	if c.SettingsPath == "" {
		return fmt.Errorf("settings_path is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format must be 'json' or 'text', got %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

// Load builds the configuration. path may be empty, in which case only
// defaults and flags apply; a non-empty path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if flags != nil {
		// Flag names use dashes; config keys use underscores.
		provider := posflag.ProviderWithValue(flags, ".", k, func(key, value string) (string, any) {
			return strings.ReplaceAll(key, "-", "_"), value
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal over the defaults so absent keys keep their default values.
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
