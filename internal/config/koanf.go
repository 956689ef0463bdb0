// Nexusd - Streaming NeXus File Writer for Message Logs
// Copyright 2026 M. Falkenberg (mfalkenberg)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mfalkenberg/nexusd

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in priority
// order; the first existing file wins.
var DefaultConfigPaths = []string{
	"nexusd.yaml",
	"nexusd.yml",
	"/etc/nexusd/nexusd.yaml",
	"/etc/nexusd/nexusd.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "NEXUSD_CONFIG"

// envPrefix is stripped from environment variables before mapping them
// onto config keys: NEXUSD_BROKER__URL -> broker.url.
const envPrefix = "NEXUSD_"

// Load builds the configuration from defaults, an optional YAML file and
// the environment, then validates it.
func Load() (*Config, error) {
	return LoadFrom(resolveConfigPath())
}

// LoadFrom loads with an explicit config file path; empty skips the file
// layer.
func LoadFrom(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load default configuration: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %q: %w", path, err)
		}
	}

	// Double underscore separates nesting levels so single underscores
	// survive inside key names (job_pool_topic).
	envProvider := env.Provider(envPrefix, ".", func(key string) string {
		trimmed := strings.TrimPrefix(key, envPrefix)
		return strings.ReplaceAll(strings.ToLower(trimmed), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment configuration: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolveConfigPath() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, candidate := range DefaultConfigPaths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}
