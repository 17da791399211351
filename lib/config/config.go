// Copyright 2026 The AgentCP Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads process-wide SDK configuration.
//
// Configuration comes from a single YAML file named by:
//   - the AGENTCP_CONFIG environment variable, or
//   - an explicit path passed to LoadFile.
//
// There are no fallbacks or automatic discovery; this keeps
// configuration deterministic and auditable. The file applies to every
// agent the process hosts.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide SDK configuration.
type Config struct {
	// CABase is the certificate authority base URL (required before
	// CreateAID).
	CABase string `yaml:"ca_base"`

	// APBase is the access point base URL (required before Online).
	APBase string `yaml:"ap_base"`

	// StoragePath is the root directory for per-agent key material.
	// Group cursor files are not placed under it. Defaults to the
	// working directory.
	StoragePath string `yaml:"storage_path"`

	// TLS configures transport security for all servers.
	TLS TLSConfig `yaml:"tls"`

	// Proxy is an optional HTTP proxy URL applied to all HTTPS calls.
	Proxy string `yaml:"proxy"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level"`
}

// TLSConfig controls certificate verification.
type TLSConfig struct {
	// InsecureSkipVerify accepts any server certificate. Only for
	// trust-anchored deployments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Default returns a configuration with sensible zero-state values. The
// server URLs are left empty — they must come from the file or be set
// on the Config before it is passed to the orchestrator.
func Default() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		StoragePath: cwd,
		LogLevel:    "info",
	}
}

// Load reads the file named by AGENTCP_CONFIG. Fails if the variable
// is unset.
func Load() (*Config, error) {
	path := os.Getenv("AGENTCP_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: AGENTCP_CONFIG environment variable not set; " +
			"point it at your agentcp.yaml")
	}
	return LoadFile(path)
}

// LoadFile reads configuration from an explicit path, merging over
// Default().
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for use by an agent going online.
func (c *Config) Validate() error {
	var errs []error
	if c.CABase == "" {
		errs = append(errs, fmt.Errorf("ca_base is required"))
	}
	if c.APBase == "" {
		errs = append(errs, fmt.Errorf("ap_base is required"))
	}
	for _, base := range []string{c.CABase, c.APBase} {
		if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
			errs = append(errs, fmt.Errorf("server URL %q must be http(s)", base))
		}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level %q", c.LogLevel))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
