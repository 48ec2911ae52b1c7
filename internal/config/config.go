// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/morganforge/hackchat/internal/completions"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is the root configuration structure.
type Config struct {
	// Endpoint configures the completions API.
	Endpoint EndpointConfig `toml:"endpoint"`

	// Storage configures where chats and the search index live.
	Storage StorageConfig `toml:"storage"`

	// Network configures reachability probing.
	Network NetworkConfig `toml:"network"`
}

// EndpointConfig configures the completions endpoint.
type EndpointConfig struct {
	// URL is the API base URL.
	URL string `toml:"url"`

	// Model overrides the endpoint's default model when non-empty.
	Model string `toml:"model"`

	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs"`

	// MaxRetries is the attempt count for transient failures.
	MaxRetries int `toml:"max_retries"`

	// RequestsPerMinute is the client-side send rate cap.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// StorageConfig configures on-disk data locations.
type StorageConfig struct {
	// DataDir holds chats and the search index.
	// Default: ~/.hackchat
	DataDir string `toml:"data_dir"`

	// ExportDir is where transcript exports are written.
	// Default: current working directory.
	ExportDir string `toml:"export_dir"`
}

// NetworkConfig configures the reachability monitor.
type NetworkConfig struct {
	// ProbeIntervalSecs is the gap between reachability probes.
	ProbeIntervalSecs int `toml:"probe_interval_secs"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			URL:               completions.DefaultBaseURL,
			Model:             "",
			TimeoutSecs:       60,
			MaxRetries:        completions.DefaultMaxRetries,
			RequestsPerMinute: completions.DefaultRequestsPerMinute,
		},
		Storage: StorageConfig{
			DataDir:   "", // resolved to ~/.hackchat on load
			ExportDir: ".",
		},
		Network: NetworkConfig{
			ProbeIntervalSecs: 10,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the hackchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".hackchat"), nil
}

// ConfigPath returns the TOML config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads configuration from the default path. A missing file is
// not an error; defaults apply. Environment overrides are applied in
// either case.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.fillDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default path with restrictive
// permissions.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveToPath(cfg, path)
}

// SaveToPath writes the configuration to an explicit path.
func SaveToPath(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# hackchat configuration file")
	fmt.Fprintln(file, "# Generated by hackchat - edit with care")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// ENV OVERRIDES AND DEFAULT FILLING
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("HACKCHAT_ENDPOINT"); v != "" {
		c.Endpoint.URL = v
	}
	if v := os.Getenv("HACKCHAT_MODEL"); v != "" {
		c.Endpoint.Model = v
	}
	if v := os.Getenv("HACKCHAT_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
}

// fillDefaults resolves values that depend on the environment.
func (c *Config) fillDefaults() error {
	if c.Storage.DataDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return fmt.Errorf("cannot resolve data directory: %w", err)
		}
		c.Storage.DataDir = dir
	}
	if c.Storage.ExportDir == "" {
		c.Storage.ExportDir = "."
	}
	if c.Endpoint.TimeoutSecs <= 0 {
		c.Endpoint.TimeoutSecs = 60
	}
	if c.Endpoint.MaxRetries <= 0 {
		c.Endpoint.MaxRetries = completions.DefaultMaxRetries
	}
	if c.Endpoint.RequestsPerMinute <= 0 {
		c.Endpoint.RequestsPerMinute = completions.DefaultRequestsPerMinute
	}
	if c.Network.ProbeIntervalSecs <= 0 {
		c.Network.ProbeIntervalSecs = 10
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid config field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors aggregates validation failures.
type ValidateErrors []ValidationError

// Error implements the error interface.
func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for coherence.
func (c *Config) Validate() error {
	var errs ValidateErrors

	u, err := url.Parse(c.Endpoint.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, ValidationError{
			Field:   "endpoint.url",
			Message: "must be a valid http or https URL",
		})
	}
	if c.Endpoint.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{
			Field:   "endpoint.timeout_secs",
			Message: "must be at most 600",
		})
	}
	if c.Endpoint.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "endpoint.max_retries",
			Message: "must be at most 10",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
