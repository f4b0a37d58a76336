// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for the BDL terminal.
//
// Configuration is TOML, with sensible defaults and environment variable
// overrides for carrier credentials.
//
// Configuration file location (in order of precedence):
//   - ~/.bdl/config.toml
//   - Built-in defaults
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/bdl-terminal/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete terminal configuration.
type Config struct {
	Version string `toml:"version"`

	Audit  AuditConfig  `toml:"audit"`
	Policy PolicyConfig `toml:"policy"`
	Bulk   BulkConfig   `toml:"bulk"`
	Twilio TwilioConfig `toml:"twilio"`
	UI     UIConfig     `toml:"ui"`
}

// AuditConfig controls the encrypted security log pipeline.
type AuditConfig struct {
	// LogDir is the directory for daily security logs (empty = ./security_logs).
	LogDir string `toml:"log_dir"`
	// QueueCapacity bounds the in-memory event queue.
	QueueCapacity int `toml:"queue_capacity"`
}

// PolicyConfig tunes the authentication policy engine.
type PolicyConfig struct {
	// MaxLoginAttempts is the consecutive-failure count that triggers lockout.
	MaxLoginAttempts int `toml:"max_login_attempts"`
	// LockoutDurationMinutes is how long a lockout window lasts.
	LockoutDurationMinutes int `toml:"lockout_duration_minutes"`
	// InactivityThresholdHours is the idle time before the sweep locks a user.
	InactivityThresholdHours int `toml:"inactivity_threshold_hours"`
}

// BulkConfig tunes the background security worker.
type BulkConfig struct {
	// PoolSize caps concurrent batch goroutines (0 = number of CPUs).
	PoolSize int `toml:"pool_size"`
}

// TwilioConfig holds SMS carrier credentials for two-factor codes.
// All three fields must be set for delivery to work; otherwise the
// terminal falls back to a sender that refuses with an error.
type TwilioConfig struct {
	AccountSID string `toml:"account_sid"`
	AuthToken  string `toml:"auth_token"`
	FromNumber string `toml:"from_number"`
}

// UIConfig contains console presentation settings.
type UIConfig struct {
	// ColorEnabled toggles lipgloss styling of responses.
	ColorEnabled bool `toml:"color_enabled"`
	// HistoryFile is the liner history path (empty = ~/.bdl/history).
	HistoryFile string `toml:"history_file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Audit: AuditConfig{
			LogDir:        "security_logs",
			QueueCapacity: 1024,
		},

		Policy: PolicyConfig{
			MaxLoginAttempts:         5,
			LockoutDurationMinutes:   30,
			InactivityThresholdHours: 24,
		},

		Bulk: BulkConfig{
			PoolSize: 0, // number of CPUs
		},

		UI: UIConfig{
			ColorEnabled: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the BDL configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".bdl"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens the config file to 0600; it can carry
// carrier credentials.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load loads configuration from ~/.bdl/config.toml, falling back to defaults
// when the file is absent. Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()

	path, err := Path()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := loadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := loadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies environment variables over file values. Carrier
// credentials are usually injected this way rather than written to disk.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		c.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		c.Twilio.AuthToken = v
	}
	if v := os.Getenv("TWILIO_PHONE_NUMBER"); v != "" {
		c.Twilio.FromNumber = v
	}
	if v := os.Getenv("BDL_LOG_DIR"); v != "" {
		c.Audit.LogDir = v
	}
}

// fillDefaults fills in any missing values with defaults.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Audit.LogDir == "" {
		c.Audit.LogDir = defaults.Audit.LogDir
	}
	if c.Audit.QueueCapacity <= 0 {
		c.Audit.QueueCapacity = defaults.Audit.QueueCapacity
	}
	if c.Policy.MaxLoginAttempts <= 0 {
		c.Policy.MaxLoginAttempts = defaults.Policy.MaxLoginAttempts
	}
	if c.Policy.LockoutDurationMinutes <= 0 {
		c.Policy.LockoutDurationMinutes = defaults.Policy.LockoutDurationMinutes
	}
	if c.Policy.InactivityThresholdHours <= 0 {
		c.Policy.InactivityThresholdHours = defaults.Policy.InactivityThresholdHours
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Bulk.PoolSize < 0 {
		return fmt.Errorf("bulk.pool_size must not be negative, got %d", c.Bulk.PoolSize)
	}
	if c.Policy.MaxLoginAttempts < 1 {
		return fmt.Errorf("policy.max_login_attempts must be at least 1, got %d", c.Policy.MaxLoginAttempts)
	}
	return nil
}

// TwilioConfigured reports whether all carrier credentials are present.
func (c *Config) TwilioConfigured() bool {
	return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" && c.Twilio.FromNumber != ""
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration atomically to ~/.bdl/config.toml with 0600
// permissions.
func (c *Config) Save() error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the configuration atomically to a specific path.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
