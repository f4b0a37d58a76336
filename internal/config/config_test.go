// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Audit.LogDir != "security_logs" {
		t.Errorf("default log dir = %q", cfg.Audit.LogDir)
	}
	if cfg.Policy.MaxLoginAttempts != 5 {
		t.Errorf("default max attempts = %d", cfg.Policy.MaxLoginAttempts)
	}
	if cfg.Policy.LockoutDurationMinutes != 30 {
		t.Errorf("default lockout minutes = %d", cfg.Policy.LockoutDurationMinutes)
	}
	if cfg.Policy.InactivityThresholdHours != 24 {
		t.Errorf("default inactivity hours = %d", cfg.Policy.InactivityThresholdHours)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "2.0.0"

[audit]
log_dir = "/var/log/bdl"

[policy]
max_login_attempts = 3

[twilio]
account_sid = "AC123"
auth_token = "secret"
from_number = "+15550001111"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Version != "2.0.0" {
		t.Errorf("version = %q", cfg.Version)
	}
	if cfg.Audit.LogDir != "/var/log/bdl" {
		t.Errorf("log dir = %q", cfg.Audit.LogDir)
	}
	if cfg.Policy.MaxLoginAttempts != 3 {
		t.Errorf("max attempts = %d", cfg.Policy.MaxLoginAttempts)
	}
	// Unset fields keep their defaults.
	if cfg.Policy.LockoutDurationMinutes != 30 {
		t.Errorf("lockout minutes = %d, want default 30", cfg.Policy.LockoutDurationMinutes)
	}
	if !cfg.TwilioConfigured() {
		t.Error("Twilio should be configured")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "AC999")
	t.Setenv("TWILIO_AUTH_TOKEN", "env-token")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15559998888")
	t.Setenv("BDL_LOG_DIR", "/tmp/bdl-logs")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	if cfg.Twilio.AccountSID != "AC999" {
		t.Errorf("account sid = %q", cfg.Twilio.AccountSID)
	}
	if cfg.Twilio.AuthToken != "env-token" {
		t.Errorf("auth token = %q", cfg.Twilio.AuthToken)
	}
	if cfg.Twilio.FromNumber != "+15559998888" {
		t.Errorf("from number = %q", cfg.Twilio.FromNumber)
	}
	if cfg.Audit.LogDir != "/tmp/bdl-logs" {
		t.Errorf("log dir = %q", cfg.Audit.LogDir)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.Audit.LogDir = "custom_logs"
	cfg.Bulk.PoolSize = 4
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config perms = %o, want 0600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.Audit.LogDir != "custom_logs" {
		t.Errorf("log dir = %q", loaded.Audit.LogDir)
	}
	if loaded.Bulk.PoolSize != 4 {
		t.Errorf("pool size = %d", loaded.Bulk.PoolSize)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Bulk.PoolSize = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative pool size accepted")
	}

	cfg = Default()
	cfg.Policy.MaxLoginAttempts = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max attempts accepted")
	}
}
