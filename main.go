// BDL Terminal - administrative console for the bird data hierarchy.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jeranaias/bdl-terminal/internal/audit"
	"github.com/jeranaias/bdl-terminal/internal/bulk"
	"github.com/jeranaias/bdl-terminal/internal/cli"
	"github.com/jeranaias/bdl-terminal/internal/command"
	"github.com/jeranaias/bdl-terminal/internal/config"
	"github.com/jeranaias/bdl-terminal/internal/crypto"
	"github.com/jeranaias/bdl-terminal/internal/dispatch"
	"github.com/jeranaias/bdl-terminal/internal/forest"
	"github.com/jeranaias/bdl-terminal/internal/policy"
	"github.com/jeranaias/bdl-terminal/internal/sms"
	"github.com/jeranaias/bdl-terminal/internal/store"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const masterKeyEnv = "BDL_MASTER_KEY"

// bootstrapAdmin is the operator account created on an empty store.
const bootstrapAdmin = "root"

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Printf("bdl-terminal %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	masterKey := os.Getenv(masterKeyEnv)
	if masterKey == "" {
		return fmt.Errorf("%s is not set; export a strong master key before starting the terminal", masterKeyEnv)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.UI.ColorEnabled {
		cli.DisableColors()
	}

	logger, err := audit.New(cfg.Audit.LogDir, audit.WithQueueCapacity(cfg.Audit.QueueCapacity))
	if err != nil {
		return err
	}

	s := store.New(masterKey, logger)
	p := policy.New(s, logger, newSender(cfg),
		policy.WithMaxLoginAttempts(cfg.Policy.MaxLoginAttempts),
		policy.WithLockoutDuration(time.Duration(cfg.Policy.LockoutDurationMinutes)*time.Minute),
		policy.WithInactivityThreshold(time.Duration(cfg.Policy.InactivityThresholdHours)*time.Hour))
	worker := bulk.NewWithPoolSize(s, p, logger, cfg.Bulk.PoolSize)
	tree := forest.NewTree("oak", bootstrapAdmin)
	d := dispatch.New(s, p, logger, tree)

	// Shutdown drains the worker pool and then closes the logger, so every
	// accepted event reaches disk before exit.
	defer worker.Shutdown()

	if err := bootstrap(s, p); err != nil {
		return err
	}

	console := cli.New(d, s, p, logger, historyFile(cfg))
	if err := console.Login(); err != nil {
		return err
	}
	return console.Run()
}

// newSender picks the SMS carrier: Twilio when fully configured, otherwise a
// refusing stand-in so two-factor HATCH fails loudly instead of silently.
func newSender(cfg *config.Config) sms.Sender {
	if cfg.TwilioConfigured() {
		return sms.NewTwilioSender(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber)
	}
	return sms.NopSender{}
}

// bootstrap creates the root admin on an empty store and prints its temporary
// password exactly once.
func bootstrap(s *store.Store, p *policy.Engine) error {
	if len(s.Usernames()) > 0 {
		return nil
	}

	temp, err := crypto.GenerateTempPassword()
	if err != nil {
		return fmt.Errorf("failed to generate bootstrap password: %w", err)
	}
	hash, err := crypto.HashPassword(temp)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap password: %w", err)
	}

	admin := store.User{
		Username:     bootstrapAdmin,
		Password:     hash,
		Host:         "localhost",
		Permissions:  []string{"BASE_USER", dispatch.AdminPermission},
		CreationDate: time.Now().Format("2006-01-02T15:04:05"),
		CreatorID:    "system",
		AuthType:     command.AuthPassword,
	}
	if err := s.Add(admin); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}
	p.RecordActivity(bootstrapAdmin)

	fmt.Printf("Created bootstrap admin %q.\n", bootstrapAdmin)
	fmt.Printf("Temporary password (shown once): %s\n\n", temp)
	return nil
}

func historyFile(cfg *config.Config) string {
	if cfg.UI.HistoryFile != "" {
		return cfg.UI.HistoryFile
	}
	dir, err := config.Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "history")
}
