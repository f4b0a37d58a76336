// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// console.go - The interactive BDL terminal loop.
//
// The console authenticates one operator, then reads command lines with
// history and line editing, routes them through the dispatcher, and renders
// the responses. Console-local verbs (help, logs, whoami, exit) are handled
// here and never reach the command parser.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/bdl-terminal/internal/audit"
	"github.com/jeranaias/bdl-terminal/internal/command"
	"github.com/jeranaias/bdl-terminal/internal/dispatch"
	"github.com/jeranaias/bdl-terminal/internal/policy"
	"github.com/jeranaias/bdl-terminal/internal/store"
)

const banner = `BDL Terminal - Bird Data Language administrative console`

const helpText = `Commands:
  HATCH NEW CHICK 'user'@'host' RECOGNITION 'auth_type'   Create a user
  DROP CHICK 'user' ['reason']                            Remove a user
  GRANT CHICK 'user' PERMISSION 'perm' TO 'nest' DURATION <secs>
  REVOKE PERMISSION 'perm' FROM 'user' DURATION <secs>
  CREATE ROLE 'role_name' <hierarchy_number>
  CREATE BRANCH 'name' IN 'parent_path'
  MOVE BRANCH 'path' TO 'new_parent_path'
  INIT DEBUG USER [seconds]

Console:
  help                 Show this help
  whoami               Show the authenticated user
  verify <user>        Check a credential against the auth policy
  logs [days]          Show decrypted security log entries (default 1 day)
  exit, quit           Leave the terminal`

// maxLoginPrompts bounds interactive authentication tries before the console
// gives up. The policy engine applies its own lockout independently.
const maxLoginPrompts = 3

// Console is the interactive terminal session.
type Console struct {
	dispatcher  *dispatch.Dispatcher
	store       *store.Store
	policy      *policy.Engine
	logger      *audit.Logger
	historyFile string
}

// New creates a console over the assembled subsystem.
func New(d *dispatch.Dispatcher, s *store.Store, p *policy.Engine, logger *audit.Logger, historyFile string) *Console {
	return &Console{
		dispatcher:  d,
		store:       s,
		policy:      p,
		logger:      logger,
		historyFile: historyFile,
	}
}

// =============================================================================
// LOGIN
// =============================================================================

// Login authenticates an operator interactively and installs them as the
// dispatcher's current user. It returns an error when every prompt fails.
func (c *Console) Login() error {
	if !IsTTY() {
		return errors.New("stdin is not a terminal; cannot authenticate interactively")
	}

	for attempt := 0; attempt < maxLoginPrompts; attempt++ {
		fmt.Print("Username: ")
		var username string
		if _, err := fmt.Scanln(&username); err != nil {
			return fmt.Errorf("failed to read username: %w", err)
		}

		secret, err := ReadPassword("Password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		u := c.store.Get(username)
		if u == nil {
			// Burn the attempt against the unknown name and fail closed.
			c.policy.Verify(username, secret, command.AuthPassword)
			fmt.Println(RenderResponse("Error: Authentication failed"))
			continue
		}

		ok, err := c.policy.Verify(username, secret, u.AuthType)
		if err != nil || !ok {
			fmt.Println(RenderResponse("Error: Authentication failed"))
			continue
		}

		c.dispatcher.SetCurrentUser(u)
		fmt.Println(RenderResponse("Successfully authenticated as " + username))
		return nil
	}
	return errors.New("too many failed login attempts")
}

// =============================================================================
// REPL
// =============================================================================

// Run executes the read-eval-print loop until exit or EOF.
func (c *Console) Run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	c.loadHistory(line)
	defer c.saveHistory(line)

	fmt.Println(TitleStyle.Render(banner))
	fmt.Println(DimStyle.Render("Type 'help' for the command reference."))

	for {
		input, err := line.Prompt("bdl> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("Goodbye.")
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		line.AppendHistory(trimmed)

		if done := c.handleConsoleVerb(trimmed); done {
			return nil
		}
	}
}

// handleConsoleVerb executes one input line. It returns true when the console
// should exit.
func (c *Console) handleConsoleVerb(input string) bool {
	switch strings.ToLower(firstWord(input)) {
	case "exit", "quit":
		fmt.Println("Goodbye.")
		return true
	case "help":
		fmt.Println(helpText)
		return false
	case "whoami":
		if u := c.dispatcher.CurrentUser(); u != nil {
			fmt.Printf("%s (permissions: %s)\n", u.Username, strings.Join(u.Permissions, ", "))
		} else {
			fmt.Println("not authenticated")
		}
		return false
	case "verify":
		c.verifyCredential(input)
		return false
	case "logs":
		c.showLogs(input)
		return false
	}

	fmt.Println(RenderResponse(c.dispatcher.Dispatch(input)))
	return false
}

// verifyCredential runs one interactive credential check through the policy
// engine. Failures count against the target's lockout window like any other
// attempt.
func (c *Console) verifyCredential(input string) {
	fields := strings.Fields(input)
	if len(fields) != 2 {
		fmt.Println(RenderResponse("Error: Usage: verify <username>"))
		return
	}
	username := fields[1]

	u := c.store.Get(username)
	if u == nil {
		fmt.Println(RenderResponse("Error: User not found"))
		return
	}

	secret, err := ReadPassword("Secret: ")
	if err != nil {
		fmt.Println(RenderResponse("Error: " + err.Error()))
		return
	}

	ok, err := c.policy.Verify(username, secret, u.AuthType)
	switch {
	case err != nil:
		fmt.Println(RenderResponse("Error: " + err.Error()))
	case ok:
		fmt.Println(RenderResponse("Successfully verified credentials for " + username))
	default:
		fmt.Println(RenderResponse("Error: Verification failed for " + username))
	}
}

// showLogs prints decrypted security log entries for the last N days.
func (c *Console) showLogs(input string) {
	days := 1
	if fields := strings.Fields(input); len(fields) > 1 {
		if _, err := fmt.Sscanf(fields[1], "%d", &days); err != nil || days < 1 {
			fmt.Println(RenderResponse("Error: Invalid day count"))
			return
		}
	}

	to := time.Now()
	from := to.AddDate(0, 0, -(days - 1))
	lines, err := c.logger.ReadRange(from, to)
	if err != nil {
		fmt.Println(RenderResponse("Error: " + err.Error()))
		return
	}
	if len(lines) == 0 {
		fmt.Println(DimStyle.Render("No log entries in range."))
		return
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// =============================================================================
// HISTORY
// =============================================================================

func (c *Console) loadHistory(line *liner.State) {
	if c.historyFile == "" {
		return
	}
	f, err := os.Open(c.historyFile)
	if err != nil {
		return
	}
	defer f.Close()
	line.ReadHistory(f)
}

func (c *Console) saveHistory(line *liner.State) {
	if c.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	line.WriteHistory(f)
}
