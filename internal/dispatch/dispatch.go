// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch routes typed console requests to their handlers.
//
// Every state-changing command requires the ADMIN+ capability on the current
// user. Responses are plain strings for the console to render; the
// "Successfully ..." / "Error: ..." prefixes are part of that interface and
// drive colourisation.
package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/bdl-terminal/internal/audit"
	"github.com/jeranaias/bdl-terminal/internal/command"
	"github.com/jeranaias/bdl-terminal/internal/crypto"
	"github.com/jeranaias/bdl-terminal/internal/forest"
	"github.com/jeranaias/bdl-terminal/internal/policy"
	"github.com/jeranaias/bdl-terminal/internal/store"
)

// AdminPermission is the capability tag that authorises state-changing
// commands.
const AdminPermission = "ADMIN+"

// defaultPhoneNumber stands in until the console grows a prompt for the new
// user's number during a two-factor HATCH.
// TODO: prompt for the phone number interactively instead.
const defaultPhoneNumber = "+1234567890"

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher executes typed requests against the security subsystem.
type Dispatcher struct {
	store  *store.Store
	policy *policy.Engine
	logger *audit.Logger
	tree   *forest.Tree

	mu          sync.Mutex
	currentUser *store.User
	roles       map[string]int
	now         func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New creates a dispatcher over the assembled security subsystem.
func New(s *store.Store, p *policy.Engine, logger *audit.Logger, tree *forest.Tree, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  s,
		policy: p,
		logger: logger,
		tree:   tree,
		roles:  make(map[string]int),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetCurrentUser installs the authenticated console user.
func (d *Dispatcher) SetCurrentUser(u *store.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.currentUser = u
}

// CurrentUser returns the authenticated console user, or nil.
func (d *Dispatcher) CurrentUser() *store.User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentUser
}

// =============================================================================
// DISPATCH
// =============================================================================

// Dispatch parses and executes one console line, returning the response
// string. It never returns an error: every failure is converted into an
// "Error: ..." response.
func (d *Dispatcher) Dispatch(line string) string {
	req, err := command.Parse(line)
	if err != nil {
		return "Error: " + err.Error()
	}

	if !d.hasAdmin() {
		d.logger.Log(d.currentUsername(), audit.EventAdminDenied,
			fmt.Sprintf("Admin check failed for command: %s", verb(req)))
		return "Error: Admin privileges required"
	}
	d.policy.RecordActivity(d.currentUsername())

	switch r := req.(type) {
	case command.Hatch:
		return d.handleHatch(r)
	case command.Drop:
		return d.handleDrop(r)
	case command.Grant:
		return d.handleGrant(r)
	case command.Revoke:
		return d.handleRevoke(r)
	case command.CreateRole:
		return d.handleCreateRole(r)
	case command.CreateBranch:
		return d.handleCreateBranch(r)
	case command.MoveBranch:
		return d.handleMoveBranch(r)
	case command.InitDebug:
		return d.handleInitDebug(r)
	default:
		return "Error: Unknown command"
	}
}

func (d *Dispatcher) hasAdmin() bool {
	u := d.CurrentUser()
	if u == nil {
		return false
	}
	for _, p := range u.Permissions {
		if p == AdminPermission {
			return true
		}
	}
	return false
}

func (d *Dispatcher) currentUsername() string {
	if u := d.CurrentUser(); u != nil {
		return u.Username
	}
	return "anonymous"
}

func verb(req command.Request) string {
	switch req.(type) {
	case command.Hatch:
		return "HATCH"
	case command.Drop:
		return "DROP"
	case command.Grant:
		return "GRANT"
	case command.Revoke:
		return "REVOKE"
	case command.CreateRole:
		return "CREATE ROLE"
	case command.CreateBranch:
		return "CREATE BRANCH"
	case command.MoveBranch:
		return "MOVE BRANCH"
	case command.InitDebug:
		return "INIT DEBUG"
	default:
		return "UNKNOWN"
	}
}

// =============================================================================
// USER LIFECYCLE
// =============================================================================

func (d *Dispatcher) handleHatch(r command.Hatch) string {
	if d.store.Exists(r.Username) {
		return "Error: User already exists: " + r.Username
	}

	var (
		passwordBlob string
		tempPassword string
		authKey      string
		phoneNumber  string
	)

	switch r.AuthType {
	case command.AuthPassword:
		temp, blob, err := d.newTempCredential()
		if err != nil {
			return "Error: " + err.Error()
		}
		tempPassword, passwordBlob = temp, blob

	case command.AuthKey:
		key, err := crypto.GenerateAuthKey()
		if err != nil {
			return "Error: " + err.Error()
		}
		authKey = key

	case command.AuthTwoFactor:
		temp, blob, err := d.newTempCredential()
		if err != nil {
			return "Error: " + err.Error()
		}
		tempPassword, passwordBlob = temp, blob
		phoneNumber = defaultPhoneNumber
		if _, err := d.policy.Initiate2FA(phoneNumber); err != nil {
			return "Error: " + err.Error()
		}
	}

	u := store.User{
		Username:     r.Username,
		Password:     passwordBlob,
		Host:         r.Host,
		Permissions:  []string{"BASE_USER"},
		Locked:       false,
		CreationDate: d.now().Format("2006-01-02T15:04:05"),
		CreatorID:    d.currentUsername(),
		AuthType:     r.AuthType,
		PhoneNumber:  phoneNumber,
		AuthKey:      authKey,
	}
	if err := d.store.Add(u); err != nil {
		return "Error: " + err.Error()
	}

	response := fmt.Sprintf("Successfully created new user: %s with host: %s\nAuthentication type: %s",
		r.Username, r.Host, r.AuthType)
	if authKey != "" {
		response += "\nGenerated auth key (save this, it will only be shown once): \n" + authKey
	}
	if tempPassword != "" {
		response += "\nTemporary password (must be changed on first login): " + tempPassword
	}
	if phoneNumber != "" {
		response += "\nVerification code has been sent to: " + phoneNumber
	}
	return response
}

// newTempCredential generates a temporary password and its Argon2id hash.
// The plaintext is shown to the admin exactly once.
func (d *Dispatcher) newTempCredential() (temp, blob string, err error) {
	temp, err = crypto.GenerateTempPassword()
	if err != nil {
		return "", "", err
	}
	blob, err = crypto.HashPassword(temp)
	if err != nil {
		return "", "", err
	}
	return temp, blob, nil
}

func (d *Dispatcher) handleDrop(r command.Drop) string {
	if !d.store.Exists(r.Username) {
		return "Error: User not found"
	}
	if err := d.store.Remove(r.Username); err != nil {
		return "Error: " + err.Error()
	}

	details := "User dropped"
	if r.Reason != "" {
		details += ": " + r.Reason
	}
	d.logger.Log(r.Username, audit.EventUserDropped, details)
	return "Successfully dropped user: " + r.Username
}

// =============================================================================
// PERMISSIONS
// =============================================================================

func (d *Dispatcher) handleGrant(r command.Grant) string {
	u := d.store.Get(r.Username)
	if u == nil {
		return "Error: User not found"
	}

	perms := append(u.Permissions, r.Permission)
	if err := d.store.SetPermissions(r.Username, perms); err != nil {
		return "Error: " + err.Error()
	}

	d.logger.Log(r.Username, audit.EventPermissionGranted,
		fmt.Sprintf("Granted %s on %s for %d seconds", r.Permission, r.TargetNest, r.DurationSeconds))
	return fmt.Sprintf("Successfully granted %s to %s", r.Permission, r.Username)
}

func (d *Dispatcher) handleRevoke(r command.Revoke) string {
	u := d.store.Get(r.Username)
	if u == nil {
		return "Error: User not found"
	}

	perms := make([]string, 0, len(u.Permissions))
	for _, p := range u.Permissions {
		if p != r.Permission {
			perms = append(perms, p)
		}
	}
	if err := d.store.SetPermissions(r.Username, perms); err != nil {
		return "Error: " + err.Error()
	}

	d.logger.Log(r.Username, audit.EventPermissionRevoked,
		fmt.Sprintf("Revoked %s for %d seconds", r.Permission, r.DurationSeconds))
	return fmt.Sprintf("Successfully revoked %s from %s", r.Permission, r.Username)
}

// =============================================================================
// ROLES AND BRANCHES
// =============================================================================

func (d *Dispatcher) handleCreateRole(r command.CreateRole) string {
	d.mu.Lock()
	d.roles[r.Name] = r.Hierarchy
	d.mu.Unlock()

	d.logger.Log(d.currentUsername(), audit.EventRoleCreated,
		fmt.Sprintf("Created role %s at hierarchy level %d", r.Name, r.Hierarchy))
	return fmt.Sprintf("Successfully created role: %s with hierarchy level %d", r.Name, r.Hierarchy)
}

// Role returns a registered role's hierarchy level.
func (d *Dispatcher) Role(name string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	level, ok := d.roles[name]
	return level, ok
}

func (d *Dispatcher) handleCreateBranch(r command.CreateBranch) string {
	if _, err := d.tree.CreateBranch(r.Name, r.ParentPath, d.currentUsername()); err != nil {
		return "Error: " + err.Error()
	}

	d.logger.Log(d.currentUsername(), audit.EventBranchCreated,
		fmt.Sprintf("Created branch %s in %s", r.Name, r.ParentPath))
	return fmt.Sprintf("Successfully created branch: %s in %s", r.Name, r.ParentPath)
}

func (d *Dispatcher) handleMoveBranch(r command.MoveBranch) string {
	if err := d.tree.MoveBranch(r.Path, r.NewParentPath); err != nil {
		return "Error: " + err.Error()
	}

	d.logger.Log(d.currentUsername(), audit.EventBranchMoved,
		fmt.Sprintf("Moved branch %s to %s", r.Path, r.NewParentPath))
	return fmt.Sprintf("Successfully moved branch: %s to %s", r.Path, r.NewParentPath)
}

// =============================================================================
// DEBUG MODE
// =============================================================================

func (d *Dispatcher) handleInitDebug(r command.InitDebug) string {
	username := d.currentUsername()
	d.logger.Log(username, audit.EventDebugSessionStarted,
		fmt.Sprintf("Debug session started for %d seconds", r.Seconds))

	// The timer's only observable effect is the audit event when it fires.
	time.AfterFunc(time.Duration(r.Seconds)*time.Second, func() {
		d.logger.Log(username, audit.EventDebugSessionEnded, "Debug session ended")
	})

	return fmt.Sprintf("Debug mode initialized for %d seconds", r.Seconds)
}
