// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package command lexes and validates the BDL console command language and
// turns a raw input line into a typed request.
package command

// =============================================================================
// AUTH TYPES
// =============================================================================

// AuthType is the authentication mode assigned to a user at creation.
type AuthType string

const (
	// AuthPassword authenticates with an Argon2id-hashed password.
	AuthPassword AuthType = "password"
	// AuthKey authenticates with a long-lived bearer secret.
	AuthKey AuthType = "auth_key"
	// AuthTwoFactor authenticates with an SMS verification code.
	AuthTwoFactor AuthType = "2fa"
)

// =============================================================================
// TYPED REQUESTS
// =============================================================================

// Request is one of the closed set of typed console requests.
type Request interface {
	isRequest()
}

// Hatch creates a new user: HATCH NEW CHICK 'username'@'host' RECOGNITION 'auth_type'.
type Hatch struct {
	Username string
	Host     string
	AuthType AuthType
}

// Drop removes a user: DROP CHICK 'username' ['reason'].
type Drop struct {
	Username string
	Reason   string
}

// Grant adds a permission: GRANT CHICK username PERMISSION permission_type TO nest DURATION duration.
type Grant struct {
	Username        string
	Permission      string
	TargetNest      string
	DurationSeconds int
}

// Revoke removes a permission: REVOKE PERMISSION permission_type FROM 'username' DURATION duration.
type Revoke struct {
	Permission      string
	Username        string
	DurationSeconds int
}

// CreateRole registers a named role: CREATE ROLE 'role_name' hierarchy_number.
type CreateRole struct {
	Name      string
	Hierarchy int
}

// CreateBranch adds a branch to the forest: CREATE BRANCH 'branch_name' IN 'parent_path'.
type CreateBranch struct {
	Name       string
	ParentPath string
}

// MoveBranch reparents a branch: MOVE BRANCH 'branch_path' TO 'new_parent_path'.
type MoveBranch struct {
	Path          string
	NewParentPath string
}

// InitDebug starts a timed debug session: INIT DEBUG USER [timeLength].
type InitDebug struct {
	Seconds int
}

func (Hatch) isRequest()        {}
func (Drop) isRequest()         {}
func (Grant) isRequest()        {}
func (Revoke) isRequest()       {}
func (CreateRole) isRequest()   {}
func (CreateBranch) isRequest() {}
func (MoveBranch) isRequest()   {}
func (InitDebug) isRequest()    {}
