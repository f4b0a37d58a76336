// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/bdl-terminal/internal/audit"
	"github.com/jeranaias/bdl-terminal/internal/command"
	"github.com/jeranaias/bdl-terminal/internal/crypto"
	"github.com/jeranaias/bdl-terminal/internal/forest"
	"github.com/jeranaias/bdl-terminal/internal/policy"
	"github.com/jeranaias/bdl-terminal/internal/store"
)

type fakeSender struct {
	sent []string
}

func (f *fakeSender) Send(to, body string) error {
	f.sent = append(f.sent, to+": "+body)
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *store.Store) {
	t.Helper()

	logger, err := audit.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(logger.Close)

	s := store.New("test-master-key", logger)
	p := policy.New(s, logger, &fakeSender{})
	d := New(s, p, logger, forest.NewTree("oak", "admin"))
	d.SetCurrentUser(&store.User{
		Username:    "admin",
		Permissions: []string{"BASE_USER", AdminPermission},
	})
	return d, s
}

func TestHatchPasswordUser(t *testing.T) {
	d, s := newTestDispatcher(t)

	resp := d.Dispatch("HATCH NEW CHICK 'alice'@'localhost' RECOGNITION 'password'")

	require.Contains(t, resp, "Successfully created new user: alice with host: localhost")
	require.Contains(t, resp, "Authentication type: password")
	require.Contains(t, resp, "Temporary password (must be changed on first login): ")

	_, after, ok := strings.Cut(resp, "Temporary password (must be changed on first login): ")
	require.True(t, ok)
	temp := strings.TrimSpace(after)
	require.Len(t, temp, crypto.TempPasswordLength)

	u := s.Get("alice")
	require.NotNil(t, u)
	require.False(t, u.Locked)
	require.Equal(t, []string{"BASE_USER"}, u.Permissions)
	require.Equal(t, command.AuthPassword, u.AuthType)
	require.Equal(t, "admin", u.CreatorID)

	// The stored blob is the hash of the displayed password, not the
	// plaintext.
	require.NotEqual(t, temp, u.Password)
	ok, err := crypto.VerifyPassword(temp, u.Password)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHatchAuthKeyUser(t *testing.T) {
	d, s := newTestDispatcher(t)

	resp := d.Dispatch("HATCH NEW CHICK 'bob'@'10.0.0.5' RECOGNITION 'auth_key'")

	require.Contains(t, resp, "Successfully created new user: bob with host: 10.0.0.5")
	require.Contains(t, resp, "Generated auth key (save this, it will only be shown once): ")

	_, after, ok := strings.Cut(resp, "Generated auth key (save this, it will only be shown once): \n")
	require.True(t, ok)
	key := strings.TrimSpace(after)
	require.NotEmpty(t, key)

	u := s.Get("bob")
	require.NotNil(t, u)
	require.Equal(t, key, u.AuthKey)
	require.True(t, crypto.VerifyAuthKey(key, u.AuthKey))
}

func TestHatchTwoFactorUser(t *testing.T) {
	d, s := newTestDispatcher(t)

	resp := d.Dispatch("HATCH NEW CHICK 'carol'@'localhost' RECOGNITION '2fa'")

	require.Contains(t, resp, "Authentication type: 2fa")
	require.Contains(t, resp, "Temporary password (must be changed on first login): ")
	require.Contains(t, resp, "Verification code has been sent to: "+defaultPhoneNumber)

	u := s.Get("carol")
	require.NotNil(t, u)
	require.Equal(t, defaultPhoneNumber, u.PhoneNumber)
}

func TestHatchDuplicateUser(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Dispatch("HATCH NEW CHICK 'alice'@'localhost' RECOGNITION 'password'")
	resp := d.Dispatch("HATCH NEW CHICK 'alice'@'localhost' RECOGNITION 'password'")
	require.Equal(t, "Error: User already exists: alice", resp)
}

func TestDropUser(t *testing.T) {
	d, s := newTestDispatcher(t)

	d.Dispatch("HATCH NEW CHICK 'alice'@'localhost' RECOGNITION 'password'")
	resp := d.Dispatch("DROP CHICK 'alice'")
	require.Equal(t, "Successfully dropped user: alice", resp)
	require.Nil(t, s.Get("alice"))

	resp = d.Dispatch("DROP CHICK 'alice'")
	require.Equal(t, "Error: User not found", resp)
}

func TestGrantAndRevoke(t *testing.T) {
	d, s := newTestDispatcher(t)

	resp := d.Dispatch("GRANT CHICK 'ghost' PERMISSION 'FLY' TO 'north_nest' DURATION 3600")
	require.Equal(t, "Error: User not found", resp)

	d.Dispatch("HATCH NEW CHICK 'alice'@'localhost' RECOGNITION 'password'")

	resp = d.Dispatch("GRANT CHICK 'alice' PERMISSION 'FLY' TO 'north_nest' DURATION 3600")
	require.Equal(t, "Successfully granted FLY to alice", resp)
	require.Equal(t, []string{"BASE_USER", "FLY"}, s.Get("alice").Permissions)

	resp = d.Dispatch("REVOKE PERMISSION 'FLY' FROM 'alice' DURATION 0")
	require.Equal(t, "Successfully revoked FLY from alice", resp)
	require.Equal(t, []string{"BASE_USER"}, s.Get("alice").Permissions)
}

func TestCreateRole(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch("CREATE ROLE 'keeper' 3")
	require.Equal(t, "Successfully created role: keeper with hierarchy level 3", resp)

	level, ok := d.Role("keeper")
	require.True(t, ok)
	require.Equal(t, 3, level)
}

func TestBranchCommands(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch("CREATE BRANCH 'spring' IN '/'")
	require.Equal(t, "Successfully created branch: spring in /", resp)

	resp = d.Dispatch("CREATE BRANCH 'archive' IN '/'")
	require.Equal(t, "Successfully created branch: archive in /", resp)

	resp = d.Dispatch("MOVE BRANCH '/oak/spring' TO '/oak/archive'")
	require.Equal(t, "Successfully moved branch: /oak/spring to /oak/archive", resp)

	resp = d.Dispatch("MOVE BRANCH '/oak/ghost' TO '/'")
	require.True(t, strings.HasPrefix(resp, "Error: "))
}

func TestInitDebug(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch("INIT DEBUG USER 30")
	require.Equal(t, "Debug mode initialized for 30 seconds", resp)

	resp = d.Dispatch("INIT DEBUG USER")
	require.Equal(t, "Debug mode initialized for 60 seconds", resp)
}

func TestAdminRequired(t *testing.T) {
	d, s := newTestDispatcher(t)

	d.SetCurrentUser(&store.User{Username: "intern", Permissions: []string{"BASE_USER"}})
	resp := d.Dispatch("INIT DEBUG USER 30")
	require.Equal(t, "Error: Admin privileges required", resp)

	resp = d.Dispatch("HATCH NEW CHICK 'eve'@'localhost' RECOGNITION 'password'")
	require.Equal(t, "Error: Admin privileges required", resp)
	require.False(t, s.Exists("eve"))

	d.SetCurrentUser(nil)
	resp = d.Dispatch("DROP CHICK 'eve'")
	require.Equal(t, "Error: Admin privileges required", resp)
}

func TestSyntaxErrorsSurfaceWithPrefix(t *testing.T) {
	d, _ := newTestDispatcher(t)

	resp := d.Dispatch("HATCH NEW CHICK alice RECOGNITION 'password'")
	require.Equal(t, "Error: Invalid username@host format. Expected: 'username'@'host'", resp)

	resp = d.Dispatch("PREEN FEATHERS")
	require.Equal(t, "Error: Unknown command", resp)

	resp = d.Dispatch("   ")
	require.Equal(t, "Error: Empty command", resp)
}
