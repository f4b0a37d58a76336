// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bulk

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/bdl-terminal/internal/audit"
	"github.com/jeranaias/bdl-terminal/internal/command"
	"github.com/jeranaias/bdl-terminal/internal/policy"
	"github.com/jeranaias/bdl-terminal/internal/sms"
	"github.com/jeranaias/bdl-terminal/internal/store"
)

func newTestWorker(t *testing.T) (*Worker, *store.Store, *audit.Logger) {
	t.Helper()
	logger, err := audit.New(t.TempDir())
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	s := store.New("test-master-key", logger)
	p := policy.New(s, logger, sms.NopSender{})
	w := NewWithPoolSize(s, p, logger, 2)
	t.Cleanup(func() { logger.Close() })
	return w, s, logger
}

func makeUsers(n int) []store.User {
	users := make([]store.User, n)
	for i := range users {
		users[i] = store.User{
			Username:    fmt.Sprintf("user%03d", i),
			Password:    "hash-blob",
			Host:        "localhost",
			Permissions: []string{"BASE_USER"},
			AuthType:    command.AuthPassword,
		}
	}
	return users
}

func TestBulkAdd(t *testing.T) {
	w, s, _ := newTestWorker(t)

	// 250 users crosses two batch boundaries.
	added := w.BulkAdd(makeUsers(250))
	if len(added) != 250 {
		t.Fatalf("added %d users, want 250", len(added))
	}
	if got := len(s.Usernames()); got != 250 {
		t.Errorf("store holds %d users, want 250", got)
	}
}

func TestBulkAddBestEffort(t *testing.T) {
	w, s, logger := newTestWorker(t)

	users := makeUsers(10)
	users[4].Username = "" // malformed

	added := w.BulkAdd(users)
	if len(added) != 9 {
		t.Fatalf("added %d users, want 9", len(added))
	}
	if s.Exists("") {
		t.Error("malformed user was stored")
	}

	logger.Close()
	lines, err := logger.ReadRange(time.Now(), time.Now())
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	failures := 0
	for _, line := range lines {
		if strings.Contains(line, audit.EventProcessingFailure) {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("got %d per-user failure events, want 1", failures)
	}
}

func TestBulkUpdate(t *testing.T) {
	w, s, _ := newTestWorker(t)

	w.BulkAdd(makeUsers(3))

	updates := makeUsers(3)
	for i := range updates {
		updates[i].Host = "updated-host"
	}
	// One update targets a user that does not exist.
	updates = append(updates, store.User{Username: "ghost", Password: "x", Host: "y", AuthType: command.AuthPassword})

	updated := w.BulkUpdate(updates)
	if len(updated) != 3 {
		t.Fatalf("updated %d users, want 3", len(updated))
	}
	if got := s.Get("user001"); got == nil || got.Host != "updated-host" {
		t.Errorf("update not applied: %+v", got)
	}
	if s.Exists("ghost") {
		t.Error("missing user was created by update")
	}
}

func TestRotateKeys(t *testing.T) {
	w, s, _ := newTestWorker(t)

	w.BulkAdd(makeUsers(5))
	before := make(map[string][]byte)
	for _, name := range s.Usernames() {
		before[name] = s.Salt(name)
	}

	w.RotateKeys()

	for name, oldSalt := range before {
		if string(oldSalt) == string(s.Salt(name)) {
			t.Errorf("salt for %s unchanged after rotation", name)
		}
		if got := s.Get(name); got == nil || got.Password != "hash-blob" {
			t.Errorf("plaintext for %s broken by rotation", name)
		}
	}
}

func TestLockInactiveUsers(t *testing.T) {
	logger, err := audit.New(t.TempDir())
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	t.Cleanup(logger.Close)

	s := store.New("test-master-key", logger)
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	p := policy.New(s, logger, sms.NopSender{}, policy.WithClock(func() time.Time { return now }))
	w := NewWithPoolSize(s, p, logger, 1)

	w.BulkAdd(makeUsers(2))
	p.RecordActivity("user000")
	p.RecordActivity("user001")

	now = now.Add(2 * time.Hour)
	locked := w.LockInactiveUsers(time.Hour)
	if len(locked) != 2 {
		t.Errorf("locked %v, want both users", locked)
	}
	if !s.IsLocked("user000") || !s.IsLocked("user001") {
		t.Error("lock flags not set")
	}
}

func TestShutdownRejectsNewWork(t *testing.T) {
	w, _, _ := newTestWorker(t)

	w.Shutdown()
	if added := w.BulkAdd(makeUsers(1)); added != nil {
		t.Errorf("post-shutdown BulkAdd returned %v, want nil", added)
	}
}
