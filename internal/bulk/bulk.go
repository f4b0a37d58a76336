// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bulk runs batched security operations on a fixed-size worker pool:
// bulk user creation and updates, key-rotation sweeps, and the inactive-user
// sweep.
package bulk

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/bdl-terminal/internal/audit"
	"github.com/jeranaias/bdl-terminal/internal/policy"
	"github.com/jeranaias/bdl-terminal/internal/store"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// BatchSize is the number of users processed per pool task.
	BatchSize = 100

	// shutdownTimeout bounds the graceful wait for in-flight batches.
	shutdownTimeout = 60 * time.Second

	// systemUser attributes batch-level failures in the audit log.
	systemUser = "SYSTEM"
)

// =============================================================================
// WORKER
// =============================================================================

// Worker owns the pool. One Worker is constructed at startup and shut down on
// exit; Shutdown also closes the audit logger it was handed.
type Worker struct {
	store   *store.Store
	policy  *policy.Engine
	logger  *audit.Logger
	sem     chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// New creates a worker pool sized to the logical CPU count.
func New(s *store.Store, p *policy.Engine, logger *audit.Logger) *Worker {
	return NewWithPoolSize(s, p, logger, 0)
}

// NewWithPoolSize creates a worker with an explicit pool size. A size of zero
// or less means the logical CPU count.
func NewWithPoolSize(s *store.Store, p *policy.Engine, logger *audit.Logger, size int) *Worker {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Worker{
		store:  s,
		policy: p,
		logger: logger,
		sem:    make(chan struct{}, size),
	}
}

// =============================================================================
// BULK OPERATIONS
// =============================================================================

// BulkAdd inserts users in batches of 100, batches running concurrently on
// the pool. Per-user failures are audit-logged and skipped; the successfully
// added users are returned. Best-effort: one bad user never fails its batch.
func (w *Worker) BulkAdd(users []store.User) []store.User {
	return w.processBatches(users, audit.EventBulkAddFailure, w.addOne)
}

// BulkUpdate mirrors BulkAdd for updates. Updating a missing username is a
// per-user failure.
func (w *Worker) BulkUpdate(users []store.User) []store.User {
	return w.processBatches(users, audit.EventBulkUpdateFailure, w.updateOne)
}

func (w *Worker) addOne(u store.User) error {
	if err := w.store.Add(u); err != nil {
		return err
	}
	w.logger.Log(u.Username, audit.EventUserAdded, "User added with encrypted credentials")
	return nil
}

func (w *Worker) updateOne(u store.User) error {
	if !w.store.Exists(u.Username) {
		return fmt.Errorf("User not found: %s", u.Username)
	}
	if err := w.store.Update(u.Username, u); err != nil {
		return err
	}
	w.logger.Log(u.Username, audit.EventUserUpdated, "User updated with re-encrypted credentials")
	return nil
}

// processBatches fans batches out to the pool and collects the survivors.
func (w *Worker) processBatches(users []store.User, batchFailureEvent string, op func(store.User) error) []store.User {
	if w.stopped.Load() {
		w.logger.Log(systemUser, batchFailureEvent, "Worker is shut down, batch rejected")
		return nil
	}

	var (
		mu        sync.Mutex
		processed []store.User
		batchWG   sync.WaitGroup
	)

	for start := 0; start < len(users); start += BatchSize {
		end := start + BatchSize
		if end > len(users) {
			end = len(users)
		}
		batch := users[start:end]
		batchID := uuid.NewString()

		batchWG.Add(1)
		w.wg.Add(1)
		w.sem <- struct{}{}
		go func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Log(systemUser, batchFailureEvent,
						fmt.Sprintf("Failed to process batch %s: %v", batchID, r))
				}
				<-w.sem
				w.wg.Done()
				batchWG.Done()
			}()

			for _, u := range batch {
				if err := op(u); err != nil {
					w.logger.Log(u.Username, audit.EventProcessingFailure,
						fmt.Sprintf("Failed to process user in batch %s: %v", batchID, err))
					continue
				}
				mu.Lock()
				processed = append(processed, u)
				mu.Unlock()
			}
		}()
	}

	batchWG.Wait()
	return processed
}

// =============================================================================
// SWEEPS
// =============================================================================

// RotateKeys re-encrypts every user's credentials under a fresh per-user key.
// Per-user failures are logged and the sweep continues.
func (w *Worker) RotateKeys() {
	for _, username := range w.store.Usernames() {
		if err := w.store.RotateKey(username); err != nil {
			w.logger.Log(username, audit.EventKeyRotationFailure,
				fmt.Sprintf("Failed to rotate user keys: %v", err))
			continue
		}
		w.logger.Log(username, audit.EventKeyRotation, "User encryption keys rotated successfully")
	}
}

// LockInactiveUsers runs the policy engine's inactivity sweep with a
// caller-supplied threshold and returns the newly locked usernames.
func (w *Worker) LockInactiveUsers(threshold time.Duration) []string {
	return w.policy.LockInactive(threshold)
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Shutdown refuses new batches, waits up to 60 seconds for in-flight work,
// then abandons the wait and closes the audit logger.
func (w *Worker) Shutdown() {
	w.stopped.Store(true)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
	}

	w.logger.Close()
}
