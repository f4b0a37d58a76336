// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides the encrypted security event log pipeline.
//
// Events are formatted, AES-256-GCM encrypted under a per-process log key,
// and pushed through a bounded queue to a single background worker that
// appends them durably to a daily rolling file. Pipeline failures are never
// surfaced to the caller; they are rerouted to a plaintext error file.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/bdl-terminal/internal/crypto"
)

// =============================================================================
// EVENT NAMES
// =============================================================================

// Security event verbs recorded in the audit log.
const (
	EventUserCreated         = "USER_CREATED"
	EventUserAccessError     = "USER_ACCESS_ERROR"
	EventLoginAttemptBlocked = "LOGIN_ATTEMPT_BLOCKED"
	EventLoginSuccess        = "LOGIN_SUCCESS"
	EventLoginFailure        = "LOGIN_FAILURE"
	EventLoginError          = "LOGIN_ERROR"
	EventAccountLocked       = "ACCOUNT_LOCKED"
	EventAccountInactive     = "ACCOUNT_INACTIVE"
	EventBulkAddFailure      = "BULK_ADD_FAILURE"
	EventBulkUpdateFailure   = "BULK_UPDATE_FAILURE"
	EventProcessingFailure   = "PROCESSING_FAILURE"
	EventKeyRotation         = "KEY_ROTATION"
	EventKeyRotationFailure  = "KEY_ROTATION_FAILURE"
	EventUserAdded           = "USER_ADDED"
	EventUserUpdated         = "USER_UPDATED"
	EventUserLocked          = "USER_LOCKED"
	EventLockFailure         = "LOCK_FAILURE"
	EventAdminDenied         = "ADMIN_DENIED"
	EventUserDropped         = "USER_DROPPED"
	EventPermissionGranted   = "PERMISSION_GRANTED"
	EventPermissionRevoked   = "PERMISSION_REVOKED"
	EventRoleCreated         = "ROLE_CREATED"
	EventBranchCreated       = "BRANCH_CREATED"
	EventBranchMoved         = "BRANCH_MOVED"
	EventDebugSessionStarted = "DEBUG_SESSION_STARTED"
	EventDebugSessionEnded   = "DEBUG_SESSION_ENDED"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// logFilePrefix names the daily files: bdl_security_<YYYY-MM-DD>.log.
	logFilePrefix = "bdl_security_"
	logFileSuffix = ".log"

	// errorFileName receives plaintext fallback diagnostics.
	errorFileName = "security_logger_errors.log"

	// maxRetryAttempts bounds both enqueue and file-write retries.
	maxRetryAttempts = 3

	// defaultRetryDelay is the back-off between retries.
	defaultRetryDelay = 1 * time.Second

	// pollInterval is the worker's sleep when the queue is empty.
	pollInterval = 100 * time.Millisecond

	// defaultQueueCapacity bounds the in-memory event queue.
	defaultQueueCapacity = 1024

	// closeJoinTimeout bounds the wait for the worker on Close.
	closeJoinTimeout = 5 * time.Second

	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05"
)

// =============================================================================
// LOGGER
// =============================================================================

// Logger is the audit log pipeline. One Logger owns its queue, its log key,
// and its background worker.
type Logger struct {
	dir        string
	key        []byte
	queue      chan string
	running    atomic.Bool
	workerDone chan struct{}
	closeOnce  sync.Once
	retryDelay time.Duration
	now        func() time.Time

	// errMu serialises writes to the plaintext error file, which can be
	// reached from any producer goroutine as well as the worker.
	errMu sync.Mutex
}

// Option configures a Logger.
type Option func(*Logger)

// WithQueueCapacity overrides the bounded queue capacity.
func WithQueueCapacity(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.queue = make(chan string, n)
		}
	}
}

// WithRetryDelay overrides the retry back-off (used by tests).
func WithRetryDelay(d time.Duration) Option {
	return func(l *Logger) { l.retryDelay = d }
}

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New creates a Logger writing under dir, generates the per-process log key,
// and starts the background worker. Logs encrypted by this Logger are only
// readable through the same instance; the key is never persisted.
func New(dir string, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	key, err := crypto.GenerateLogKey()
	if err != nil {
		return nil, err
	}

	l := &Logger{
		dir:        dir,
		key:        key,
		queue:      make(chan string, defaultQueueCapacity),
		workerDone: make(chan struct{}),
		retryDelay: defaultRetryDelay,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.running.Store(true)
	go l.worker()

	return l, nil
}

// =============================================================================
// ENQUEUE PATH
// =============================================================================

// Log formats, encrypts, and enqueues one security event. It never returns an
// error: a full queue is retried with back-off and finally rerouted to the
// error file, losing the event but acknowledging the caller.
func (l *Logger) Log(username, action, details string) {
	line := fmt.Sprintf("[%s] User: %s, Action: %s, Details: %s",
		l.now().Format(timestampLayout), username, action, details)

	record, err := crypto.SealWithKey(l.key, line)
	if err != nil {
		l.writeErrorLine(fmt.Sprintf("failed to encrypt log entry: %v", err))
		return
	}

	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		select {
		case l.queue <- record:
			return
		default:
			time.Sleep(l.retryDelay)
		}
	}
	l.writeErrorLine(fmt.Sprintf("queue full, dropped event for user %s action %s", username, action))
}

// =============================================================================
// WORKER
// =============================================================================

// worker drains the queue until the logger is stopped and the queue is empty.
func (l *Logger) worker() {
	defer close(l.workerDone)

	for {
		select {
		case record := <-l.queue:
			l.writeRecord(record)
		default:
			if !l.running.Load() {
				return
			}
			time.Sleep(pollInterval)
		}
	}
}

// writeRecord appends one encrypted record to today's file with a durable
// write, retrying on failure and falling back to the error file.
func (l *Logger) writeRecord(record string) {
	path := l.currentLogPath()

	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		if lastErr = appendLine(path, record, os.O_SYNC); lastErr == nil {
			return
		}
		time.Sleep(l.retryDelay)
	}
	l.writeErrorLine(fmt.Sprintf("failed to write log entry after %d attempts: %v", maxRetryAttempts, lastErr))
}

// currentLogPath computes today's filename fresh on every write; day rollover
// needs no extra machinery.
func (l *Logger) currentLogPath() string {
	name := logFilePrefix + l.now().Format(dateLayout) + logFileSuffix
	return filepath.Join(l.dir, name)
}

func appendLine(path, line string, extraFlags int) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY|extraFlags, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString(line + "\n"); err != nil {
		return err
	}
	return nil
}

// writeErrorLine appends a plaintext diagnostic to the error file. Failures
// here have nowhere left to go and are discarded.
func (l *Logger) writeErrorLine(msg string) {
	l.errMu.Lock()
	defer l.errMu.Unlock()

	line := fmt.Sprintf("[%s] Error: %s", l.now().Format(timestampLayout), msg)
	_ = appendLine(filepath.Join(l.dir, errorFileName), line, 0)
}

// =============================================================================
// QUERY
// =============================================================================

// ReadRange returns the decrypted log lines from files whose embedded date
// lies within [from, to] inclusive (date precision). A line that fails to
// decrypt is replaced with an error marker and processing continues.
func (l *Logger) ReadRange(from, to time.Time) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list log directory: %w", err)
	}

	fromDay := from.Format(dateLayout)
	toDay := to.Format(dateLayout)

	var lines []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logFilePrefix) || !strings.HasSuffix(name, logFileSuffix) {
			continue
		}
		day := strings.TrimSuffix(strings.TrimPrefix(name, logFilePrefix), logFileSuffix)
		if day < fromDay || day > toDay {
			continue
		}

		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read log file %s: %w", name, err)
		}
		for _, record := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			if record == "" {
				continue
			}
			plain, err := crypto.OpenWithKey(l.key, record)
			if err != nil {
				lines = append(lines, fmt.Sprintf("Error decrypting log entry: %v", err))
				continue
			}
			lines = append(lines, plain)
		}
	}
	return lines, nil
}

// =============================================================================
// SHUTDOWN
// =============================================================================

// Close stops the worker, waits up to 5 seconds for it to finish, then drains
// any remaining queue entries synchronously. A second Close is a no-op.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		l.running.Store(false)

		select {
		case <-l.workerDone:
		case <-time.After(closeJoinTimeout):
		}

		// Drain whatever the worker did not get to.
		for {
			select {
			case record := <-l.queue:
				l.writeRecord(record)
			default:
				return
			}
		}
	})
}
