// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package policy implements the authentication policy engine: failed-attempt
// lockout, activity tracking with an inactivity sweep, and the three
// auth-mode verification paths.
package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/bdl-terminal/internal/audit"
	"github.com/jeranaias/bdl-terminal/internal/command"
	"github.com/jeranaias/bdl-terminal/internal/crypto"
	"github.com/jeranaias/bdl-terminal/internal/sms"
	"github.com/jeranaias/bdl-terminal/internal/store"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MaxLoginAttempts is the default consecutive-failure count that
	// triggers lockout.
	MaxLoginAttempts = 5

	// LockoutDuration is the default length of a lockout window after the
	// most recent failure.
	LockoutDuration = 30 * time.Minute

	// InactivityThreshold is the default idle time after which the sweep
	// locks a user.
	InactivityThreshold = 24 * time.Hour
)

// smsBodyFormat is the verification message sent to the user's phone.
const smsBodyFormat = "Your BDL verification code is: %s"

// =============================================================================
// ENGINE
// =============================================================================

// attemptRecord tracks consecutive failures for one username.
type attemptRecord struct {
	count       int
	lastFailure time.Time
}

// Engine owns the process-wide authentication state: failed attempts,
// activity timestamps, and pending verification codes. It mutates the
// credential store only through SetLock.
type Engine struct {
	mu     sync.Mutex
	store  *store.Store
	logger *audit.Logger
	sender sms.Sender
	now    func() time.Time

	maxAttempts         int
	lockoutDuration     time.Duration
	inactivityThreshold time.Duration

	attempts map[string]*attemptRecord
	activity map[string]time.Time
	codes    map[string]string // phone number -> pending code
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxLoginAttempts overrides the lockout attempt threshold.
func WithMaxLoginAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithLockoutDuration overrides the lockout window length.
func WithLockoutDuration(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockoutDuration = d
		}
	}
}

// WithInactivityThreshold overrides the idle time before the sweep locks a
// user.
func WithInactivityThreshold(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.inactivityThreshold = d
		}
	}
}

// New creates a policy engine over the given store, logger, and SMS sender.
func New(s *store.Store, logger *audit.Logger, sender sms.Sender, opts ...Option) *Engine {
	e := &Engine{
		store:               s,
		logger:              logger,
		sender:              sender,
		now:                 time.Now,
		maxAttempts:         MaxLoginAttempts,
		lockoutDuration:     LockoutDuration,
		inactivityThreshold: InactivityThreshold,
		attempts:            make(map[string]*attemptRecord),
		activity:            make(map[string]time.Time),
		codes:               make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Verify authenticates one secret presentation. Inside an active lockout
// window it refuses without touching the credentials. A success clears the
// failure record and refreshes activity; a failure increments the counter and
// locks the account at the threshold. Crypto-layer errors are logged and
// re-raised.
func (e *Engine) Verify(username, secret string, mode command.AuthType) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lockedOutLocked(username) {
		e.logger.Log(username, audit.EventLoginAttemptBlocked,
			"User is temporarily locked out due to too many failed attempts")
		return false, nil
	}

	ok, err := e.authenticate(username, secret, mode)
	if err != nil {
		e.logger.Log(username, audit.EventLoginError, fmt.Sprintf("Error during login: %v", err))
		return false, err
	}

	if ok {
		delete(e.attempts, username)
		e.activity[username] = e.now()
		e.logger.Log(username, audit.EventLoginSuccess,
			fmt.Sprintf("Successful login with auth type: %s", mode))
		return true, nil
	}

	e.recordFailureLocked(username)
	e.logger.Log(username, audit.EventLoginFailure,
		fmt.Sprintf("Failed login attempt with auth type: %s", mode))
	return false, nil
}

// authenticate dispatches on the auth mode. An unknown user fails closed, as
// does a mode that differs from the one the user was created with: only the
// registered mode has a real secret on file, and checking any other would
// compare against an empty field.
func (e *Engine) authenticate(username, secret string, mode command.AuthType) (bool, error) {
	u := e.store.Get(username)
	if u == nil {
		return false, nil
	}
	if mode != u.AuthType {
		return false, nil
	}

	switch mode {
	case command.AuthPassword:
		return crypto.VerifyPassword(secret, u.Password)
	case command.AuthKey:
		if u.AuthKey == "" {
			return false, nil
		}
		return crypto.VerifyAuthKey(secret, u.AuthKey), nil
	case command.AuthTwoFactor:
		return e.consumeCodeLocked(u.PhoneNumber, secret), nil
	default:
		return false, fmt.Errorf("unsupported authentication type: %s", mode)
	}
}

// lockedOutLocked reports an active lockout window for the user.
func (e *Engine) lockedOutLocked(username string) bool {
	rec, ok := e.attempts[username]
	if !ok {
		return false
	}
	return rec.count >= e.maxAttempts && e.now().Sub(rec.lastFailure) < e.lockoutDuration
}

func (e *Engine) recordFailureLocked(username string) {
	rec, ok := e.attempts[username]
	if !ok {
		rec = &attemptRecord{}
		e.attempts[username] = rec
	}
	rec.count++
	rec.lastFailure = e.now()

	if rec.count >= e.maxAttempts {
		if err := e.store.SetLock(username, true); err == nil {
			e.logger.Log(username, audit.EventAccountLocked,
				"Account locked due to too many failed attempts")
		}
	}
}

// ClearLockout removes the failed-attempt record for a user. Used by an admin
// unlock alongside clearing the store's locked flag.
func (e *Engine) ClearLockout(username string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.attempts, username)
}

// FailedAttempts returns the current consecutive-failure count.
func (e *Engine) FailedAttempts(username string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.attempts[username]
	if !ok {
		return 0
	}
	return rec.count
}

// =============================================================================
// ACTIVITY
// =============================================================================

// RecordActivity refreshes the user's last-activity timestamp. Called on
// successful authentications and successful reads.
func (e *Engine) RecordActivity(username string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activity[username] = e.now()
}

// LastActivity returns the user's last-activity timestamp.
func (e *Engine) LastActivity(username string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ts, ok := e.activity[username]
	return ts, ok
}

// CheckInactiveUsers locks every user idle longer than the engine's
// inactivity threshold and returns the usernames locked by this sweep.
// Running the sweep again without further activity locks nothing new.
func (e *Engine) CheckInactiveUsers() []string {
	return e.LockInactive(e.inactivityThreshold)
}

// LockInactive is CheckInactiveUsers with a caller-supplied threshold.
func (e *Engine) LockInactive(threshold time.Duration) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var locked []string
	for username, last := range e.activity {
		if now.Sub(last) <= threshold {
			continue
		}
		if e.store.IsLocked(username) {
			continue
		}
		if err := e.store.SetLock(username, true); err != nil {
			e.logger.Log(username, audit.EventLockFailure,
				fmt.Sprintf("Failed to lock inactive account: %v", err))
			continue
		}
		e.logger.Log(username, audit.EventAccountInactive, "Account locked due to inactivity")
		locked = append(locked, username)
	}
	return locked
}

// =============================================================================
// TWO-FACTOR
// =============================================================================

// Initiate2FA generates a six-digit code, stores it against the phone number,
// and dispatches it through the injected sender. The code is returned so the
// console can report delivery; it is cleared on successful verification.
func (e *Engine) Initiate2FA(phone string) (string, error) {
	if !sms.ValidPhoneNumber(phone) {
		return "", fmt.Errorf("invalid phone number: %s", phone)
	}

	code, err := crypto.GenerateVerificationCode()
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.codes[phone] = code
	e.mu.Unlock()

	if err := e.sender.Send(phone, fmt.Sprintf(smsBodyFormat, code)); err != nil {
		e.mu.Lock()
		delete(e.codes, phone)
		e.mu.Unlock()
		return "", fmt.Errorf("failed to send verification code: %w", err)
	}
	return code, nil
}

// consumeCodeLocked checks a presented code against the pending one for the
// phone number, removing it on success. Callers hold e.mu.
func (e *Engine) consumeCodeLocked(phone, presented string) bool {
	pending, ok := e.codes[phone]
	if !ok || pending != presented {
		return false
	}
	delete(e.codes, phone)
	return true
}
