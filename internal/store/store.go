// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store owns the credential-bearing user records.
//
// Sensitive fields (password hash, host) are held only in encrypted form,
// sealed under a per-user key derived from the master key and a per-user
// salt. Plaintext views are assembled transiently on read and never stored.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeranaias/bdl-terminal/internal/audit"
	"github.com/jeranaias/bdl-terminal/internal/command"
	"github.com/jeranaias/bdl-terminal/internal/crypto"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUserExists indicates an add for a username already present.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound indicates an operation on a missing username.
	ErrUserNotFound = errors.New("user not found")
)

// =============================================================================
// USER
// =============================================================================

// User is the plaintext view of a user record. Password holds the Argon2id
// hash blob (or the bearer secret is in AuthKey, depending on AuthType);
// views returned by Get are transient and safe for the caller to discard.
type User struct {
	Username     string
	Password     string
	Host         string
	Permissions  []string
	Locked       bool
	CreationDate string
	CreatorID    string
	AuthType     command.AuthType
	PhoneNumber  string
	AuthKey      string
}

// =============================================================================
// CREDENTIAL STORE
// =============================================================================

// Store maps usernames to encrypted credential records. All maps are guarded
// by one lock so that multi-map mutations are externally atomic.
type Store struct {
	mu        sync.RWMutex
	masterKey string
	logger    *audit.Logger

	// Parallel maps, keyed by username. An entry exists in all of them or
	// in none of them.
	users         map[string]User   // non-sensitive fields only
	passwords     map[string]string // encrypted blobs
	hosts         map[string]string // encrypted blobs
	permissions   map[string][]string
	locks         map[string]bool
	creationDates map[string]string
	creatorIDs    map[string]string
	salts         map[string][]byte
}

// New creates an empty credential store bound to the process master key.
func New(masterKey string, logger *audit.Logger) *Store {
	return &Store{
		masterKey:     masterKey,
		logger:        logger,
		users:         make(map[string]User),
		passwords:     make(map[string]string),
		hosts:         make(map[string]string),
		permissions:   make(map[string][]string),
		locks:         make(map[string]bool),
		creationDates: make(map[string]string),
		creatorIDs:    make(map[string]string),
		salts:         make(map[string][]byte),
	}
}

// =============================================================================
// WRITE PATH
// =============================================================================

// Add inserts a new user. The insertion is all-or-nothing: every encryption
// runs before any map is touched, so a crypto failure leaves the store
// unchanged.
func (s *Store) Add(u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(u)
}

func (s *Store) addLocked(u User) error {
	if u.Username == "" {
		return fmt.Errorf("username must not be empty")
	}
	if _, ok := s.users[u.Username]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, u.Username)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}

	encPassword, err := crypto.EncryptField(s.masterKey, u.Username, u.Password, salt)
	if err != nil {
		return fmt.Errorf("failed to encrypt password: %w", err)
	}
	encHost, err := crypto.EncryptField(s.masterKey, u.Username, u.Host, salt)
	if err != nil {
		return fmt.Errorf("failed to encrypt host: %w", err)
	}

	view := u
	view.Password = ""
	view.Host = ""
	view.Permissions = append([]string(nil), u.Permissions...)

	s.users[u.Username] = view
	s.passwords[u.Username] = encPassword
	s.hosts[u.Username] = encHost
	s.permissions[u.Username] = append([]string(nil), u.Permissions...)
	s.locks[u.Username] = u.Locked
	s.creationDates[u.Username] = u.CreationDate
	s.creatorIDs[u.Username] = u.CreatorID
	s.salts[u.Username] = salt

	s.logger.Log(u.Username, audit.EventUserCreated, "New user created with encrypted credentials")
	return nil
}

// =============================================================================
// READ PATH
// =============================================================================

// Get assembles a transient plaintext view of the user, or nil when the user
// is absent. Decryption failures are swallowed: the caller sees absent and
// the failure is audit-logged, so a prober cannot distinguish a missing user
// from a corrupted record.
func (s *Store) Get(username string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(username)
}

func (s *Store) getLocked(username string) *User {
	view, ok := s.users[username]
	if !ok {
		return nil
	}

	password, err := crypto.DecryptField(s.masterKey, username, s.passwords[username])
	if err != nil {
		s.logger.Log(username, audit.EventUserAccessError, fmt.Sprintf("Error accessing user data: %v", err))
		return nil
	}
	host, err := crypto.DecryptField(s.masterKey, username, s.hosts[username])
	if err != nil {
		s.logger.Log(username, audit.EventUserAccessError, fmt.Sprintf("Error accessing user data: %v", err))
		return nil
	}

	u := view
	u.Password = password
	u.Host = host
	u.Permissions = append([]string(nil), s.permissions[username]...)
	u.Locked = s.locks[username]
	u.CreationDate = s.creationDates[username]
	u.CreatorID = s.creatorIDs[username]
	return &u
}

// Exists reports whether the username is present, without touching crypto.
func (s *Store) Exists(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok
}

// Usernames returns a snapshot of all usernames.
func (s *Store) Usernames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	return names
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Remove deletes a user from every map.
func (s *Store) Remove(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	s.removeLocked(username)
	return nil
}

func (s *Store) removeLocked(username string) {
	delete(s.users, username)
	delete(s.passwords, username)
	delete(s.hosts, username)
	delete(s.permissions, username)
	delete(s.locks, username)
	delete(s.creationDates, username)
	delete(s.creatorIDs, username)
	delete(s.salts, username)
}

// Update replaces a user record, regenerating salt and nonces. Remove and
// re-add run under one exclusive lock, so concurrent readers observe either
// absent or the new record, never stale data.
func (s *Store) Update(username string, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	s.removeLocked(username)
	return s.addLocked(u)
}

// SetPermissions replaces the user's permission list.
func (s *Store) SetPermissions(username string, perms []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	s.permissions[username] = append([]string(nil), perms...)
	return nil
}

// SetLock flips the user's locked flag. This is the only mutation the policy
// engine performs on the store.
func (s *Store) SetLock(username string, locked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	s.locks[username] = locked
	return nil
}

// IsLocked reports the user's locked flag.
func (s *Store) IsLocked(username string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locks[username]
}

// =============================================================================
// KEY ROTATION
// =============================================================================

// RotateKey re-encrypts a user's sensitive fields under a fresh salt, which
// rotates the derived per-user key. The decrypt-reencrypt pair runs under the
// exclusive lock; a failure before the final map writes leaves the old
// record intact.
func (s *Store) RotateKey(username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}

	password, err := crypto.DecryptField(s.masterKey, username, s.passwords[username])
	if err != nil {
		return fmt.Errorf("failed to decrypt password for rotation: %w", err)
	}
	host, err := crypto.DecryptField(s.masterKey, username, s.hosts[username])
	if err != nil {
		return fmt.Errorf("failed to decrypt host for rotation: %w", err)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	encPassword, err := crypto.EncryptField(s.masterKey, username, password, salt)
	if err != nil {
		return fmt.Errorf("failed to re-encrypt password: %w", err)
	}
	encHost, err := crypto.EncryptField(s.masterKey, username, host, salt)
	if err != nil {
		return fmt.Errorf("failed to re-encrypt host: %w", err)
	}

	s.passwords[username] = encPassword
	s.hosts[username] = encHost
	s.salts[username] = salt
	return nil
}

// Salt returns a copy of the user's salt, or nil when absent. Used by tests
// asserting salt regeneration and uniqueness.
func (s *Store) Salt(username string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	salt, ok := s.salts[username]
	if !ok {
		return nil
	}
	return append([]byte(nil), salt...)
}
