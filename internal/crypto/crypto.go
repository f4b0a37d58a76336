// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package crypto provides the cryptographic primitives for the BDL terminal:
//
// - Argon2id password hashing with constant-time verification
// - AES-256-GCM authenticated encryption of at-rest credential fields
// - PBKDF2-SHA-256 per-user key derivation from the master key
// - Generation of bearer auth keys, temporary passwords, and SMS codes
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// SaltSize is the size of per-user and per-hash salts (16 bytes / 128 bits).
const SaltSize = 16

// NonceSize is the size of the AES-GCM nonce (12 bytes / 96 bits).
const NonceSize = 12

// KeySize is the size of an AES-256 key (32 bytes / 256 bits).
const KeySize = 32

// TagSize is the size of the GCM authentication tag (16 bytes / 128 bits).
const TagSize = 16

// PBKDF2Iterations is the iteration count for per-user key derivation.
const PBKDF2Iterations = 65536

// Argon2id parameters for password hashing.
const (
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
)

// TempPasswordLength is the length of generated temporary passwords.
const TempPasswordLength = 12

// tempPasswordAlphabet is the character set for temporary passwords.
const tempPasswordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ" +
	"abcdefghijklmnopqrstuvwxyz" +
	"0123456789" +
	"!@#$%^&*"

// authKeyBits is the modulus size of the RSA key used as a bearer secret.
const authKeyBits = 2048

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidCiphertext indicates a credential blob too short or not base64.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed indicates a GCM open failure (wrong key or tampering).
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")
	// ErrInvalidHash indicates a malformed password hash blob.
	ErrInvalidHash = errors.New("invalid password hash format")
)

// =============================================================================
// HELPERS
// =============================================================================

// ZeroBytes zeros sensitive byte slices to limit key-material lifetime in memory.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// GenerateSalt returns SaltSize cryptographically random bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// GenerateLogKey returns a fresh AES-256 key for the audit log pipeline.
// The key lives for one process lifetime and is never persisted.
func GenerateLogKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate log key: %w", err)
	}
	return key, nil
}

// =============================================================================
// KEY DERIVATION
// =============================================================================

// DeriveUserKey derives a per-user AES-256 key from the master key, the
// username, and the user's salt via PBKDF2-HMAC-SHA-256.
func DeriveUserKey(masterKey, username string, salt []byte) []byte {
	return pbkdf2.Key([]byte(masterKey+username), salt, PBKDF2Iterations, KeySize, sha256.New)
}

// =============================================================================
// FIELD ENCRYPTION
// =============================================================================

// EncryptField encrypts a credential field under the user's derived key.
// The salt is bound as GCM associated data and prepended to the blob so the
// read path can re-derive the key without an external lookup.
// Blob layout: base64(salt(16) | nonce(12) | ciphertext | tag(16)).
func EncryptField(masterKey, username, plaintext string, salt []byte) (string, error) {
	if len(salt) != SaltSize {
		return "", fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}

	key := DeriveUserKey(masterKey, username, salt)
	defer ZeroBytes(key)

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := make([]byte, 0, SaltSize+NonceSize+len(plaintext)+TagSize)
	blob = append(blob, salt...)
	blob = append(blob, nonce...)
	blob = aead.Seal(blob, nonce, []byte(plaintext), salt)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptField reverses EncryptField. The salt is recovered from the blob and
// must match the associated data it was sealed under.
func DecryptField(masterKey, username, blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < SaltSize+NonceSize+TagSize {
		return "", ErrInvalidCiphertext
	}

	salt := raw[:SaltSize]
	nonce := raw[SaltSize : SaltSize+NonceSize]
	ciphertext := raw[SaltSize+NonceSize:]

	key := DeriveUserKey(masterKey, username, salt)
	defer ZeroBytes(key)

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// SealWithKey encrypts plaintext under a raw AES-256 key (no salt prefix).
// Used by the audit pipeline where the key is per-process, not per-user.
// Output: base64(nonce(12) | ciphertext | tag(16)).
func SealWithKey(key []byte, plaintext string) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// OpenWithKey reverses SealWithKey.
func OpenWithKey(key []byte, blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	if len(raw) < NonceSize+TagSize {
		return "", ErrInvalidCiphertext
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, raw[:NonceSize], raw[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}
	return gcm, nil
}

// =============================================================================
// PASSWORD HASHING
// =============================================================================

// HashPassword hashes a password with Argon2id using a fresh random salt.
// Blob layout: base64(salt(16) | hash(32)).
func HashPassword(password string) (string, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	blob := make([]byte, 0, SaltSize+argonKeyLen)
	blob = append(blob, salt...)
	blob = append(blob, hash...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

// VerifyPassword recomputes the Argon2id hash with the salt recovered from the
// blob and compares in constant time.
func VerifyPassword(password, blob string) (bool, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return false, ErrInvalidHash
	}
	if len(raw) != SaltSize+argonKeyLen {
		return false, ErrInvalidHash
	}

	salt := raw[:SaltSize]
	stored := raw[SaltSize:]
	computed := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return subtle.ConstantTimeCompare(stored, computed) == 1, nil
}

// =============================================================================
// AUTH KEYS AND ONE-TIME SECRETS
// =============================================================================

// GenerateAuthKey generates a long high-entropy bearer secret: the base64 DER
// encoding of a fresh 2048-bit RSA private key. Only the string is ever
// stored or compared; the key is never used for signatures.
func GenerateAuthKey() (string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, authKeyBits)
	if err != nil {
		return "", fmt.Errorf("failed to generate auth key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PrivateKey(priv)), nil
}

// VerifyAuthKey compares two bearer secrets in constant time.
func VerifyAuthKey(presented, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}

// GenerateTempPassword returns a 12-character random temporary password drawn
// from upper, lower, digits, and !@#$%^&*.
func GenerateTempPassword() (string, error) {
	return randomString(tempPasswordAlphabet, TempPasswordLength)
}

// GenerateVerificationCode returns a six decimal digit one-time code.
func GenerateVerificationCode() (string, error) {
	return randomString("0123456789", 6)
}

func randomString(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
