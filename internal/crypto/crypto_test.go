// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncryptFieldRoundTrip(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}

	blob, err := EncryptField("master", "alice", "s3cret-host", salt)
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}

	got, err := DecryptField("master", "alice", blob)
	if err != nil {
		t.Fatalf("DecryptField: %v", err)
	}
	if got != "s3cret-host" {
		t.Errorf("round trip = %q, want %q", got, "s3cret-host")
	}
}

func TestEncryptFieldDoesNotLeakPlaintext(t *testing.T) {
	salt, _ := GenerateSalt()
	blob, err := EncryptField("master", "alice", "hunter2hunter2", salt)
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("blob is not base64: %v", err)
	}
	if strings.Contains(string(raw), "hunter2hunter2") {
		t.Error("ciphertext contains plaintext")
	}
	if strings.Contains(blob, "hunter2hunter2") {
		t.Error("encoded blob contains plaintext")
	}
}

func TestDecryptFieldWrongMasterKey(t *testing.T) {
	salt, _ := GenerateSalt()
	blob, err := EncryptField("master", "alice", "payload", salt)
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}

	if _, err := DecryptField("wrong", "alice", blob); err != ErrDecryptionFailed {
		t.Errorf("wrong master key: err = %v, want ErrDecryptionFailed", err)
	}
	if _, err := DecryptField("master", "bob", blob); err != ErrDecryptionFailed {
		t.Errorf("wrong username: err = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptFieldTampered(t *testing.T) {
	salt, _ := GenerateSalt()
	blob, err := EncryptField("master", "alice", "payload", salt)
	if err != nil {
		t.Fatalf("EncryptField: %v", err)
	}

	raw, _ := base64.StdEncoding.DecodeString(blob)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.StdEncoding.EncodeToString(raw)

	if _, err := DecryptField("master", "alice", tampered); err != ErrDecryptionFailed {
		t.Errorf("tampered blob: err = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptFieldMalformed(t *testing.T) {
	if _, err := DecryptField("master", "alice", "not base64!!"); err != ErrInvalidCiphertext {
		t.Errorf("bad base64: err = %v, want ErrInvalidCiphertext", err)
	}
	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	if _, err := DecryptField("master", "alice", short); err != ErrInvalidCiphertext {
		t.Errorf("short blob: err = %v, want ErrInvalidCiphertext", err)
	}
}

func TestSealOpenWithKey(t *testing.T) {
	key, err := GenerateLogKey()
	if err != nil {
		t.Fatalf("GenerateLogKey: %v", err)
	}

	blob, err := SealWithKey(key, "audit line")
	if err != nil {
		t.Fatalf("SealWithKey: %v", err)
	}
	got, err := OpenWithKey(key, blob)
	if err != nil {
		t.Fatalf("OpenWithKey: %v", err)
	}
	if got != "audit line" {
		t.Errorf("round trip = %q, want %q", got, "audit line")
	}

	other, _ := GenerateLogKey()
	if _, err := OpenWithKey(other, blob); err != ErrDecryptionFailed {
		t.Errorf("wrong key: err = %v, want ErrDecryptionFailed", err)
	}
}

func TestHashPasswordVerify(t *testing.T) {
	blob, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ok, err := VerifyPassword("correct horse", blob)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if !ok {
		t.Error("correct password rejected")
	}

	ok, err = VerifyPassword("wrong horse", blob)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Error("wrong password accepted")
	}
}

func TestVerifyPasswordMalformedBlob(t *testing.T) {
	if _, err := VerifyPassword("x", "@@@@"); err != ErrInvalidHash {
		t.Errorf("bad base64: err = %v, want ErrInvalidHash", err)
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := VerifyPassword("x", short); err != ErrInvalidHash {
		t.Errorf("short blob: err = %v, want ErrInvalidHash", err)
	}
}

func TestGenerateTempPassword(t *testing.T) {
	pw, err := GenerateTempPassword()
	if err != nil {
		t.Fatalf("GenerateTempPassword: %v", err)
	}
	if len(pw) != TempPasswordLength {
		t.Errorf("length = %d, want %d", len(pw), TempPasswordLength)
	}
	for _, c := range pw {
		if !strings.ContainsRune(tempPasswordAlphabet, c) {
			t.Errorf("character %q outside alphabet", c)
		}
	}
}

func TestGenerateVerificationCode(t *testing.T) {
	code, err := GenerateVerificationCode()
	if err != nil {
		t.Fatalf("GenerateVerificationCode: %v", err)
	}
	if len(code) != 6 {
		t.Errorf("length = %d, want 6", len(code))
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			t.Errorf("non-digit %q in code", c)
		}
	}
}

func TestGenerateSaltUniqueness(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		salt, err := GenerateSalt()
		if err != nil {
			t.Fatalf("GenerateSalt: %v", err)
		}
		if len(salt) != SaltSize {
			t.Fatalf("salt length = %d, want %d", len(salt), SaltSize)
		}
		if seen[string(salt)] {
			t.Fatal("duplicate salt generated")
		}
		seen[string(salt)] = true
	}
}

func TestVerifyAuthKey(t *testing.T) {
	if !VerifyAuthKey("abc", "abc") {
		t.Error("equal keys rejected")
	}
	if VerifyAuthKey("abc", "abd") {
		t.Error("unequal keys accepted")
	}
	if VerifyAuthKey("abc", "abcd") {
		t.Error("different length keys accepted")
	}
}
