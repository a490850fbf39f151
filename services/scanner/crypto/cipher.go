// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package crypto encrypts sensitive PII contexts before they reach the
// event store.
//
// Ciphertexts are tagged with a stable prefix so decrypt-on-read paths can
// distinguish encrypted values from plain ones without attempting a decrypt.
// The AES key never sits in plain process memory at rest: it is held in a
// memguard enclave and only opened into an mlocked buffer for the duration
// of a single operation.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"
)

// cipherPrefix tags every ciphertext produced by this package. Only
// already-encrypted values carry it, which makes IsEncrypted a pure
// string probe.
const cipherPrefix = "pii::v1::"

// Errors returned by the cipher.
var (
	// ErrNotEncrypted indicates Decrypt was called on a value without
	// the ciphertext prefix.
	ErrNotEncrypted = errors.New("value is not encrypted")

	// ErrCiphertextCorrupt indicates the payload failed to decode or
	// authenticate.
	ErrCiphertextCorrupt = errors.New("ciphertext is corrupt")

	// ErrEmptyKey indicates the cipher was constructed without key material.
	ErrEmptyKey = errors.New("encryption key is empty")
)

// Cipher encrypts and decrypts opaque strings.
//
// Implementations must be safe for concurrent use: the orchestrator
// encrypts from the scan goroutine while reveal endpoints decrypt.
type Cipher interface {
	// Encrypt returns the ciphertext for plain. Encrypting an
	// already-encrypted value returns it unchanged (idempotent).
	Encrypt(plain string) (string, error)

	// Decrypt returns the plaintext for a value produced by Encrypt.
	// Returns ErrNotEncrypted when the value lacks the prefix.
	Decrypt(cipherText string) (string, error)

	// IsEncrypted reports whether the value was produced by Encrypt.
	IsEncrypted(value string) bool
}

// AESCipher is the production Cipher: AES-256-GCM with a random nonce per
// message and the key stored in a memguard enclave.
type AESCipher struct {
	enclave *memguard.Enclave
}

// NewAESCipher builds a cipher from arbitrary key material.
//
// The material is stretched to 32 bytes with SHA-256, so passphrases and
// raw keys are both accepted. The derived key is sealed into an enclave
// immediately; the input slice can be wiped by the caller afterwards.
func NewAESCipher(keyMaterial []byte) (*AESCipher, error) {
	if len(keyMaterial) == 0 {
		return nil, ErrEmptyKey
	}
	derived := sha256.Sum256(keyMaterial)
	enclave := memguard.NewEnclave(derived[:])
	return &AESCipher{enclave: enclave}, nil
}

// Encrypt seals plain with AES-256-GCM. The output is
// "pii::v1::" + base64(nonce || ciphertext).
func (c *AESCipher) Encrypt(plain string) (string, error) {
	if c.IsEncrypted(plain) {
		return plain, nil
	}

	gcm, key, err := c.openGCM()
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return cipherPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (c *AESCipher) Decrypt(cipherText string) (string, error) {
	if !c.IsEncrypted(cipherText) {
		return "", ErrNotEncrypted
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(cipherText, cipherPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextCorrupt, err)
	}

	gcm, key, err := c.openGCM()
	if err != nil {
		return "", err
	}
	defer key.Destroy()

	if len(raw) < gcm.NonceSize() {
		return "", ErrCiphertextCorrupt
	}
	nonce, payload := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, payload, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextCorrupt, err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether value carries the ciphertext prefix.
func (c *AESCipher) IsEncrypted(value string) bool {
	return strings.HasPrefix(value, cipherPrefix) && len(value) > len(cipherPrefix)
}

// openGCM opens the enclave into a locked buffer and builds the AEAD.
// The caller must Destroy the returned buffer.
func (c *AESCipher) openGCM() (cipher.AEAD, *memguard.LockedBuffer, error) {
	key, err := c.enclave.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open key enclave: %w", err)
	}
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		key.Destroy()
		return nil, nil, fmt.Errorf("init aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		key.Destroy()
		return nil, nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, key, nil
}

var _ Cipher = (*AESCipher)(nil)
