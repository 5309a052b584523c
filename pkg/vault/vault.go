// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package vault seals at-rest payloads with AES-256-GCM.
//
// An envelope is three standard base64 segments joined by dots:
// nonce, authentication tag and ciphertext. The envelope is a single opaque
// string that can be stored as any key-value value.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

const (
	nonceSize = 12
	tagSize   = 16
)

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, brokererrors.NewValidationError(
			fmt.Sprintf("encryption key must be %d bytes, got %d", KeySize, len(key)), nil)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext under key with a fresh random nonce.
func Encrypt(plaintext, key []byte) (string, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext.
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(nonce),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, "."), nil
}

// Decrypt opens an envelope produced by Encrypt. Any failure to parse or
// authenticate the envelope is reported as an integrity error.
func Decrypt(envelope string, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(envelope, ".")
	if len(parts) != 3 {
		return nil, brokererrors.NewIntegrityError("malformed envelope", nil)
	}

	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, brokererrors.NewIntegrityError("malformed envelope nonce", err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, brokererrors.NewIntegrityError("malformed envelope tag", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, brokererrors.NewIntegrityError("malformed envelope ciphertext", err)
	}

	plaintext, err := aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, brokererrors.NewIntegrityError("envelope failed authentication", err)
	}
	return plaintext, nil
}
