// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/stacklok/toolhive-core/env"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
)

// KeyEnvVarPrefix prefixes the per-service key variables, e.g. ENCRYPTION_KEY_GOOGLE.
const KeyEnvVarPrefix = "ENCRYPTION_KEY_"

// KeyEnvVar returns the variable holding the key for service.
func KeyEnvVar(service string) string {
	return KeyEnvVarPrefix + EnvSuffix(service)
}

// EnvSuffix converts a service name into its environment variable form.
func EnvSuffix(service string) string {
	return strings.ReplaceAll(strings.ToUpper(service), "-", "_")
}

// KeyRing resolves per-service encryption keys.
type KeyRing struct {
	envReader      env.Reader
	allowPlaintext bool
}

// KeyRingOption configures a KeyRing.
type KeyRingOption func(*KeyRing)

// WithEnvReader sets where keys are read from.
func WithEnvReader(r env.Reader) KeyRingOption {
	return func(k *KeyRing) {
		k.envReader = r
	}
}

// WithPlaintextFallback lets services without a key store plaintext.
// This exists for deployments that predate encryption; it is never implied.
func WithPlaintextFallback(allow bool) KeyRingOption {
	return func(k *KeyRing) {
		k.allowPlaintext = allow
	}
}

// NewKeyRing creates a KeyRing reading from the process environment by default.
func NewKeyRing(opts ...KeyRingOption) *KeyRing {
	k := &KeyRing{envReader: &env.OSReader{}}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Key returns the key for service. A nil key with a nil error means the
// service runs in plaintext mode.
func (k *KeyRing) Key(service string) ([]byte, error) {
	name := KeyEnvVar(service)
	raw := strings.TrimSpace(k.envReader.Getenv(name))
	if raw == "" {
		if !k.allowPlaintext {
			return nil, brokererrors.NewValidationError(
				fmt.Sprintf("no encryption key configured for %q (set %s)", service, name), nil)
		}
		logger.Warnw("no encryption key configured, storing plaintext", "service", service)
		return nil, nil
	}

	key, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return nil, brokererrors.NewValidationError(fmt.Sprintf("%s is not base64url", name), nil)
	}
	if len(key) != KeySize {
		return nil, brokererrors.NewValidationError(
			fmt.Sprintf("%s must decode to %d bytes, got %d", name, KeySize, len(key)), nil)
	}
	return key, nil
}

// Seal encrypts plaintext for service, or returns it unchanged in plaintext mode.
func (k *KeyRing) Seal(service string, plaintext []byte) (string, error) {
	key, err := k.Key(service)
	if err != nil {
		return "", err
	}
	if key == nil {
		return string(plaintext), nil
	}
	return Encrypt(plaintext, key)
}

// Open decrypts a value sealed for service, or returns it unchanged in plaintext mode.
func (k *KeyRing) Open(service, value string) ([]byte, error) {
	key, err := k.Key(service)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return []byte(value), nil
	}
	return Decrypt(value, key)
}
