// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package apikeys issues and authenticates API keys, mints short-lived
// session tokens for them and meters monthly usage per user.
//
// Plaintext keys are returned once on creation and never stored. Records are
// indexed by the hex sha256 of the key.
package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/storage"
)

const (
	// KeyPrefix marks broker API keys so they are recognisable in configs and logs.
	KeyPrefix = "obk_"

	// StatusActive is the only status that authenticates.
	StatusActive = "active"

	keyEntropyBytes = 32
)

// Usage tracks how often a key has been used.
type Usage struct {
	Requests   int64  `json:"requests"`
	LastUsedAt *int64 `json:"lastUsedAt,omitempty"`
}

// APIKey is the stored record for one key.
type APIKey struct {
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	Status    string `json:"status"`
	Usage     Usage  `json:"usage"`
}

// KeyInfo is an APIKey together with the hash it is stored under.
type KeyInfo struct {
	Hash string `json:"hash"`
	APIKey
}

// Manager creates and authenticates API keys.
type Manager struct {
	store storage.Store
	now   func() time.Time
}

// NewManager returns a Manager backed by store.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// HashKey returns the storage index of a plaintext key.
func HashKey(plainKey string) string {
	sum := sha256.Sum256([]byte(plainKey))
	return hex.EncodeToString(sum[:])
}

func userKeysKey(userID string) string {
	return "user:" + userID + ":apikeys"
}

func generateKey() (string, error) {
	buf := make([]byte, keyEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Create issues a new key for userID and returns the plaintext key and its hash.
func (m *Manager) Create(ctx context.Context, name, userID string) (plainKey, keyHash string, err error) {
	if userID == "" {
		return "", "", brokererrors.NewValidationError("user id is required", nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", brokererrors.NewValidationError("key name is required", nil)
	}

	plainKey, err = generateKey()
	if err != nil {
		return "", "", err
	}
	keyHash = HashKey(plainKey)

	record := APIKey{
		UserID:    userID,
		Name:      name,
		CreatedAt: m.now().UnixMilli(),
		Status:    StatusActive,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode api key: %w", err)
	}

	created, err := m.store.SetNX(ctx, keyHash, string(data))
	if err != nil {
		return "", "", fmt.Errorf("failed to store api key: %w", err)
	}
	if !created {
		return "", "", brokererrors.NewInternalError("api key hash collision", nil)
	}
	if err := m.store.AddToSet(ctx, userKeysKey(userID), keyHash); err != nil {
		return "", "", fmt.Errorf("failed to index api key: %w", err)
	}

	logger.Infow("api key created", "user", userID, "name", name, "key", logger.Fingerprint(keyHash))
	return plainKey, keyHash, nil
}

func (m *Manager) load(ctx context.Context, keyHash string) (*APIKey, error) {
	raw, err := m.store.Get(ctx, keyHash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, brokererrors.NewKeyNotFoundError()
	}
	if err != nil {
		return nil, err
	}

	var record APIKey
	if err := json.Unmarshal([]byte(raw), &record); err != nil || record.UserID == "" {
		// Something else lives at this key.
		return nil, brokererrors.NewKeyNotFoundError()
	}
	return &record, nil
}

// Authenticate resolves a plaintext key to its user id and records the use.
// Unknown, malformed and inactive keys all report KeyNotFound.
func (m *Manager) Authenticate(ctx context.Context, plainKey string) (string, error) {
	if !strings.HasPrefix(plainKey, KeyPrefix) {
		return "", brokererrors.NewKeyNotFoundError()
	}

	keyHash := HashKey(plainKey)
	record, err := m.load(ctx, keyHash)
	if err != nil {
		return "", err
	}
	if record.Status != StatusActive {
		return "", brokererrors.NewKeyNotFoundError()
	}

	used := m.now().UnixMilli()
	record.Usage.Requests++
	record.Usage.LastUsedAt = &used
	if data, err := json.Marshal(record); err == nil {
		if err := m.store.Set(ctx, keyHash, string(data)); err != nil {
			logger.Warnw("failed to record api key usage", "key", logger.Fingerprint(keyHash), "error", err)
		}
	}

	return record.UserID, nil
}

// List returns the keys owned by userID, ordered by hash.
func (m *Manager) List(ctx context.Context, userID string) ([]KeyInfo, error) {
	if userID == "" {
		return nil, brokererrors.NewValidationError("user id is required", nil)
	}

	hashes, err := m.store.MembersOf(ctx, userKeysKey(userID))
	if err != nil {
		return nil, err
	}

	keys := make([]KeyInfo, 0, len(hashes))
	for _, h := range hashes {
		record, err := m.load(ctx, h)
		if brokererrors.IsKeyNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		keys = append(keys, KeyInfo{Hash: h, APIKey: *record})
	}
	return keys, nil
}

// Delete revokes a key. Keys owned by another user report KeyNotFound.
func (m *Manager) Delete(ctx context.Context, keyHash, userID string) error {
	record, err := m.load(ctx, keyHash)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return brokererrors.NewKeyNotFoundError()
	}

	if err := m.store.Delete(ctx, keyHash); err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if err := m.store.RemoveFromSet(ctx, userKeysKey(userID), keyHash); err != nil {
		return fmt.Errorf("failed to unindex api key: %w", err)
	}

	logger.Infow("api key deleted", "user", userID, "key", logger.Fingerprint(keyHash))
	return nil
}
