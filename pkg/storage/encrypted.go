// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Sealer encrypts and decrypts payloads for a service.
type Sealer interface {
	Seal(service string, plaintext []byte) (string, error)
	Open(service, value string) ([]byte, error)
}

// EncryptedStore layers JSON encoding and per-service sealing over a Store.
// Records addressed without a service are stored as plain JSON.
type EncryptedStore struct {
	Store
	sealer Sealer
}

// NewEncryptedStore wraps store so service-tagged values are sealed by sealer.
func NewEncryptedStore(store Store, sealer Sealer) *EncryptedStore {
	return &EncryptedStore{Store: store, sealer: sealer}
}

// GetJSON reads key into out, opening it with the service's key when service
// is not empty. A value that fails to open is returned as an error, never
// reinterpreted.
func (s *EncryptedStore) GetJSON(ctx context.Context, key, service string, out any) error {
	payload, err := s.GetPayload(ctx, key, service)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// GetPayload returns the opened bytes stored under key without decoding them.
func (s *EncryptedStore) GetPayload(ctx context.Context, key, service string) ([]byte, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if service == "" {
		return []byte(raw), nil
	}

	payload, err := s.sealer.Open(service, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", key, err)
	}
	return payload, nil
}

// SetJSON encodes value and writes it under key, sealing it for service when
// service is not empty.
func (s *EncryptedStore) SetJSON(ctx context.Context, key, service string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	stored := string(payload)
	if service != "" {
		stored, err = s.sealer.Seal(service, payload)
		if err != nil {
			return fmt.Errorf("failed to seal %s: %w", key, err)
		}
	}
	return s.Set(ctx, key, stored)
}

// SetJSONIfAbsent writes an unencrypted JSON value only if key does not exist.
func (s *EncryptedStore) SetJSONIfAbsent(ctx context.Context, key string, value any) (bool, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.SetNX(ctx, key, string(payload))
}
