// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the key-value store that owns every persisted
// broker record, plus an encrypting wrapper for per-service payloads.
package storage

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=interfaces.go Store

// Store is a flat key-value namespace with string sets and counters.
// Writes are last-writer-wins; there is no optimistic concurrency.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set overwrites the value for key.
	Set(ctx context.Context, key, value string) error
	// SetNX writes value only if key is absent and reports whether it wrote.
	SetNX(ctx context.Context, key, value string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// AddToSet adds members to the set stored at key.
	AddToSet(ctx context.Context, key string, members ...string) error
	// MembersOf returns the members of the set at key in lexical order.
	MembersOf(ctx context.Context, key string) ([]string, error)
	// RemoveFromSet removes members from the set at key.
	RemoveFromSet(ctx context.Context, key string, members ...string) error
	// Incr increments the counter at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// ExpireAt schedules key for removal at the given time.
	ExpireAt(ctx context.Context, key string, at time.Time) error
	// Close releases any resources held by the store.
	Close() error
}
