// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Compile-time interface compliance check.
var _ Store = (*MemoryStore)(nil)

// MemoryStore is a process-local Store for development and tests.
// Expired keys are dropped lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]string
	sets    map[string]map[string]struct{}
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]string),
		sets:    make(map[string]map[string]struct{}),
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// expireLocked drops key if its deadline has passed. Callers hold mu.
func (s *MemoryStore) expireLocked(key string) {
	deadline, ok := s.expires[key]
	if !ok || s.now().Before(deadline) {
		return
	}
	delete(s.values, key)
	delete(s.sets, key)
	delete(s.expires, key)
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	delete(s.expires, key)
	return nil
}

// SetNX implements Store.
func (s *MemoryStore) SetNX(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = value
	return true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.sets, key)
	delete(s.expires, key)
	return nil
}

// AddToSet implements Store.
func (s *MemoryStore) AddToSet(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{}, len(members))
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	return nil
}

// MembersOf implements Store.
func (s *MemoryStore) MembersOf(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

// RemoveFromSet implements Store.
func (s *MemoryStore) RemoveFromSet(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sets[key]
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

// Incr implements Store.
func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.expireLocked(key)
	var current int64
	if raw, ok := s.values[key]; ok {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		current = parsed
	}
	current++
	s.values[key] = strconv.FormatInt(current, 10)
	return current, nil
}

// ExpireAt implements Store.
func (s *MemoryStore) ExpireAt(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, isValue := s.values[key]
	_, isSet := s.sets[key]
	if isValue || isSet {
		s.expires[key] = at
	}
	return nil
}

// Close implements Store.
func (*MemoryStore) Close() error {
	return nil
}
