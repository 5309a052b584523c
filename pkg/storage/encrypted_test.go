// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reversingSealer is a reversible stand-in that makes sealed values easy to spot.
type reversingSealer struct{}

func (reversingSealer) Seal(service string, plaintext []byte) (string, error) {
	return service + ":" + base64.StdEncoding.EncodeToString(plaintext), nil
}

func (reversingSealer) Open(service, value string) ([]byte, error) {
	encoded, ok := strings.CutPrefix(value, service+":")
	if !ok {
		return nil, errors.New("sealed for another service")
	}
	return base64.StdEncoding.DecodeString(encoded)
}

type record struct {
	ClientID string   `json:"clientId"`
	Scope    []string `json:"scope"`
}

func TestEncryptedStore_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	base := NewMemoryStore()
	s := NewEncryptedStore(base, reversingSealer{})

	in := record{ClientID: "abc", Scope: []string{"read"}}
	require.NoError(t, s.SetJSON(ctx, "app:h1", "demo", in))

	raw, err := base.Get(ctx, "app:h1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "demo:"))
	assert.NotContains(t, raw, "abc")

	var out record
	require.NoError(t, s.GetJSON(ctx, "app:h1", "demo", &out))
	assert.Equal(t, in, out)
}

func TestEncryptedStore_WrongServiceFails(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := NewEncryptedStore(NewMemoryStore(), reversingSealer{})

	require.NoError(t, s.SetJSON(ctx, "app:h1", "demo", record{ClientID: "abc"}))

	var out record
	err := s.GetJSON(ctx, "app:h1", "other", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open app:h1")
}

func TestEncryptedStore_PlainRecords(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	base := NewMemoryStore()
	s := NewEncryptedStore(base, reversingSealer{})

	wrote, err := s.SetJSONIfAbsent(ctx, "user:u1", record{ClientID: "first"})
	require.NoError(t, err)
	assert.True(t, wrote)

	wrote, err = s.SetJSONIfAbsent(ctx, "user:u1", record{ClientID: "second"})
	require.NoError(t, err)
	assert.False(t, wrote)

	raw, err := base.Get(ctx, "user:u1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"clientId":"first","scope":null}`, raw)

	var out record
	require.NoError(t, s.GetJSON(ctx, "user:u1", "", &out))
	assert.Equal(t, "first", out.ClientID)
}

func TestEncryptedStore_MissingKey(t *testing.T) {
	t.Parallel()
	s := NewEncryptedStore(NewMemoryStore(), reversingSealer{})

	var out record
	err := s.GetJSON(t.Context(), "nope", "demo", &out)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := NewMemoryStore()
	now := s.now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.AddToSet(ctx, "set", "a"))
	require.NoError(t, s.ExpireAt(ctx, "set", now.Add(time.Minute)))
	require.NoError(t, s.ExpireAt(ctx, "missing", now.Add(time.Minute)))
	assert.NotContains(t, s.expires, "missing")

	members, err := s.MembersOf(ctx, "set")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)

	s.now = func() time.Time { return now.Add(2 * time.Minute) }
	members, err = s.MembersOf(ctx, "set")
	require.NoError(t, err)
	assert.Empty(t, members)
}
