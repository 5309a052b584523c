// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package apikeys

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/storage"
	"github.com/stacklok/oauth-broker/pkg/storage/mocks"
)

var testNow = time.Date(2026, time.March, 31, 23, 30, 0, 0, time.UTC)

func newTestManager() (*Manager, *storage.MemoryStore) {
	mem := storage.NewMemoryStore()
	m := NewManager(mem)
	m.now = func() time.Time { return testNow }
	return m, mem
}

func TestCreateAndAuthenticate(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	m, mem := newTestManager()

	plain, hash, err := m.Create(ctx, "  ci  ", "user-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, KeyPrefix))
	assert.Equal(t, HashKey(plain), hash)
	assert.Len(t, hash, 64)

	raw, err := mem.Get(ctx, hash)
	require.NoError(t, err)
	assert.NotContains(t, raw, plain)

	var record APIKey
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	assert.Equal(t, APIKey{UserID: "user-1", Name: "ci", CreatedAt: testNow.UnixMilli(), Status: StatusActive}, record)

	members, err := mem.MembersOf(ctx, "user:user-1:apikeys")
	require.NoError(t, err)
	assert.Equal(t, []string{hash}, members)

	userID, err := m.Authenticate(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = m.Authenticate(ctx, plain)
	require.NoError(t, err)

	keys, err := m.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(2), keys[0].Usage.Requests)
	require.NotNil(t, keys[0].Usage.LastUsedAt)
	assert.Equal(t, testNow.UnixMilli(), *keys[0].Usage.LastUsedAt)
}

func TestCreate_KeysAreUnique(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	a, _, err := m.Create(t.Context(), "a", "user-1")
	require.NoError(t, err)
	b, _, err := m.Create(t.Context(), "b", "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	keys, err := m.List(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}

func TestCreate_Validation(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager()

	_, _, err := m.Create(t.Context(), "ci", "")
	assert.True(t, brokererrors.IsValidation(err))
	_, _, err = m.Create(t.Context(), " ", "user-1")
	assert.True(t, brokererrors.IsValidation(err))
}

func TestCreate_StoreFailure(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	store.EXPECT().SetNX(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, errors.New("connection refused"))

	_, _, err := NewManager(store).Create(t.Context(), "ci", "user-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAuthenticate_Rejects(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	m, mem := newTestManager()

	plain, hash, err := m.Create(ctx, "ci", "user-1")
	require.NoError(t, err)

	// A user record stored at a key that happens to look like a hash.
	require.NoError(t, mem.Set(ctx, HashKey(KeyPrefix+"other"), `{"rateLimitTier":"free"}`))

	revoked := APIKey{UserID: "user-2", Name: "old", Status: "revoked"}
	data, err := json.Marshal(revoked)
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, HashKey(KeyPrefix+"revoked"), string(data)))

	tests := []struct {
		name string
		key  string
	}{
		{"unknown key", KeyPrefix + "nope"},
		{"missing prefix", strings.TrimPrefix(plain, KeyPrefix)},
		{"empty", ""},
		{"foreign record", KeyPrefix + "other"},
		{"revoked", KeyPrefix + "revoked"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := m.Authenticate(ctx, tt.key)
			assert.True(t, brokererrors.IsKeyNotFound(err))
		})
	}

	_, err = mem.Get(ctx, hash)
	require.NoError(t, err)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	m, mem := newTestManager()

	plain, hash, err := m.Create(ctx, "ci", "user-1")
	require.NoError(t, err)

	err = m.Delete(ctx, hash, "user-2")
	assert.True(t, brokererrors.IsKeyNotFound(err))

	require.NoError(t, m.Delete(ctx, hash, "user-1"))

	_, err = m.Authenticate(ctx, plain)
	assert.True(t, brokererrors.IsKeyNotFound(err))

	members, err := mem.MembersOf(ctx, "user:user-1:apikeys")
	require.NoError(t, err)
	assert.Empty(t, members)

	err = m.Delete(ctx, hash, "user-1")
	assert.True(t, brokererrors.IsKeyNotFound(err))
}

func TestList_SkipsDanglingIndex(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	m, mem := newTestManager()

	_, hash, err := m.Create(ctx, "ci", "user-1")
	require.NoError(t, err)
	require.NoError(t, mem.AddToSet(ctx, "user:user-1:apikeys", "deadbeef"))

	keys, err := m.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, hash, keys[0].Hash)
	assert.Equal(t, "ci", keys[0].Name)

	keys, err = m.List(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
