// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storetest holds behaviour checks shared by every storage.Store backend.
package storetest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/oauth-broker/pkg/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Run exercises the storage.Store contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get missing key", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)

		_, err := s.Get(t.Context(), "missing")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("set overwrites", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := t.Context()

		require.NoError(t, s.Set(ctx, "k", "one"))
		require.NoError(t, s.Set(ctx, "k", "two"))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "two", got)
	})

	t.Run("setnx only writes once", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := t.Context()

		wrote, err := s.SetNX(ctx, "k", "first")
		require.NoError(t, err)
		assert.True(t, wrote)

		wrote, err = s.SetNX(ctx, "k", "second")
		require.NoError(t, err)
		assert.False(t, wrote)

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "first", got)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := t.Context()

		require.NoError(t, s.Set(ctx, "k", "v"))
		require.NoError(t, s.Delete(ctx, "k"))
		require.NoError(t, s.Delete(ctx, "never-existed"))

		_, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("sets", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := t.Context()

		members, err := s.MembersOf(ctx, "set")
		require.NoError(t, err)
		assert.Empty(t, members)

		require.NoError(t, s.AddToSet(ctx, "set", "b", "a"))
		require.NoError(t, s.AddToSet(ctx, "set", "a", "c"))

		members, err = s.MembersOf(ctx, "set")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, members)

		require.NoError(t, s.RemoveFromSet(ctx, "set", "b", "zzz"))
		members, err = s.MembersOf(ctx, "set")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, members)
	})

	t.Run("incr", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := t.Context()

		for want := int64(1); want <= 3; want++ {
			got, err := s.Incr(ctx, "counter")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		raw, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, "3", raw)
	})

	t.Run("concurrent incr loses no updates", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := t.Context()

		const workers = 8
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Incr(ctx, "counter")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		raw, err := s.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(workers), raw)
	})

	t.Run("expire at in the past removes the key", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := t.Context()

		require.NoError(t, s.Set(ctx, "k", "v"))
		require.NoError(t, s.ExpireAt(ctx, "k", time.Now().Add(-time.Minute)))

		_, err := s.Get(ctx, "k")
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("expire at in the future keeps the key", func(t *testing.T) {
		t.Parallel()
		s := newStore(t)
		ctx := t.Context()

		require.NoError(t, s.Set(ctx, "k", "v"))
		require.NoError(t, s.ExpireAt(ctx, "k", time.Now().Add(time.Hour)))

		got, err := s.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})
}
