// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package apikeys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/storage"
	"github.com/stacklok/oauth-broker/pkg/storage/mocks"
)

func TestUsageKey(t *testing.T) {
	t.Parallel()

	local := time.FixedZone("UTC+2", 2*60*60)
	// Already April locally, still March in UTC.
	at := time.Date(2026, time.April, 1, 1, 0, 0, 0, local)
	assert.Equal(t, "usage:user:u-1:2026-03", UsageKey("u-1", at))
}

func TestStartOfNextMonth(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"mid month", time.Date(2026, time.March, 15, 8, 0, 0, 0, time.UTC), time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)},
		{"year end", time.Date(2026, time.December, 31, 23, 59, 0, 0, time.UTC), time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{"first instant", time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, startOfNextMonth(tt.at))
		})
	}
}

func TestConsumeUsage(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	mem := storage.NewMemoryStore()
	// Real clock: the memory store expires keys against wall time.
	m := NewManager(mem)

	for want := int64(1); want <= 3; want++ {
		got, err := m.ConsumeUsage(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	raw, err := mem.Get(ctx, UsageKey("user-1", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "3", raw)

	_, err = m.ConsumeUsage(ctx, "")
	assert.True(t, brokererrors.IsValidation(err))
}

func TestConsumeUsage_ExpiresOnFirstUseOnly(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)

	m := NewManager(store)
	m.now = func() time.Time { return testNow }
	key := "usage:user:user-1:2026-03"

	gomock.InOrder(
		store.EXPECT().Incr(gomock.Any(), key).Return(int64(1), nil),
		store.EXPECT().ExpireAt(gomock.Any(), key, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)).Return(nil),
		store.EXPECT().Incr(gomock.Any(), key).Return(int64(2), nil),
	)

	_, err := m.ConsumeUsage(t.Context(), "user-1")
	require.NoError(t, err)
	count, err := m.ConsumeUsage(t.Context(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
