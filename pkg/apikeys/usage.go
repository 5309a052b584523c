// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package apikeys

import (
	"context"
	"fmt"
	"time"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
)

// UsageKey is the counter key for userID in the month containing at.
func UsageKey(userID string, at time.Time) string {
	return fmt.Sprintf("usage:user:%s:%s", userID, at.UTC().Format("2006-01"))
}

// startOfNextMonth returns midnight UTC on the first day of the following month.
func startOfNextMonth(at time.Time) time.Time {
	at = at.UTC()
	return time.Date(at.Year(), at.Month()+1, 1, 0, 0, 0, 0, time.UTC)
}

// ConsumeUsage counts one request against userID's monthly quota and returns
// the running total. Counters expire when the UTC month ends.
func (m *Manager) ConsumeUsage(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, brokererrors.NewValidationError("user id is required", nil)
	}

	now := m.now()
	key := UsageKey(userID, now)
	count, err := m.store.Incr(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage: %w", err)
	}
	if count == 1 {
		if err := m.store.ExpireAt(ctx, key, startOfNextMonth(now)); err != nil {
			return 0, fmt.Errorf("failed to set usage expiry: %w", err)
		}
	}
	return count, nil
}
