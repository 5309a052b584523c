// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"fmt"

	"github.com/adrg/xdg"

	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/storage"
)

// DefaultPath returns the database location used when none is configured.
func DefaultPath() (string, error) {
	return xdg.DataFile("oauth-broker/broker.db")
}

// NewStore opens the backend described by cfg. SQLite is handled here;
// every other type is delegated to storage.New.
func NewStore(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	if cfg.Type != storage.TypeSQLite {
		return storage.New(ctx, cfg)
	}

	path := cfg.SQLitePath
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
	}

	store, err := Open(ctx, path)
	if err != nil {
		return nil, err
	}
	logger.Infow("opened sqlite store", "path", path)
	return store, nil
}
