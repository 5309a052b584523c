// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"

	"github.com/stacklok/oauth-broker/pkg/logger"
)

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory keeps records in process memory.
	TypeMemory Type = "memory"
	// TypeRedis keeps records in Redis.
	TypeRedis Type = "redis"
	// TypeSQLite keeps records in a local SQLite file. Opened by the sqlite package.
	TypeSQLite Type = "sqlite"
)

// Config selects and configures the storage backend.
type Config struct {
	Type       Type
	Redis      RedisConfig
	SQLitePath string
}

// New creates the Store described by cfg.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeMemory, "":
		logger.Warnw("using in-memory store, records are lost on restart")
		return NewMemoryStore(), nil
	case TypeRedis:
		store, err := NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Infow("connected to redis", "addr", cfg.Redis.Addr, "key_prefix", cfg.Redis.KeyPrefix)
		return store, nil
	case TypeSQLite:
		return nil, fmt.Errorf("storage type %q must be opened with sqlite.NewStore", cfg.Type)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
