// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides a single-node Store backed by an SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/stacklok/oauth-broker/pkg/storage"
)

// Compile-time interface compliance check.
var _ storage.Store = (*Store)(nil)

// Store implements storage.Store on three tables: kv for scalar values and
// counters, set_members for sets and expiry for deadlines. Expired keys are
// purged lazily when touched.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the database at path and applies pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; a single connection keeps read-modify-write
	// sequences like Incr free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// purgeIfExpired drops every row for key once its deadline has passed.
func (s *Store) purgeIfExpired(ctx context.Context, key string) error {
	var deadline int64
	err := s.db.QueryRowContext(ctx, `SELECT expires_at FROM expiry WHERE key = ?`, key).Scan(&deadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read expiry for %s: %w", key, err)
	}
	if s.now().UnixMilli() < deadline {
		return nil
	}
	return s.deleteAll(ctx, key)
}

func (s *Store) deleteAll(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	for _, stmt := range []string{
		`DELETE FROM kv WHERE key = ?`,
		`DELETE FROM set_members WHERE key = ?`,
		`DELETE FROM expiry WHERE key = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := s.purgeIfExpired(ctx, key); err != nil {
		return "", err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// Set implements storage.Store. Like Redis SET it clears any pending expiry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM expiry WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear expiry for %s: %w", key, err)
	}
	return tx.Commit()
}

// SetNX implements storage.Store.
func (s *Store) SetNX(ctx context.Context, key, value string) (bool, error) {
	if err := s.purgeIfExpired(ctx, key); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT (key) DO NOTHING`, key, value)
	if err != nil {
		return false, fmt.Errorf("failed to setnx %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to setnx %s: %w", key, err)
	}
	return n == 1, nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.deleteAll(ctx, key)
}

// AddToSet implements storage.Store.
func (s *Store) AddToSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	if err := s.purgeIfExpired(ctx, key); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO set_members (key, member) VALUES (?, ?) ON CONFLICT DO NOTHING`, key, m); err != nil {
			return fmt.Errorf("failed to add to set %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// MembersOf implements storage.Store.
func (s *Store) MembersOf(ctx context.Context, key string) ([]string, error) {
	if err := s.purgeIfExpired(ctx, key); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT member FROM set_members WHERE key = ? ORDER BY member`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to list set %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan member of %s: %w", key, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// RemoveFromSet implements storage.Store.
func (s *Store) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	for _, m := range members {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM set_members WHERE key = ? AND member = ?`, key, m); err != nil {
			return fmt.Errorf("failed to remove from set %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// Incr implements storage.Store.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	if err := s.purgeIfExpired(ctx, key); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx)

	var current int64
	var raw string
	err = tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return 0, fmt.Errorf("failed to read counter %s: %w", key, err)
	default:
		current, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer: %w", key, err)
		}
	}

	next := current + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, strconv.FormatInt(next, 10)); err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit increment of %s: %w", key, err)
	}
	return next, nil
}

// ExpireAt implements storage.Store. Missing keys are left alone.
func (s *Store) ExpireAt(ctx context.Context, key string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO expiry (key, expires_at)
		 SELECT ?, ? WHERE EXISTS (SELECT 1 FROM kv WHERE key = ?)
		    OR EXISTS (SELECT 1 FROM set_members WHERE key = ?)
		 ON CONFLICT (key) DO UPDATE SET expires_at = excluded.expires_at`,
		key, at.UnixMilli(), key, key)
	if err != nil {
		return fmt.Errorf("failed to expire %s: %w", key, err)
	}
	return nil
}

func rollback(tx *sql.Tx) { _ = tx.Rollback() }
