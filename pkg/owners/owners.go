// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package owners manages the org and session-user records that own apps.
//
// An owner is either a GitHub org (keyed by login) or an anonymous session
// user (keyed by a generated id). Both records carry an ordered, duplicate
// free list of the app keys linked to them.
package owners

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/storage"
)

// DefaultRateLimitTier is assigned to every new session user.
const DefaultRateLimitTier = "free"

// Owner identifies who an app belongs to. Exactly one field is set.
type Owner struct {
	OrgLogin string
	UserID   string
}

// Org returns the owner for a GitHub org login.
func Org(login string) Owner { return Owner{OrgLogin: login} }

// User returns the owner for a session user id.
func User(id string) Owner { return Owner{UserID: id} }

// IsOrg reports whether the owner is an org.
func (o Owner) IsOrg() bool { return o.OrgLogin != "" }

// Key is the store key of the owner record.
func (o Owner) Key() string {
	if o.IsOrg() {
		return "org:" + o.OrgLogin
	}
	return "user:" + o.UserID
}

// HashKey is the owner component folded into an app hash. Orgs contribute
// their record key and users their bare id.
func (o Owner) HashKey() string {
	if o.IsOrg() {
		return o.Key()
	}
	return o.UserID
}

// Validate checks that exactly one identity is set.
func (o Owner) Validate() error {
	switch {
	case o.OrgLogin == "" && o.UserID == "":
		return brokererrors.NewValidationError("owner is required", nil)
	case o.OrgLogin != "" && o.UserID != "":
		return brokererrors.NewValidationError("owner must be either an org or a user", nil)
	}
	return nil
}

// ParseKey turns a record key back into an Owner.
func ParseKey(key string) (Owner, error) {
	if login, ok := strings.CutPrefix(key, "org:"); ok && login != "" {
		return Org(login), nil
	}
	if id, ok := strings.CutPrefix(key, "user:"); ok && id != "" {
		return User(id), nil
	}
	return Owner{}, brokererrors.NewValidationError(fmt.Sprintf("malformed owner key %q", key), nil)
}

// GitHubUser is the subset of the GitHub user payload needed to create an org.
type GitHubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
	Email     string `json:"email"`
}

// OrgRecord is stored at org:{login}.
type OrgRecord struct {
	ID     int64    `json:"id"`
	Login  string   `json:"login"`
	Avatar string   `json:"avatar"`
	Email  string   `json:"email"`
	Apps   []string `json:"apps"`
}

// SessionUser is stored at user:{id}. Timestamps are epoch milliseconds.
type SessionUser struct {
	RateLimitTier string   `json:"rateLimitTier"`
	CreatedAt     int64    `json:"createdAt"`
	UpdatedAt     int64    `json:"updatedAt"`
	Apps          []string `json:"apps"`
}

// Manager reads and writes owner records.
type Manager struct {
	store storage.Store
	now   func() time.Time
}

// NewManager creates a Manager over store.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// NewSessionUserID returns a fresh random session user id.
func NewSessionUserID() string {
	return uuid.NewString()
}

// EnsureOrg creates the org record for a GitHub user if it does not exist and
// returns its key. An existing record is left untouched.
func (m *Manager) EnsureOrg(ctx context.Context, gh GitHubUser) (string, error) {
	if gh.Login == "" {
		return "", brokererrors.NewValidationError("github user has no login", nil)
	}

	owner := Org(gh.Login)
	payload, err := json.Marshal(OrgRecord{
		ID:     gh.ID,
		Login:  gh.Login,
		Avatar: gh.AvatarURL,
		Email:  gh.Email,
		Apps:   []string{},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode org: %w", err)
	}

	created, err := m.store.SetNX(ctx, owner.Key(), string(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create org %s: %w", gh.Login, err)
	}
	if created {
		logger.Infow("created org", "org", gh.Login)
	}
	return owner.Key(), nil
}

// EnsureSessionUser creates the session user record if it does not exist.
func (m *Manager) EnsureSessionUser(ctx context.Context, userID string) error {
	if userID == "" {
		return brokererrors.NewValidationError("session user id is required", nil)
	}

	now := m.now().UnixMilli()
	payload, err := json.Marshal(SessionUser{
		RateLimitTier: DefaultRateLimitTier,
		CreatedAt:     now,
		UpdatedAt:     now,
		Apps:          []string{},
	})
	if err != nil {
		return fmt.Errorf("failed to encode session user: %w", err)
	}

	if _, err := m.store.SetNX(ctx, User(userID).Key(), string(payload)); err != nil {
		return fmt.Errorf("failed to create session user: %w", err)
	}
	return nil
}

// EnsureOwner makes sure owner can receive app links. Session users are
// created if absent; orgs must already exist.
func (m *Manager) EnsureOwner(ctx context.Context, owner Owner) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if !owner.IsOrg() {
		return m.EnsureSessionUser(ctx, owner.UserID)
	}
	if _, err := m.store.Get(ctx, owner.Key()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return brokererrors.NewOwnerNotFoundError(owner.Key())
		}
		return fmt.Errorf("failed to read %s: %w", owner.Key(), err)
	}
	return nil
}

// GetOrg loads an org record.
func (m *Manager) GetOrg(ctx context.Context, login string) (*OrgRecord, error) {
	var rec OrgRecord
	if err := m.load(ctx, Org(login), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetSessionUser loads a session user record.
func (m *Manager) GetSessionUser(ctx context.Context, userID string) (*SessionUser, error) {
	var rec SessionUser
	if err := m.load(ctx, User(userID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Apps returns the app keys linked to owner in link order.
func (m *Manager) Apps(ctx context.Context, owner Owner) ([]string, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	var rec struct {
		Apps []string `json:"apps"`
	}
	if err := m.load(ctx, owner, &rec); err != nil {
		return nil, err
	}
	return rec.Apps, nil
}

// LinkApp appends appKey to the owner's app list unless already present.
// Session users are created on first link; orgs must already exist.
// Concurrent links to the same owner are last-writer-wins.
func (m *Manager) LinkApp(ctx context.Context, owner Owner, appKey string) error {
	if err := owner.Validate(); err != nil {
		return err
	}
	if !owner.IsOrg() {
		if err := m.EnsureSessionUser(ctx, owner.UserID); err != nil {
			return err
		}
	}

	raw, err := m.store.Get(ctx, owner.Key())
	if errors.Is(err, storage.ErrNotFound) {
		return brokererrors.NewOwnerNotFoundError(owner.Key())
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", owner.Key(), err)
	}

	// Decode loosely so fields this package does not know about survive the rewrite.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return fmt.Errorf("failed to decode %s: %w", owner.Key(), err)
	}

	var apps []string
	if existing, ok := fields["apps"]; ok && string(existing) != "null" {
		if err := json.Unmarshal(existing, &apps); err != nil {
			return fmt.Errorf("failed to decode apps of %s: %w", owner.Key(), err)
		}
	}
	if slices.Contains(apps, appKey) {
		return nil
	}
	apps = append(apps, appKey)

	if fields["apps"], err = json.Marshal(apps); err != nil {
		return fmt.Errorf("failed to encode apps: %w", err)
	}
	if !owner.IsOrg() {
		if fields["updatedAt"], err = json.Marshal(m.now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to encode timestamp: %w", err)
		}
	}

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", owner.Key(), err)
	}
	if err := m.store.Set(ctx, owner.Key(), string(payload)); err != nil {
		return fmt.Errorf("failed to link app to %s: %w", owner.Key(), err)
	}

	logger.Debugw("linked app to owner", "owner", owner.Key(), "app", appKey)
	return nil
}

func (m *Manager) load(ctx context.Context, owner Owner, out any) error {
	raw, err := m.store.Get(ctx, owner.Key())
	if errors.Is(err, storage.ErrNotFound) {
		return brokererrors.NewOwnerNotFoundError(owner.Key())
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", owner.Key(), err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", owner.Key(), err)
	}
	return nil
}
