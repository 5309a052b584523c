// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package v1 provides the broker's JSON HTTP routes.
package v1

import (
	"context"

	"github.com/stacklok/oauth-broker/pkg/broker"
	"github.com/stacklok/oauth-broker/pkg/owners"
	"github.com/stacklok/oauth-broker/pkg/providers"
)

// Broker is the engine surface the routes drive.
type Broker interface {
	// ConfigureApp registers an app and returns its hash.
	ConfigureApp(ctx context.Context, req broker.RegisterRequest) (string, error)
	// GetApp loads a stored app.
	GetApp(ctx context.Context, appHash, service string) (*broker.App, error)
	// ResolveAuthURL returns the provider authorization URL of a stored app.
	ResolveAuthURL(ctx context.Context, service, appHash string) (string, error)
	// ExchangeCodeForToken completes the authorization-code grant.
	ExchangeCodeForToken(ctx context.Context, appHash, service, code string) (*broker.Token, error)
	// GetToken loads the stored token for an app.
	GetToken(ctx context.Context, appHash, service string) (*broker.Token, error)
	// RefreshAccessToken returns a usable access token, refreshing if needed.
	RefreshAccessToken(ctx context.Context, appHash, service string) (string, error)
	// ListApps summarises every app linked to owner.
	ListApps(ctx context.Context, owner owners.Owner) ([]broker.AppSummary, error)
}

// KeyAuthenticator resolves API keys and meters their use.
type KeyAuthenticator interface {
	// Authenticate returns the user id owning plainKey.
	Authenticate(ctx context.Context, plainKey string) (string, error)
	// ConsumeUsage counts one request against the user's monthly quota.
	ConsumeUsage(ctx context.Context, userID string) (int64, error)
}

// SessionIssuer mints and verifies session tokens.
type SessionIssuer interface {
	Mint(userID string) (string, error)
	Verify(token string) (string, bool)
}

// ServiceIndex lists the published services.
type ServiceIndex interface {
	Index() []providers.IndexEntry
}

// Pinger is implemented by stores that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}
