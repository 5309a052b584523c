// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/oauth2"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/providers"
	"github.com/stacklok/oauth-broker/pkg/storage"
	"github.com/stacklok/oauth-broker/pkg/vault"
)

const (
	platformClientIDSuffix     = "_CLIENT_ID"
	platformClientSecretSuffix = "_CLIENT_SECRET"
	platformEnvPrefix          = "PLATFORM_"
)

// PlatformClientIDEnvVar names the variable holding the broker's own client id for service.
func PlatformClientIDEnvVar(service string) string {
	return platformEnvPrefix + vault.EnvSuffix(service) + platformClientIDSuffix
}

// PlatformClientSecretEnvVar names the variable holding the broker's own client secret for service.
func PlatformClientSecretEnvVar(service string) string {
	return platformEnvPrefix + vault.EnvSuffix(service) + platformClientSecretSuffix
}

// AppHash derives the identity of an app from its credentials, owner and scope.
// The same inputs always yield the same hash.
func AppHash(clientID, clientSecret, ownerKey string, scopes []string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		clientID, clientSecret, ownerKey, strings.Join(scopes, ","),
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// ConfigureApp registers a client app for a service and returns its hash.
// Registering the same credentials, owner and scope again returns the
// existing hash without touching the stored app, re-linking it to the owner
// if an earlier attempt stopped short of that.
func (b *Broker) ConfigureApp(ctx context.Context, req RegisterRequest) (string, error) {
	cfg, err := b.catalog.Get(req.Service)
	if err != nil {
		return "", err
	}

	clientID, clientSecret, err := b.resolveCredentials(req)
	if err != nil {
		return "", err
	}
	if err := req.Owner.Validate(); err != nil {
		return "", err
	}
	if req.RedirectURI == "" {
		return "", brokererrors.NewValidationError("redirect uri is required", nil)
	}

	if err := b.owners.EnsureOwner(ctx, req.Owner); err != nil {
		return "", err
	}

	scopes := normalizeScopes(req.Scopes)
	appHash := AppHash(clientID, clientSecret, req.Owner.HashKey(), scopes)
	appKey := AppKey(appHash, req.Service)

	_, err = b.GetApp(ctx, appHash, req.Service)
	switch {
	case err == nil:
		if err := b.owners.LinkApp(ctx, req.Owner, appKey); err != nil {
			return "", err
		}
		logger.Debugw("app already registered", "service", req.Service, "app", appHash)
		b.metrics.AppRegistered(ctx, req.Service, false)
		return appHash, nil
	case !brokererrors.IsAppNotFound(err):
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	app := &App{
		ClientID:          clientID,
		ClientSecret:      clientSecret,
		RedirectURI:       req.RedirectURI,
		UserSelectedScope: scopes,
		TokenURL:          cfg.TokenURL,
		Service:           req.Service,
		CustAuthURL:       strings.TrimRight(req.Origin, "/") + "/auth-url/" + req.Service + "/" + appHash,
		CodeVerifier:      verifier,

		UserInfoURL:                cfg.UserInfoURL,
		AdditionalHeaders:          cfg.AdditionalHeaders,
		AuthTokenRequestURLEncoded: cfg.AuthTokenRequestURLEncoded,
		AuthTokenRequestParamsWithoutClientSecret: cfg.AuthTokenRequestParamsWithoutClientSecret,
		RefreshTokenAuthHeader:                    cfg.RefreshTokenAuthHeader,
		RefreshTokenPolicy:                        cfg.EffectiveRefreshTokenPolicy(),

		SchemaVersion: CurrentAppSchemaVersion,
	}

	app.AppAuthURL, err = buildAuthURL(cfg, app, appHash)
	if err != nil {
		return "", err
	}

	if err := b.store.SetJSON(ctx, appKey, req.Service, app); err != nil {
		return "", fmt.Errorf("failed to store app: %w", err)
	}
	if err := b.owners.LinkApp(ctx, req.Owner, appKey); err != nil {
		return "", err
	}

	logger.Infow("registered app",
		"service", req.Service,
		"app", appHash,
		"owner", req.Owner.Key(),
		"platform_credentials", req.UsePlatformCredentials,
	)
	b.metrics.AppRegistered(ctx, req.Service, true)
	return appHash, nil
}

func (b *Broker) resolveCredentials(req RegisterRequest) (string, string, error) {
	if req.UsePlatformCredentials {
		clientID := b.envReader.Getenv(PlatformClientIDEnvVar(req.Service))
		clientSecret := b.envReader.Getenv(PlatformClientSecretEnvVar(req.Service))
		if clientID == "" || clientSecret == "" {
			return "", "", brokererrors.NewPlatformCredentialsMissingError(req.Service)
		}
		return clientID, clientSecret, nil
	}

	if req.ClientID == "" {
		return "", "", brokererrors.NewValidationError("client id is required", nil)
	}
	if req.ClientSecret == "" {
		return "", "", brokererrors.NewValidationError("client secret is required", nil)
	}
	return req.ClientID, req.ClientSecret, nil
}

// normalizeScopes trims, drops empty entries and removes duplicates while
// keeping the caller's order.
func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// buildAuthURL renders the provider authorization URL for app. Query
// parameters already present on the configured authUrl are kept.
func buildAuthURL(cfg *providers.ServiceConfig, app *App, appHash string) (string, error) {
	u, err := url.Parse(cfg.AuthURL)
	if err != nil {
		return "", brokererrors.NewValidationError(fmt.Sprintf("invalid authUrl for %q", cfg.Name), err)
	}

	params := u.Query()
	params.Set("client_id", app.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", app.RedirectURI)
	params.Set("state", FormatState(appHash, app.Service))
	params.Set("access_type", "offline")
	params.Set("code_challenge", oauth2.S256ChallengeFromVerifier(app.CodeVerifier))
	params.Set("code_challenge_method", "S256")

	if scope := scopeParam(app.UserSelectedScope, cfg.UserInfoScope); scope != "" {
		params.Set("scope", scope)
	}

	for k, v := range cfg.AdditionalRequiredAuthURLParams {
		params.Set(k, v)
	}

	u.RawQuery = params.Encode()
	return u.String(), nil
}

func scopeParam(selected []string, userInfoScope string) string {
	scopes := append([]string{}, selected...)
	if userInfoScope != "" && !slices.Contains(scopes, userInfoScope) {
		scopes = append(scopes, userInfoScope)
	}
	return strings.Join(scopes, " ")
}

// FormatState renders the OAuth state carried through the provider redirect.
func FormatState(appHash, service string) string {
	return appHash + ":" + service
}

// ParseState splits a callback state into its app hash and service.
func ParseState(state string) (appHash, service string, err error) {
	appHash, service, ok := strings.Cut(state, ":")
	if !ok || appHash == "" || service == "" {
		return "", "", brokererrors.NewValidationError("malformed state", nil)
	}
	return appHash, service, nil
}

// GetApp loads an App, upgrading and rewriting records stored in an older layout.
func (b *Broker) GetApp(ctx context.Context, appHash, service string) (*App, error) {
	if appHash == "" {
		return nil, brokererrors.NewValidationError("app hash is required", nil)
	}
	if service == "" {
		return nil, brokererrors.NewValidationError("service is required", nil)
	}
	if _, err := b.catalog.Get(service); err != nil {
		return nil, err
	}

	key := AppKey(appHash, service)
	payload, err := b.store.GetPayload(ctx, key, service)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, brokererrors.NewAppNotFoundError(appHash, service)
	}
	if err != nil {
		return nil, err
	}

	app, migrated, err := decodeApp(payload)
	if err != nil {
		return nil, brokererrors.NewInternalError(fmt.Sprintf("app %s is unreadable", appHash), err)
	}

	if migrated {
		if err := b.store.SetJSON(ctx, key, service, app); err != nil {
			return nil, fmt.Errorf("failed to rewrite migrated app: %w", err)
		}
		logger.Infow("migrated app record", "service", service, "app", appHash, "schema_version", app.SchemaVersion)
	}
	return app, nil
}

// ResolveAuthURL returns the provider authorization URL for a registered app,
// rebuilt from the current service configuration. The stored PKCE verifier
// and credentials are reused, so the result stays valid for the app's
// pending exchange.
func (b *Broker) ResolveAuthURL(ctx context.Context, service, appHash string) (string, error) {
	cfg, err := b.catalog.Get(service)
	if err != nil {
		return "", err
	}
	app, err := b.GetApp(ctx, appHash, service)
	if err != nil {
		return "", err
	}
	return buildAuthURL(cfg, app, appHash)
}
