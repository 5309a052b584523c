// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/metrics"
	"github.com/stacklok/oauth-broker/pkg/providers"
	"github.com/stacklok/oauth-broker/pkg/storage"
)

// GetToken loads the stored token for an app.
func (b *Broker) GetToken(ctx context.Context, appHash, service string) (*Token, error) {
	if appHash == "" {
		return nil, brokererrors.NewValidationError("app hash is required", nil)
	}
	if service == "" {
		return nil, brokererrors.NewValidationError("service is required", nil)
	}

	var token Token
	err := b.store.GetJSON(ctx, TokenKey(appHash), service, &token)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, brokererrors.NewTokenNotFoundError(appHash)
	}
	if err != nil {
		return nil, err
	}
	return &token, nil
}

// RefreshAccessToken returns a usable access token for an app, refreshing it
// first when it has expired and a refresh token is available. Otherwise the
// stored access token is returned without contacting the provider.
//
// A rejected refresh leaves the stored token untouched. Concurrent refreshes
// of the same token are not deduplicated; the last successful write wins.
func (b *Broker) RefreshAccessToken(ctx context.Context, appHash, service string) (string, error) {
	token, err := b.GetToken(ctx, appHash, service)
	if err != nil {
		return "", err
	}

	if token.RefreshToken == "" || !token.Expired(b.now()) {
		b.metrics.RefreshAttempt(ctx, service, metrics.RefreshSkipped)
		return token.AccessToken, nil
	}

	app, err := b.GetApp(ctx, appHash, service)
	if err != nil {
		return "", err
	}

	req, err := newRefreshRequest(ctx, app, token.RefreshToken)
	if err != nil {
		return "", err
	}

	logger.Infow("refreshing token", "service", service, "app", appHash, "token_endpoint", app.TokenURL)

	reply, err := b.send(ctx, service, metrics.OperationRefresh, req)
	if err != nil {
		b.metrics.RefreshAttempt(ctx, service, metrics.RefreshFailed)
		return "", err
	}
	if !reply.ok() {
		b.metrics.RefreshAttempt(ctx, service, metrics.RefreshFailed)
		return "", brokererrors.NewRefreshFailedError(reply.status, string(reply.body))
	}

	accessToken, err := accessTokenFrom(reply)
	if err != nil {
		b.metrics.RefreshAttempt(ctx, service, metrics.RefreshFailed)
		return "", brokererrors.NewRefreshFailedError(reply.status, string(reply.body))
	}

	refreshed := &Token{
		AccessToken:   accessToken,
		RefreshToken:  gjson.GetBytes(reply.body, "refresh_token").String(),
		ExpiresAt:     expiresAtFrom(reply.body, b.now()),
		User:          token.User,
		TokenResponse: json.RawMessage(reply.body),
	}
	if refreshed.RefreshToken == "" && refreshPolicy(app) == providers.RefreshTokenKeepPrior {
		refreshed.RefreshToken = token.RefreshToken
	}

	if err := b.store.SetJSON(ctx, TokenKey(appHash), service, refreshed); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	b.metrics.RefreshAttempt(ctx, service, metrics.RefreshRefreshed)
	logger.Infow("token refresh successful",
		"service", service,
		"app", appHash,
		"rotated", refreshed.RefreshToken != token.RefreshToken,
		"access_token", logger.Fingerprint(accessToken),
	)
	return accessToken, nil
}

func refreshPolicy(app *App) providers.RefreshTokenPolicy {
	if app.RefreshTokenPolicy == "" {
		return providers.RefreshTokenKeepPrior
	}
	return app.RefreshTokenPolicy
}

// newRefreshRequest builds the refresh_token grant. refreshTokenAuthHeader
// selects Basic auth over body credentials.
func newRefreshRequest(ctx context.Context, app *App, refreshToken string) (*http.Request, error) {
	params := url.Values{
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}
	if !app.RefreshTokenAuthHeader {
		params.Set("client_id", app.ClientID)
		params.Set("client_secret", app.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, app.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if app.RefreshTokenAuthHeader {
		req.SetBasicAuth(app.ClientID, app.ClientSecret)
	}
	return req, nil
}
