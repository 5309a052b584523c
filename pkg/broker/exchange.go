// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/metrics"
	"github.com/stacklok/oauth-broker/pkg/networking"
	"github.com/stacklok/oauth-broker/pkg/storage"
)

// providerReply is a token endpoint response that was received in full.
type providerReply struct {
	status int
	body   []byte
}

func (r providerReply) ok() bool {
	return r.status >= 200 && r.status < 300
}

// ExchangeCodeForToken trades an authorization code for tokens, fetches the
// user's identity and stores the result under TokenKey(appHash).
func (b *Broker) ExchangeCodeForToken(ctx context.Context, appHash, service, code string) (*Token, error) {
	if code == "" {
		return nil, brokererrors.NewValidationError("authorization code is required", nil)
	}

	app, err := b.GetApp(ctx, appHash, service)
	if err != nil {
		return nil, err
	}

	req, err := newExchangeRequest(ctx, app, code)
	if err != nil {
		return nil, err
	}

	logger.Infow("exchanging authorization code",
		"service", service,
		"app", appHash,
		"token_endpoint", app.TokenURL,
		"urlencoded", app.AuthTokenRequestURLEncoded,
	)

	reply, err := b.send(ctx, service, metrics.OperationExchange, req)
	if err != nil {
		return nil, err
	}
	if !reply.ok() {
		return nil, brokererrors.NewTokenExchangeFailedError(reply.status, string(reply.body))
	}

	accessToken, err := accessTokenFrom(reply)
	if err != nil {
		return nil, brokererrors.NewTokenExchangeFailedError(reply.status, string(reply.body))
	}

	user := b.fetchUserInfo(ctx, app, accessToken)

	token, err := b.saveToken(ctx, appHash, service, user, reply.body)
	if err != nil {
		return nil, err
	}

	tokenID := TokenKey(appHash)
	app.TokenID = &tokenID
	if err := b.store.SetJSON(ctx, AppKey(appHash, service), service, app); err != nil {
		return nil, fmt.Errorf("failed to attach token to app: %w", err)
	}

	logger.Infow("authorization code exchange successful",
		"service", service,
		"app", appHash,
		"has_refresh_token", token.RefreshToken != "",
		"access_token", logger.Fingerprint(token.AccessToken),
	)
	return token, nil
}

// newExchangeRequest shapes the code exchange for the app's provider.
// Form bodies carry the PKCE verifier and either body credentials or, when
// the provider wants the secret kept out of the body, a Basic header. JSON
// bodies always authenticate with a Basic header.
func newExchangeRequest(ctx context.Context, app *App, code string) (*http.Request, error) {
	if !app.AuthTokenRequestURLEncoded {
		body, err := json.Marshal(map[string]string{
			"code":         code,
			"grant_type":   "authorization_code",
			"redirect_uri": app.RedirectURI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode token request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, app.TokenURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create token request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.SetBasicAuth(app.ClientID, app.ClientSecret)
		return req, nil
	}

	params := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {app.RedirectURI},
		"client_id":     {app.ClientID},
		"client_secret": {app.ClientSecret},
		"code_verifier": {app.CodeVerifier},
	}
	if app.AuthTokenRequestParamsWithoutClientSecret {
		params.Del("client_secret")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, app.TokenURL, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if app.AuthTokenRequestParamsWithoutClientSecret {
		req.SetBasicAuth(app.ClientID, app.ClientSecret)
	}
	return req, nil
}

// send performs one provider round trip. Failing to reach the provider is a
// retryable TransportError; any reply, whatever its status, is returned.
func (b *Broker) send(ctx context.Context, service, operation string, req *http.Request) (providerReply, error) {
	start := time.Now()

	resp, err := b.httpClient.Do(req)
	if err != nil {
		err = brokererrors.NewTransportError(fmt.Sprintf("%s request to %s failed", operation, req.URL.Host), err)
		b.metrics.ObserveProviderCall(ctx, service, operation, start, err)
		return providerReply{}, err
	}

	body, err := networking.ReadBody(resp)
	if err != nil {
		err = brokererrors.NewTransportError(fmt.Sprintf("failed to read %s response", operation), err)
		b.metrics.ObserveProviderCall(ctx, service, operation, start, err)
		return providerReply{}, err
	}

	reply := providerReply{status: resp.StatusCode, body: body}
	var outcome error
	if !reply.ok() {
		outcome = brokererrors.NewError(failureType(operation), "provider rejected request", nil)
	}
	b.metrics.ObserveProviderCall(ctx, service, operation, start, outcome)

	logger.Debugw("provider replied", "service", service, "operation", operation, "status", resp.StatusCode)
	return reply, nil
}

func failureType(operation string) string {
	switch operation {
	case metrics.OperationRefresh:
		return brokererrors.ErrRefreshFailed
	case metrics.OperationUserInfo:
		return brokererrors.ErrUserInfoFailed
	default:
		return brokererrors.ErrTokenExchangeFailed
	}
}

// accessTokenFrom extracts access_token from a successful token reply.
func accessTokenFrom(reply providerReply) (string, error) {
	if !gjson.ValidBytes(reply.body) {
		return "", errors.New("token response is not JSON")
	}
	accessToken := gjson.GetBytes(reply.body, "access_token").String()
	if accessToken == "" {
		return "", errors.New("token response has no access_token")
	}
	return accessToken, nil
}

// expiresAtFrom turns expires_in, sent by providers as a number or a
// numeric string, into epoch milliseconds. Missing or non-positive values
// yield nil.
func expiresAtFrom(body []byte, now time.Time) *int64 {
	expiresIn := gjson.GetBytes(body, "expires_in")
	if !expiresIn.Exists() {
		return nil
	}
	seconds := expiresIn.Float()
	if seconds <= 0 {
		return nil
	}
	at := now.Add(time.Duration(seconds * float64(time.Second))).UnixMilli()
	return &at
}

// saveToken stores the token reply for appHash. A reply without a refresh
// token keeps the one already stored, if any.
func (b *Broker) saveToken(
	ctx context.Context,
	appHash, service string,
	user json.RawMessage,
	tokenResponse []byte,
) (*Token, error) {
	key := TokenKey(appHash)

	var existing Token
	err := b.store.GetJSON(ctx, key, service, &existing)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	token := &Token{
		AccessToken:   gjson.GetBytes(tokenResponse, "access_token").String(),
		RefreshToken:  gjson.GetBytes(tokenResponse, "refresh_token").String(),
		ExpiresAt:     expiresAtFrom(tokenResponse, b.now()),
		User:          user,
		TokenResponse: json.RawMessage(tokenResponse),
	}
	if token.RefreshToken == "" {
		token.RefreshToken = existing.RefreshToken
	}

	if err := b.store.SetJSON(ctx, key, service, token); err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}
	return token, nil
}

// fetchUserInfo asks the provider who the token belongs to. Identity is
// supplementary: a non-OK reply is kept as a JSON string of its text, and a
// provider that stays unreachable after retries yields no user at all.
func (b *Broker) fetchUserInfo(ctx context.Context, app *App, accessToken string) json.RawMessage {
	if app.UserInfoURL == "" {
		return nil
	}

	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
		"Accept":        "application/json",
	}
	if err := mergo.Merge(&headers, app.AdditionalHeaders, mergo.WithOverride); err != nil {
		logger.Warnw("failed to merge user info headers", "service", app.Service, "error", err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = b.userInfoBackoff
	expBackoff.Reset()

	operation := func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, app.UserInfoURL, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		reply, err := b.send(ctx, app.Service, metrics.OperationUserInfo, req)
		if err != nil {
			return nil, err
		}
		if reply.ok() && json.Valid(reply.body) {
			return json.RawMessage(reply.body), nil
		}
		text, err := json.Marshal(string(reply.body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return text, nil
	}

	user, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(b.userInfoAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Debugw("retrying user info", "service", app.Service, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		logger.Warnw("user info unavailable", "service", app.Service, "error", err)
		return nil
	}
	return user
}
