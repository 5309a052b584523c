// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"time"

	"github.com/stacklok/oauth-broker/pkg/owners"
	"github.com/stacklok/oauth-broker/pkg/providers"
)

// CurrentAppSchemaVersion is written on every App the broker stores.
// Version 1 records kept the selected scope as a single string.
const CurrentAppSchemaVersion = 2

// App is a registered client application for one service. It is stored
// encrypted under AppKey(appHash, service).
type App struct {
	ClientID          string   `json:"clientId"`
	ClientSecret      string   `json:"clientSecret"`
	RedirectURI       string   `json:"redirectUri"`
	UserSelectedScope []string `json:"userSelectedScope"`
	AppAuthURL        string   `json:"appAuthUrl"`
	TokenURL          string   `json:"tokenUrl"`
	Service           string   `json:"service"`
	TokenID           *string  `json:"tokenId"`
	CustAuthURL       string   `json:"custAuthUrl"`
	CodeVerifier      string   `json:"codeVerifier"`

	// Provider behaviour captured at registration time.
	UserInfoURL                               string                       `json:"userInfoUrl,omitempty"`
	AdditionalHeaders                         map[string]string            `json:"additionalHeaders,omitempty"`
	AuthTokenRequestURLEncoded                bool                         `json:"authTokenRequestUrlencoded"`
	AuthTokenRequestParamsWithoutClientSecret bool                         `json:"authTokenRequestParamsWithoutClientSecret,omitempty"`
	RefreshTokenAuthHeader                    bool                         `json:"refreshTokenAuthHeader"`
	RefreshTokenPolicy                        providers.RefreshTokenPolicy `json:"refreshTokenPolicy,omitempty"`

	SchemaVersion int `json:"schemaVersion"`
}

// Token is the stored result of a code exchange or refresh, kept under TokenKey(appHash).
type Token struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresAt is epoch milliseconds. Nil means the provider gave no lifetime.
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
	// User is the provider's user-info reply: a JSON document, or a JSON
	// string holding the raw text of a non-OK reply.
	User json.RawMessage `json:"user,omitempty"`
	// TokenResponse is the provider's token reply, verbatim.
	TokenResponse json.RawMessage `json:"tokenResponse,omitempty"`
}

// Expired reports whether the access token's lifetime has passed at now.
// A token without a known lifetime never expires.
func (t *Token) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && *t.ExpiresAt < now.UnixMilli()
}

// RegisterRequest is the input to ConfigureApp.
type RegisterRequest struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	Service      string
	// Origin is the public base URL of the broker, used to build CustAuthURL.
	Origin string
	Owner  owners.Owner
	// UsePlatformCredentials replaces ClientID and ClientSecret with the
	// broker's own credentials for the service.
	UsePlatformCredentials bool
}

// AppSummary is the non-secret view of an app returned by listings.
type AppSummary struct {
	AppHash     string   `json:"appHash"`
	Service     string   `json:"service"`
	ClientID    string   `json:"clientId"`
	Scopes      []string `json:"scopes"`
	CustAuthURL string   `json:"custAuthUrl"`
	Connected   bool     `json:"connected"`
}

// AppKey is the store key of an App.
func AppKey(appHash, service string) string {
	return "app:" + appHash + ":" + service
}

// TokenKey is the store key of a Token.
func TokenKey(appHash string) string {
	return "token:" + appHash
}
