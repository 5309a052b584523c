// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package providers loads and validates the per-service OAuth metadata the
// broker uses to talk to each third-party provider.
package providers

// RefreshTokenPolicy decides what happens to the stored refresh token when a
// refresh reply does not carry a new one.
type RefreshTokenPolicy string

const (
	// RefreshTokenKeepPrior keeps the previous refresh token (the default).
	RefreshTokenKeepPrior RefreshTokenPolicy = "keep-prior"
	// RefreshTokenRequireNew drops the previous refresh token, leaving the
	// connection non-refreshable until the user authorizes again.
	RefreshTokenRequireNew RefreshTokenPolicy = "require-new"
)

// ServiceConfig describes one OAuth provider. Values are immutable once loaded.
type ServiceConfig struct {
	Name        string            `yaml:"name" json:"name"`
	AuthURL     string            `yaml:"authUrl" json:"authUrl"`
	TokenURL    string            `yaml:"tokenUrl" json:"tokenUrl"`
	UserInfoURL string            `yaml:"userInfoUrl,omitempty" json:"userInfoUrl,omitempty"`
	Scopes      map[string]string `yaml:"scopes" json:"scopes"`

	// UserInfoScope is always requested in addition to the user's selection.
	UserInfoScope string `yaml:"userInfoScope,omitempty" json:"userInfoScope,omitempty"`

	// AdditionalRequiredAuthURLParams override same-named authorization URL parameters.
	AdditionalRequiredAuthURLParams map[string]string `yaml:"additionalRequiredAuthUrlParams,omitempty" json:"additionalRequiredAuthUrlParams,omitempty"`

	// AdditionalHeaders are sent on user-info requests.
	AdditionalHeaders map[string]string `yaml:"additionalHeaders,omitempty" json:"additionalHeaders,omitempty"`

	// AuthTokenRequestURLEncoded selects a form body for the code exchange; false means JSON.
	AuthTokenRequestURLEncoded bool `yaml:"authTokenRequestUrlencoded" json:"authTokenRequestUrlencoded"`

	// AuthTokenRequestParamsWithoutClientSecret moves the client secret out of the
	// form body into a Basic authorization header.
	AuthTokenRequestParamsWithoutClientSecret bool `yaml:"authTokenRequestParamsWithoutClientSecret,omitempty" json:"authTokenRequestParamsWithoutClientSecret,omitempty"`

	// RefreshTokenAuthHeader sends refresh credentials as Basic auth instead of body params.
	RefreshTokenAuthHeader bool `yaml:"refreshTokenAuthHeader" json:"refreshTokenAuthHeader"`

	RefreshTokenPolicy RefreshTokenPolicy `yaml:"refreshTokenPolicy,omitempty" json:"refreshTokenPolicy,omitempty"`

	// IsProd publishes the service in the services index.
	IsProd bool `yaml:"isProd,omitempty" json:"isProd,omitempty"`
}

// EffectiveRefreshTokenPolicy returns the configured policy or the default.
func (c *ServiceConfig) EffectiveRefreshTokenPolicy() RefreshTokenPolicy {
	if c.RefreshTokenPolicy == "" {
		return RefreshTokenKeepPrior
	}
	return c.RefreshTokenPolicy
}

// IndexEntry is one published service in the services index.
type IndexEntry struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
	Link string `json:"link"`
}
