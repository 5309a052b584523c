// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package apikeys

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
)

// DefaultSessionTTL is the lifetime of a minted session token.
const DefaultSessionTTL = 15 * time.Minute

const sessionIssuer = "oauth-broker"

// Issuer mints and verifies HS256 session tokens for authenticated users.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTTL overrides DefaultSessionTTL.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// NewIssuer returns an Issuer signing with secret. An empty secret yields an
// issuer that refuses to mint and rejects every token.
func NewIssuer(secret string, opts ...IssuerOption) *Issuer {
	i := &Issuer{secret: []byte(secret), ttl: DefaultSessionTTL, now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Mint returns a signed session token whose subject is userID.
func (i *Issuer) Mint(userID string) (string, error) {
	if len(i.secret) == 0 {
		return "", brokererrors.NewInternalError("session secret is not configured", nil)
	}
	if userID == "" {
		return "", brokererrors.NewValidationError("user id is required", nil)
	}

	now := i.now()
	claims := jwt.RegisteredClaims{
		Issuer:    sessionIssuer,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify returns the subject of a valid session token. It fails closed: an
// unset secret, a non-HS256 algorithm, a bad signature or an expired token
// all report false.
func (i *Issuer) Verify(token string) (string, bool) {
	if len(i.secret) == 0 || token == "" {
		return "", false
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		logger.Debugw("session token rejected", "error", err)
		return "", false
	}
	if claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}
