// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	apierrors "github.com/stacklok/oauth-broker/pkg/api/errors"
	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
)

// userContextKey stores the authenticated user id in the request context.
type userContextKey struct{}

// WithUser stores an authenticated user id in ctx.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userContextKey{}, userID)
}

// UserFromContext returns the authenticated user id, if any.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userContextKey{}).(string)
	return userID, ok && userID != ""
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequireUser authenticates the bearer credential, a session token or an API
// key, and counts the request against the user's usage.
func RequireUser(keys KeyAuthenticator, sessions SessionIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := bearerToken(r)
			if credential == "" {
				apierrors.Write(w, brokererrors.NewKeyNotFoundError())
				return
			}

			userID, ok := sessions.Verify(credential)
			if !ok {
				var err error
				userID, err = keys.Authenticate(r.Context(), credential)
				if err != nil {
					apierrors.Write(w, err)
					return
				}
			}

			count, err := keys.ConsumeUsage(r.Context(), userID)
			if err != nil {
				logger.Warnw("failed to count usage", "user", userID, "error", err)
			} else {
				w.Header().Set("X-Usage-Count", strconv.FormatInt(count, 10))
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}
