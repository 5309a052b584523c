// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/oauth-broker/pkg/api/errors"
	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
)

// SessionRoutes trades API keys for session tokens.
type SessionRoutes struct {
	keys     KeyAuthenticator
	sessions SessionIssuer
}

// SessionRouter serves POST /api/jwt.
func SessionRouter(keys KeyAuthenticator, sessions SessionIssuer) http.Handler {
	routes := SessionRoutes{keys: keys, sessions: sessions}
	r := chi.NewRouter()
	r.Post("/", apierrors.ErrorHandler(routes.mint))
	return r
}

type sessionResponse struct {
	JWT string `json:"jwt"`
}

// mint authenticates the bearer API key and returns a session token.
// Session tokens themselves are not accepted here.
func (s *SessionRoutes) mint(w http.ResponseWriter, r *http.Request) error {
	apiKey := bearerToken(r)
	if apiKey == "" {
		return brokererrors.NewKeyNotFoundError()
	}

	userID, err := s.keys.Authenticate(r.Context(), apiKey)
	if err != nil {
		return err
	}

	token, err := s.sessions.Mint(userID)
	if err != nil {
		return err
	}

	apierrors.WriteJSON(w, http.StatusOK, sessionResponse{JWT: token})
	return nil
}
