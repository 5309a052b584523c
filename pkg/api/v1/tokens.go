// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/oauth-broker/pkg/api/errors"
	"github.com/stacklok/oauth-broker/pkg/broker"
	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
)

// TokenRoutes defines the routes that hand tokens to API callers.
type TokenRoutes struct {
	broker Broker
}

// TokenRouter serves GET /api/token. Callers must mount it behind RequireUser.
func TokenRouter(b Broker) http.Handler {
	routes := TokenRoutes{broker: b}
	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(routes.getToken))
	return r
}

// RefreshRouter serves POST /api/refresh/{service}/{appHash}. Callers must
// mount it behind RequireUser.
func RefreshRouter(b Broker) http.Handler {
	routes := TokenRoutes{broker: b}
	r := chi.NewRouter()
	r.Post("/{service}/{appHash}", apierrors.ErrorHandler(routes.refresh))
	return r
}

type tokenResponse struct {
	AccessToken string          `json:"accessToken"`
	ExpiresAt   *int64          `json:"expiresAt,omitempty"`
	User        json.RawMessage `json:"user,omitempty"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// ownsApp checks that the authenticated user has the app linked.
func (s *TokenRoutes) ownsApp(r *http.Request, appHash, service string) error {
	owner, err := currentOwner(r)
	if err != nil {
		return err
	}
	apps, err := s.broker.ListApps(r.Context(), owner)
	if err != nil && !brokererrors.IsOwnerNotFound(err) {
		return err
	}
	for _, app := range apps {
		if app.AppHash == appHash && app.Service == service {
			return nil
		}
	}
	return brokererrors.NewAppNotFoundError(appHash, service)
}

// getToken returns a usable access token for an app, refreshing it first
// when it has expired.
func (s *TokenRoutes) getToken(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	appHash, service := query.Get("appHash"), query.Get("service")
	if appHash == "" || service == "" {
		return brokererrors.NewValidationError("appHash and service are required", nil)
	}
	if err := s.ownsApp(r, appHash, service); err != nil {
		return err
	}

	if _, err := s.broker.RefreshAccessToken(r.Context(), appHash, service); err != nil {
		return err
	}
	token, err := s.broker.GetToken(r.Context(), appHash, service)
	if err != nil {
		return err
	}

	apierrors.WriteJSON(w, http.StatusOK, toTokenResponse(token))
	return nil
}

func toTokenResponse(token *broker.Token) tokenResponse {
	return tokenResponse{AccessToken: token.AccessToken, ExpiresAt: token.ExpiresAt, User: token.User}
}

// refresh refreshes an app's access token if it has expired.
func (s *TokenRoutes) refresh(w http.ResponseWriter, r *http.Request) error {
	appHash, service := chi.URLParam(r, "appHash"), chi.URLParam(r, "service")
	if err := s.ownsApp(r, appHash, service); err != nil {
		return err
	}

	accessToken, err := s.broker.RefreshAccessToken(r.Context(), appHash, service)
	if err != nil {
		return err
	}

	apierrors.WriteJSON(w, http.StatusOK, refreshResponse{AccessToken: accessToken})
	return nil
}
