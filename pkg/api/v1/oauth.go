// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/oauth-broker/pkg/api/errors"
	"github.com/stacklok/oauth-broker/pkg/broker"
	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
)

// OAuthRoutes defines the browser-facing authorization routes.
type OAuthRoutes struct {
	broker Broker
}

// AuthURLRouter serves /auth-url/{service}/{appHash}.
func AuthURLRouter(b Broker) http.Handler {
	routes := OAuthRoutes{broker: b}
	r := chi.NewRouter()
	r.Get("/{service}/{appHash}", apierrors.ErrorHandler(routes.redirectToProvider))
	return r
}

// CallbackRouter serves the provider redirect target.
func CallbackRouter(b Broker) http.Handler {
	routes := OAuthRoutes{broker: b}
	r := chi.NewRouter()
	r.Get("/", apierrors.ErrorHandler(routes.callback))
	return r
}

type callbackResponse struct {
	AppHash   string          `json:"appHash"`
	Service   string          `json:"service"`
	Connected bool            `json:"connected"`
	User      json.RawMessage `json:"user,omitempty"`
}

// redirectToProvider sends the browser to the stored authorization URL.
func (s *OAuthRoutes) redirectToProvider(w http.ResponseWriter, r *http.Request) error {
	authURL, err := s.broker.ResolveAuthURL(r.Context(), chi.URLParam(r, "service"), chi.URLParam(r, "appHash"))
	if err != nil {
		return err
	}
	http.Redirect(w, r, authURL, http.StatusFound)
	return nil
}

// callback exchanges the authorization code named by the provider redirect.
// Tokens are stored, never echoed back to the browser.
func (s *OAuthRoutes) callback(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query()
	if providerErr := query.Get("error"); providerErr != "" {
		return brokererrors.NewValidationError(
			fmt.Sprintf("provider denied authorization: %s %s", providerErr, query.Get("error_description")), nil)
	}

	code := query.Get("code")
	if code == "" {
		return brokererrors.NewValidationError("code is required", nil)
	}
	appHash, service, err := broker.ParseState(query.Get("state"))
	if err != nil {
		return err
	}

	token, err := s.broker.ExchangeCodeForToken(r.Context(), appHash, service, code)
	if err != nil {
		return err
	}

	apierrors.WriteJSON(w, http.StatusOK, callbackResponse{
		AppHash:   appHash,
		Service:   service,
		Connected: true,
		User:      token.User,
	})
	return nil
}
