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
	"github.com/stacklok/oauth-broker/pkg/owners"
)

// AppsRoutes defines the routes for app registration.
type AppsRoutes struct {
	broker Broker
	origin string
}

// AppsRouter creates the app routes. origin is the broker's public base URL.
// Callers must mount it behind RequireUser.
func AppsRouter(b Broker, origin string) http.Handler {
	routes := AppsRoutes{broker: b, origin: origin}

	r := chi.NewRouter()
	r.Post("/", apierrors.ErrorHandler(routes.configureApp))
	r.Get("/", apierrors.ErrorHandler(routes.listApps))
	return r
}

type configureAppRequest struct {
	ClientID               string   `json:"clientId"`
	ClientSecret           string   `json:"clientSecret"`
	RedirectURI            string   `json:"redirectUri"`
	Scopes                 []string `json:"scopes"`
	Service                string   `json:"service"`
	UsePlatformCredentials bool     `json:"usePlatformCredentials"`
}

type configureAppResponse struct {
	AppHash     string `json:"appHash"`
	Service     string `json:"service"`
	CustAuthURL string `json:"custAuthUrl"`
}

type listAppsResponse struct {
	Apps []broker.AppSummary `json:"apps"`
}

func currentOwner(r *http.Request) (owners.Owner, error) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		return owners.Owner{}, brokererrors.NewKeyNotFoundError()
	}
	return owners.User(userID), nil
}

// configureApp registers an app for the authenticated user.
func (s *AppsRoutes) configureApp(w http.ResponseWriter, r *http.Request) error {
	owner, err := currentOwner(r)
	if err != nil {
		return err
	}

	var req configureAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return brokererrors.NewValidationError("invalid request body", err)
	}

	appHash, err := s.broker.ConfigureApp(r.Context(), broker.RegisterRequest{
		ClientID:               req.ClientID,
		ClientSecret:           req.ClientSecret,
		RedirectURI:            req.RedirectURI,
		Scopes:                 req.Scopes,
		Service:                req.Service,
		Origin:                 s.origin,
		Owner:                  owner,
		UsePlatformCredentials: req.UsePlatformCredentials,
	})
	if err != nil {
		return err
	}
	app, err := s.broker.GetApp(r.Context(), appHash, req.Service)
	if err != nil {
		return err
	}

	apierrors.WriteJSON(w, http.StatusOK, configureAppResponse{
		AppHash:     appHash,
		Service:     req.Service,
		CustAuthURL: app.CustAuthURL,
	})
	return nil
}

// listApps lists the authenticated user's apps.
func (s *AppsRoutes) listApps(w http.ResponseWriter, r *http.Request) error {
	owner, err := currentOwner(r)
	if err != nil {
		return err
	}

	apps, err := s.broker.ListApps(r.Context(), owner)
	if brokererrors.IsOwnerNotFound(err) {
		apps, err = []broker.AppSummary{}, nil
	}
	if err != nil {
		return err
	}
	if apps == nil {
		apps = []broker.AppSummary{}
	}

	apierrors.WriteJSON(w, http.StatusOK, listAppsResponse{Apps: apps})
	return nil
}
