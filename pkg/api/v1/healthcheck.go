// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/stacklok/oauth-broker/pkg/api/errors"
	"github.com/stacklok/oauth-broker/pkg/providers"
)

// HealthcheckRouter sets up healthcheck route. store may be nil.
func HealthcheckRouter(store Pinger) http.Handler {
	routes := &healthcheckRoutes{store: store}
	r := chi.NewRouter()
	r.Get("/", routes.getHealthcheck)
	return r
}

type healthcheckRoutes struct {
	store Pinger
}

func (h *healthcheckRoutes) getHealthcheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			// The store is unreachable, so nothing the broker does can succeed.
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServicesRouter serves the published services index.
func ServicesRouter(index ServiceIndex) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		entries := index.Index()
		if entries == nil {
			entries = []providers.IndexEntry{}
		}
		apierrors.WriteJSON(w, http.StatusOK, entries)
	})
	return r
}
