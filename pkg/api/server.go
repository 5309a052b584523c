// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api assembles the broker's HTTP server.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/stacklok/oauth-broker/pkg/api/v1"
	"github.com/stacklok/oauth-broker/pkg/logger"
)

const (
	middlewareTimeout = 60 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Dependencies are the components the routes are built on.
type Dependencies struct {
	Broker   v1.Broker
	Keys     v1.KeyAuthenticator
	Sessions v1.SessionIssuer
	Services v1.ServiceIndex
	// Store is pinged by /health when set.
	Store v1.Pinger
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// Origin is the public base URL of the broker.
	Origin string
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-store")
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the broker's HTTP handler.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(middlewareTimeout),
		requestBodySizeLimitMiddleware(maxRequestBodySize),
		headersMiddleware,
	)

	requireUser := v1.RequireUser(deps.Keys, deps.Sessions)

	r.Mount("/health", v1.HealthcheckRouter(deps.Store))
	r.Mount("/auth-url", v1.AuthURLRouter(deps.Broker))
	r.Mount("/callback", v1.CallbackRouter(deps.Broker))
	r.Mount("/api/services", v1.ServicesRouter(deps.Services))
	r.Mount("/api/jwt", v1.SessionRouter(deps.Keys, deps.Sessions))

	r.Group(func(r chi.Router) {
		r.Use(requireUser)
		r.Mount("/api/apps", v1.AppsRouter(deps.Broker, deps.Origin))
		r.Mount("/api/token", v1.TokenRouter(deps.Broker))
		r.Mount("/api/refresh", v1.RefreshRouter(deps.Broker))
	})

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics)
	}
	return r
}

// Serve listens on address and serves handler until ctx is cancelled.
// It is assumed that the caller sets up appropriate signal handling.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return serveListener(ctx, listener, handler)
}

func serveListener(ctx context.Context, listener net.Listener, handler http.Handler) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Infow("starting HTTP server", "address", listener.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped with error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Infow("HTTP server stopped")
	return nil
}
