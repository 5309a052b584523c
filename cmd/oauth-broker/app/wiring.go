// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/oauth-broker/configs"
	"github.com/stacklok/oauth-broker/pkg/apikeys"
	"github.com/stacklok/oauth-broker/pkg/broker"
	"github.com/stacklok/oauth-broker/pkg/config"
	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/metrics"
	"github.com/stacklok/oauth-broker/pkg/owners"
	"github.com/stacklok/oauth-broker/pkg/providers"
	"github.com/stacklok/oauth-broker/pkg/storage"
	"github.com/stacklok/oauth-broker/pkg/storage/sqlite"
	"github.com/stacklok/oauth-broker/pkg/vault"
)

// components is everything a command may need, built from one Config.
type components struct {
	registry      *providers.Registry
	store         storage.Store
	broker        *broker.Broker
	owners        *owners.Manager
	keys          *apikeys.Manager
	issuer        *apikeys.Issuer
	metricsHandle http.Handler
}

// loadRegistry reads provider configs from dir, or the built-in set when empty.
func loadRegistry(dir string) (*providers.Registry, error) {
	if dir != "" {
		return providers.Load(dir)
	}
	return providers.LoadFS(configs.Services())
}

func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	registry, err := loadRegistry(cfg.ServicesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load service configs: %w", err)
	}

	store, err := sqlite.NewStore(ctx, cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	httpClient, err := cfg.HTTPClient()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to build http client: %w", err)
	}

	m := metrics.NewNoop()
	var metricsHandler http.Handler
	if cfg.Metrics {
		m, metricsHandler, err = metrics.NewPrometheus(true)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	envReader := &env.OSReader{}
	if cfg.AllowPlaintext {
		logger.Warnw("plaintext fallback enabled, services without a key are stored unencrypted")
	}
	keyRing := vault.NewKeyRing(vault.WithEnvReader(envReader), vault.WithPlaintextFallback(cfg.AllowPlaintext))
	ownerManager := owners.NewManager(store)

	b := broker.New(registry, storage.NewEncryptedStore(store, keyRing), ownerManager,
		broker.WithHTTPClient(httpClient),
		broker.WithEnvReader(envReader),
		broker.WithMetrics(m),
	)

	if cfg.JWTSecret == "" {
		logger.Warnw("no jwt secret configured, session tokens are disabled")
	}

	return &components{
		registry:      registry,
		store:         store,
		broker:        b,
		owners:        ownerManager,
		keys:          apikeys.NewManager(store),
		issuer:        apikeys.NewIssuer(cfg.JWTSecret),
		metricsHandle: metricsHandler,
	}, nil
}
