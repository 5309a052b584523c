// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package broker registers OAuth client apps and runs the authorization-code
// exchange and token refresh for them.
//
// Provider differences are expressed as flags on providers.ServiceConfig and
// copied onto each App at registration, so one request-shaping path serves
// every provider. The broker keeps no state of its own: every call re-reads
// the store.
package broker

import (
	"net/http"
	"time"

	"github.com/stacklok/toolhive-core/env"

	"github.com/stacklok/oauth-broker/pkg/metrics"
	"github.com/stacklok/oauth-broker/pkg/networking"
	"github.com/stacklok/oauth-broker/pkg/owners"
	"github.com/stacklok/oauth-broker/pkg/providers"
	"github.com/stacklok/oauth-broker/pkg/storage"
)

// DefaultUserInfoAttempts bounds how often a user-info fetch is tried when
// the provider cannot be reached.
const DefaultUserInfoAttempts = 3

// ServiceCatalog resolves provider configuration by service name.
type ServiceCatalog interface {
	Get(service string) (*providers.ServiceConfig, error)
}

// Compile-time interface compliance check.
var _ ServiceCatalog = (*providers.Registry)(nil)

// Broker is the OAuth connection and token lifecycle engine.
type Broker struct {
	catalog          ServiceCatalog
	store            *storage.EncryptedStore
	owners           *owners.Manager
	httpClient       networking.HTTPClient
	envReader        env.Reader
	metrics          *metrics.Metrics
	now              func() time.Time
	userInfoAttempts uint
	userInfoBackoff  time.Duration
}

// Option configures a Broker.
type Option func(*Broker)

// WithHTTPClient sets the client used for provider calls.
func WithHTTPClient(client networking.HTTPClient) Option {
	return func(b *Broker) {
		b.httpClient = client
	}
}

// WithEnvReader sets where platform credentials are read from.
func WithEnvReader(r env.Reader) Option {
	return func(b *Broker) {
		b.envReader = r
	}
}

// WithMetrics sets the instruments provider calls are recorded on.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Broker) {
		b.metrics = m
	}
}

// WithUserInfoRetry sets the number of user-info attempts and the initial
// delay between them.
func WithUserInfoRetry(attempts uint, initialInterval time.Duration) Option {
	return func(b *Broker) {
		if attempts > 0 {
			b.userInfoAttempts = attempts
		}
		if initialInterval > 0 {
			b.userInfoBackoff = initialInterval
		}
	}
}

// New creates a Broker. Without options it uses a bounded HTTP client and
// the process environment.
func New(catalog ServiceCatalog, store *storage.EncryptedStore, ownerManager *owners.Manager, opts ...Option) *Broker {
	b := &Broker{
		catalog:          catalog,
		store:            store,
		owners:           ownerManager,
		httpClient:       &http.Client{Timeout: networking.HttpTimeout},
		envReader:        &env.OSReader{},
		now:              time.Now,
		userInfoAttempts: DefaultUserInfoAttempts,
		userInfoBackoff:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}
