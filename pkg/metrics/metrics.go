// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package metrics records broker activity through OpenTelemetry instruments
// and exposes them in the Prometheus text format.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
)

const instrumentationName = "github.com/stacklok/oauth-broker"

// Provider call operations.
const (
	OperationExchange = "exchange"
	OperationRefresh  = "refresh"
	OperationUserInfo = "userinfo"
)

var (
	attrService   = attribute.Key("service")
	attrOperation = attribute.Key("operation")
	attrErrorType = attribute.Key("error.type")
	attrOutcome   = attribute.Key("outcome")
)

// Metrics holds the broker's instruments. A nil *Metrics records nothing.
type Metrics struct {
	providerRequests metric.Int64Counter
	providerErrors   metric.Int64Counter
	providerDuration metric.Float64Histogram
	appsRegistered   metric.Int64Counter
	refreshes        metric.Int64Counter
}

// New creates the broker instruments on meterProvider.
func New(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter(instrumentationName)

	providerRequests, err := meter.Int64Counter(
		"oauth_broker_provider_requests",
		metric.WithDescription("Total number of requests sent to OAuth providers"))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider requests counter: %w", err)
	}
	providerErrors, err := meter.Int64Counter(
		"oauth_broker_provider_errors",
		metric.WithDescription("Total number of failed requests to OAuth providers"))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider errors counter: %w", err)
	}
	providerDuration, err := meter.Float64Histogram(
		"oauth_broker_provider_request_duration",
		metric.WithDescription("Duration of requests to OAuth providers in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider duration histogram: %w", err)
	}
	appsRegistered, err := meter.Int64Counter(
		"oauth_broker_apps_registered",
		metric.WithDescription("Total number of app registrations, new or existing"))
	if err != nil {
		return nil, fmt.Errorf("failed to create apps registered counter: %w", err)
	}
	refreshes, err := meter.Int64Counter(
		"oauth_broker_token_refreshes",
		metric.WithDescription("Total number of refresh attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refreshes counter: %w", err)
	}

	return &Metrics{
		providerRequests: providerRequests,
		providerErrors:   providerErrors,
		providerDuration: providerDuration,
		appsRegistered:   appsRegistered,
		refreshes:        refreshes,
	}, nil
}

// NewNoop returns instruments that discard every measurement.
func NewNoop() *Metrics {
	m, _ := New(noop.NewMeterProvider())
	return m
}

// NewPrometheus wires the instruments to a fresh Prometheus registry and
// returns the handler that serves it.
func NewPrometheus(includeRuntimeMetrics bool) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	if includeRuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	m, err := New(sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// ObserveProviderCall records one round trip to a provider.
func (m *Metrics) ObserveProviderCall(ctx context.Context, service, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attrService.String(service), attrOperation.String(operation))
	m.providerRequests.Add(ctx, 1, attrs)
	m.providerDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		m.providerErrors.Add(ctx, 1, metric.WithAttributes(
			attrService.String(service),
			attrOperation.String(operation),
			attrErrorType.String(brokererrors.TypeOf(err)),
		))
	}
}

// AppRegistered counts a ConfigureApp call. created is false when an
// existing app was returned.
func (m *Metrics) AppRegistered(ctx context.Context, service string, created bool) {
	if m == nil {
		return
	}
	outcome := "existing"
	if created {
		outcome = "created"
	}
	m.appsRegistered.Add(ctx, 1, metric.WithAttributes(attrService.String(service), attrOutcome.String(outcome)))
}

// Refresh outcomes.
const (
	RefreshSkipped   = "skipped"
	RefreshRefreshed = "refreshed"
	RefreshFailed    = "failed"
)

// RefreshAttempt counts a RefreshAccessToken call by outcome.
func (m *Metrics) RefreshAttempt(ctx context.Context, service, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attrService.String(service), attrOutcome.String(outcome)))
}
