// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/spf13/cobra"

	"github.com/stacklok/oauth-broker/pkg/api"
	v1 "github.com/stacklok/oauth-broker/pkg/api/v1"
	"github.com/stacklok/oauth-broker/pkg/logger"
)

// newServeCmd creates the serve command for starting the HTTP server
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the broker HTTP server",
		Long:  `Starts the broker HTTP server and listens for requests until interrupted.`,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.store.Close(); err != nil {
			logger.Warnw("failed to close store", "error", err)
		}
	}()

	deps := api.Dependencies{
		Broker:   c.broker,
		Keys:     c.keys,
		Sessions: c.issuer,
		Services: c.registry,
		Metrics:  c.metricsHandle,
		Origin:   cfg.Origin(),
	}
	if pinger, ok := c.store.(v1.Pinger); ok {
		deps.Store = pinger
	}

	logger.Infow("broker configured",
		"storage", cfg.Storage,
		"services", len(c.registry.Names()),
		"origin", deps.Origin,
	)
	return api.Serve(ctx, cfg.ListenAddress, api.NewRouter(deps))
}
