// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	brokererrors "github.com/stacklok/oauth-broker/pkg/errors"
	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/owners"
)

// maxParallelAppLoads bounds concurrent store reads when listing apps.
const maxParallelAppLoads = 8

// ParseAppKey splits an app key into its hash and service.
func ParseAppKey(key string) (appHash, service string, err error) {
	rest, ok := strings.CutPrefix(key, "app:")
	if !ok {
		return "", "", brokererrors.NewValidationError("malformed app key", nil)
	}
	return ParseState(rest)
}

// ListApps returns a summary of every app linked to owner, in link order.
// Apps whose record has disappeared are skipped.
func (b *Broker) ListApps(ctx context.Context, owner owners.Owner) ([]AppSummary, error) {
	keys, err := b.owners.Apps(ctx, owner)
	if err != nil {
		return nil, err
	}

	summaries := make([]*AppSummary, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelAppLoads)

	for i, key := range keys {
		g.Go(func() error {
			appHash, service, err := ParseAppKey(key)
			if err != nil {
				logger.Warnw("skipping malformed app key", "owner", owner.Key(), "key", key)
				return nil
			}

			app, err := b.GetApp(gctx, appHash, service)
			if brokererrors.IsAppNotFound(err) {
				logger.Warnw("owner links a missing app", "owner", owner.Key(), "key", key)
				return nil
			}
			if err != nil {
				return err
			}

			summaries[i] = &AppSummary{
				AppHash:     appHash,
				Service:     service,
				ClientID:    app.ClientID,
				Scopes:      app.UserSelectedScope,
				CustAuthURL: app.CustAuthURL,
				Connected:   app.TokenID != nil,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]AppSummary, 0, len(summaries))
	for _, s := range summaries {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}
