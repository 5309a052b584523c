// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stacklok/oauth-broker/pkg/logger"
	"github.com/stacklok/oauth-broker/pkg/owners"
)

func newAPIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newAPIKeyCreateCmd(), newAPIKeyListCmd(), newAPIKeyDeleteCmd())
	return cmd
}

func newAPIKeyCreateCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key",
		Long: `Creates an API key for a session user and prints it once. A new session
user is created when --user is not given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := buildComponents(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(c)

			if userID == "" {
				userID = owners.NewSessionUserID()
			}
			if err := c.owners.EnsureSessionUser(ctx, userID); err != nil {
				return err
			}

			plainKey, keyHash, err := c.keys.Create(ctx, args[0], userID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "user:    %s\n", userID)
			_, _ = fmt.Fprintf(out, "key id:  %s\n", keyHash)
			_, _ = fmt.Fprintf(out, "api key: %s\n", plainKey)
			_, _ = fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Session user id to issue the key for")
	return cmd
}

func newAPIKeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <user>",
		Short: "List a user's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := buildComponents(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(c)

			keys, err := c.keys.List(ctx, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(w, "KEY ID\tNAME\tCREATED\tREQUESTS")
			for _, k := range keys {
				created := time.UnixMilli(k.CreatedAt).UTC().Format(time.RFC3339)
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", k.Hash, k.Name, created, k.Usage.Requests)
			}
			return w.Flush()
		},
	}
}

func newAPIKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <user> <key id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := buildComponents(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore(c)

			return c.keys.Delete(ctx, args[1], args[0])
		},
	}
}

func closeStore(c *components) {
	if err := c.store.Close(); err != nil {
		logger.Warnw("failed to close store", "error", err)
	}
}
