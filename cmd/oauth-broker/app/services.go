// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stacklok/oauth-broker/pkg/vault"
)

// newServicesCmd lists the configured providers and whether each has a key.
func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List configured OAuth providers",
		Long: `Loads and validates the provider configs and lists each service with
the environment variable holding its encryption key.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			registry, err := loadRegistry(cfg.ServicesDir)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			_, _ = fmt.Fprintln(w, "SERVICE\tPUBLISHED\tKEY VARIABLE\tKEY SET")
			for _, name := range registry.Names() {
				svc, _ := registry.Get(name)
				keyVar := vault.KeyEnvVar(name)
				_, keySet := os.LookupEnv(keyVar)
				_, _ = fmt.Fprintf(w, "%s\t%t\t%s\t%t\n", name, svc.IsProd, keyVar, keySet)
			}
			return w.Flush()
		},
	}
}
