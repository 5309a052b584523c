// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the oauth-broker command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/oauth-broker/pkg/config"
	"github.com/stacklok/oauth-broker/pkg/logger"
)

// NewRootCmd creates a new root command for the oauth-broker CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "oauth-broker",
		DisableAutoGenTag: true,
		Short:             "OAuth2 connection broker",
		Long: `oauth-broker registers OAuth2 apps on behalf of users, runs the
authorization-code flow against configured providers and keeps the resulting
tokens encrypted and fresh.

Provider behaviour is described declaratively in YAML service configs; each
service's records are sealed with its own AES-256-GCM key taken from
ENCRYPTION_KEY_<SERVICE>.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		// Silence printing the usage on error
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}
	config.AddFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newServicesCmd())
	rootCmd.AddCommand(newAPIKeyCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig resolves the configuration for cmd from flags, env and file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(viper.New(), cmd.Flags())
}

// newVersionCmd creates the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("oauth-broker version: %s\n", getVersion())
		},
	}
}

// version is set at build time with -ldflags.
var version = "dev"

func getVersion() string {
	return version
}
