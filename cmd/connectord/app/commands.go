// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the connectord command-line
// application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/igniterhq/connectors/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "connectord",
	DisableAutoGenTag: true,
	Short:             "connectord serves a multi-tenant third-party integration manager",
	Long: `connectord hosts a connector registry over HTTP: a catalog of third-party
integrations (Slack, GitHub, Stripe, ...) that tenants install, authorize via
OAuth, invoke typed actions against, and receive webhooks for. Connection
credentials are encrypted at rest; delivery and lifecycle events flow to the
configured telemetry backend.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the connectord CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectorsCmd)
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
