// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the connectord daemon.
package main

import (
	"os"

	"github.com/igniterhq/connectors/cmd/connectord/app"
	"github.com/igniterhq/connectors/pkg/logger"
)

func main() {
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
