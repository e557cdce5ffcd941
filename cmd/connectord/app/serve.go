// SPDX-FileCopyrightText: Copyright 2025 Igniter, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/igniterhq/connectors/pkg/api"
	"github.com/igniterhq/connectors/pkg/connector"
	"github.com/igniterhq/connectors/pkg/crypto"
	"github.com/igniterhq/connectors/pkg/logger"
	"github.com/igniterhq/connectors/pkg/manager"
	"github.com/igniterhq/connectors/pkg/storage"
	"github.com/igniterhq/connectors/pkg/storage/memory"
	"github.com/igniterhq/connectors/pkg/storage/sqlite"
	"github.com/igniterhq/connectors/pkg/telemetry"
	"github.com/igniterhq/connectors/pkg/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the connector HTTP server",
	Long: `Start the HTTP server hosting the connector catalog, webhook intake,
and OAuth callback endpoints. Connection state is stored in SQLite unless
--memory is given. The encryption secret is read from ` + crypto.SecretEnvVar + `.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 30 * time.Second // Webhook handlers may call out
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	serveCmd.Flags().String("db", "", "SQLite database path (defaults to the XDG data dir)")
	serveCmd.Flags().Bool("memory", false, "Keep connection state in memory instead of SQLite")
	serveCmd.Flags().String("base-url", "", "Public base URL for webhook and callback links")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for traces and metrics")
	serveCmd.Flags().Bool("prometheus", false, "Expose Prometheus metrics at /metrics")

	bindFlags(serveCmd.Flags(),
		"address", "db", "memory", "base-url", "otel-endpoint", "prometheus")
}

func bindFlags(flags *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			logger.Fatalf("Failed to bind %s flag: %v", name, err)
		}
	}
}

func openAdapter(ctx context.Context) (storage.Adapter, error) {
	if viper.GetBool("memory") {
		logger.Info("Using in-memory connection store")
		return memory.New(), nil
	}

	path := viper.GetString("db")
	if path == "" {
		var err error
		path, err = xdg.DataFile("connectord/connectord.db")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
	}
	logger.Infof("Using SQLite connection store at %s", path)
	return sqlite.Open(ctx, path)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	address := viper.GetString("address")

	if crypto.SecretFromEnv() == "" {
		return fmt.Errorf("%s must be set to encrypt stored credentials", crypto.SecretEnvVar)
	}

	adapter, err := openAdapter(ctx)
	if err != nil {
		return fmt.Errorf("failed to open connection store: %w", err)
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		ServiceName:                 "connectord",
		ServiceVersion:              versions.GetVersionInfo().Version,
		OTLPEndpoint:                viper.GetString("otel-endpoint"),
		TracingEnabled:              viper.GetString("otel-endpoint") != "",
		MetricsEnabled:              viper.GetString("otel-endpoint") != "",
		SamplingRate:                0.1,
		EnablePrometheusMetricsPath: viper.GetBool("prometheus"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	sink, err := telemetry.NewOTelSink(provider.MeterProvider())
	if err != nil {
		return fmt.Errorf("failed to create telemetry sink: %w", err)
	}

	baseURL := viper.GetString("base-url")
	if baseURL == "" {
		baseURL = "http://localhost" + address
	}

	m, err := manager.New(ctx,
		manager.WithAdapter(adapter),
		manager.WithLogger(logger.Get()),
		manager.WithTelemetrySink(sink),
		manager.WithBaseURL(baseURL),
		manager.WithBasePath("/api/v1"),
		manager.WithScopes(connector.Scope{Key: "organization", Required: true}),
		manager.WithConnectors(demoConnectors()...),
	)
	if err != nil {
		return fmt.Errorf("failed to build connector manager: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Mount("/api/v1", api.Router(m))
	if viper.GetBool("prometheus") {
		r.Handle("/metrics", provider.PrometheusHandler())
	}

	server := &http.Server{
		Addr:         address,
		Handler:      r,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("Server listening on %s", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Failed to start server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := m.Close(); err != nil {
		logger.Errorf("Failed to close manager: %v", err)
	}
	if err := provider.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Failed to shut down telemetry: %v", err)
	}

	logger.Info("Server shutdown complete")
	return nil
}
