/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/cueloop/internal/config"
	"github.com/friendsincode/cueloop/internal/db"
	"github.com/friendsincode/cueloop/internal/logbuffer"
	"github.com/friendsincode/cueloop/internal/logging"
	"github.com/friendsincode/cueloop/internal/playlist"
	"github.com/friendsincode/cueloop/internal/server"
	"github.com/friendsincode/cueloop/internal/storage"
	"github.com/friendsincode/cueloop/internal/telemetry"
	"github.com/friendsincode/cueloop/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

const logBufferCapacity = 2000

var rootCmd = &cobra.Command{
	Use:           "cueloop",
	Short:         "cueloop - playlist player for bounded video segments",
	Long:          "cueloop plays an ordered playlist of video segments, advancing through countdown interludes with optional fades and looping.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cueloop server",
	Long:  "Start the HTTP API, the event stream and the websocket bridge for the browser player page",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.Current().String())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(logOptions())
	return nil
}

func logOptions() logging.Options {
	return logging.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		JSON:        cfg.LogFormat == "json",
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	logBuf := logbuffer.New(logBufferCapacity)
	logger = logging.SetupWithWriter(logOptions(), logbuffer.NewWriter(logBuf, nil))

	logger.Info().Str("version", version.Version).Msg("cueloop starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "cueloop",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("cueloop stopped")
	return nil
}

// openPersister opens the configured storage backend for the offline
// commands. The returned func releases it.
func openPersister() (playlist.Persister, func(), error) {
	if !cfg.StorageBackend.IsDatabase() {
		return storage.NewFileStore(cfg.StateFile, logger), func() {}, nil
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(database); err != nil {
			logger.Warn().Err(err).Msg("close database")
		}
	}
	if err := db.Migrate(database); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return storage.NewDBStore(database, logger), closeDB, nil
}
