// SPDX-License-Identifier: MIT

// Command portald runs the video portal daemon: the HTTP API, the job
// orchestrator and the ffmpeg transcode engine behind it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/watchthefall/portal/internal/api"
	"github.com/watchthefall/portal/internal/assets"
	"github.com/watchthefall/portal/internal/config"
	"github.com/watchthefall/portal/internal/fetch"
	"github.com/watchthefall/portal/internal/jobs"
	"github.com/watchthefall/portal/internal/log"
	"github.com/watchthefall/portal/internal/memguard"
	"github.com/watchthefall/portal/internal/store"
	"github.com/watchthefall/portal/internal/telemetry"
	"github.com/watchthefall/portal/internal/transcode"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	listen := flag.String("listen", "", "listen address (overrides WTF_LISTEN)")
	dataDir := flag.String("data", "", "data directory (overrides WTF_DATA)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("portald %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	log.Configure(log.Config{Service: "portald"})
	logger := log.WithComponent("daemon")

	// Flags win over environment; the data flag rebases every derived dir.
	if *dataDir != "" {
		_ = os.Setenv(config.EnvDataDir, *dataDir)
	}
	cfg := config.FromEnv()
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Str("event", "config.invalid").Msg("invalid configuration")
	}
	if err := cfg.EnsureDirs(); err != nil {
		logger.Fatal().Err(err).Str("event", "config.dirs").Msg("failed to prepare data directories")
	}
	if cfg.AuthKey == "" {
		logger.Warn().Str("event", "config.no_auth_key").Msg("WTF_PORTAL_KEY not set, API authentication disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traces, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TraceEndpoint != "",
		ServiceName:    "portald",
		ServiceVersion: version,
		ExporterType:   cfg.TraceExporter,
		Endpoint:       cfg.TraceEndpoint,
		SamplingRate:   1.0,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("event", "telemetry.init_failed").Msg("failed to initialise tracing")
	}
	defer func() {
		if err := traces.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown")
		}
	}()

	st, err := store.OpenBolt(cfg.DataDir)
	if err != nil {
		logger.Fatal().Err(err).Str("event", "store.open_failed").Msg("failed to open job store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("closing job store")
		}
	}()

	resolver := assets.NewResolver(cfg.TemplateDir)
	defer func() { _ = resolver.Close() }()

	guard := memguard.New(cfg.MemoryFloorBytes, cfg.MemorySoftBytes)
	engine := transcode.NewRunner(cfg.FFmpegBin, cfg.TranscodeTimeout, transcode.Options{
		LowMemory: cfg.LowMemoryMode,
	})

	manager := jobs.NewManager(jobs.Deps{
		Store:    st,
		Guard:    guard,
		Resolver: resolver,
		Engine:   engine,
	}, jobs.Settings{
		OutputDir:     cfg.OutputDir,
		TempDir:       cfg.TempDir,
		MaxConcurrent: cfg.MaxConcurrentJobs,
	})

	var fetcher *fetch.Fetcher
	if cfg.FetchBin != "" {
		fetcher = fetch.New(cfg.FetchBin, cfg.OutputDir, cfg.MaxFetchURLs, cfg.TranscodeTimeout)
	}

	srv := api.New(cfg, manager, st, resolver, fetcher)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("event", "daemon.listening").
			Str("addr", cfg.ListenAddr).
			Str("version", version).
			Msg("portal daemon started")
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "daemon.shutdown").Msg("signal received, shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("event", "daemon.serve_failed").Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	// Let in-flight jobs write their terminal status before the store closes.
	logger.Info().Str("event", "daemon.draining").Msg("waiting for in-flight jobs")
	manager.Wait()
	logger.Info().Str("event", "daemon.stopped").Msg("portal daemon stopped")
}
