// rewindwatch is a sidecar agent: on small rewinds it temporarily turns
// subtitles on for the affected session and turns them back off once
// playback catches back up to where the rewind started. See
// SPEC_FULL.md for the full component breakdown this wires together.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thejerf/suture/v4"

	"rewindwatch/internal/config"
	"rewindwatch/internal/diag"
	"rewindwatch/internal/dispatch"
	"rewindwatch/internal/eventbus"
	"rewindwatch/internal/eventstream"
	"rewindwatch/internal/httpx"
	"rewindwatch/internal/logging"
	"rewindwatch/internal/manager"
	"rewindwatch/internal/plexapi"
	"rewindwatch/internal/registry"
	"rewindwatch/internal/supervisor"
	"rewindwatch/internal/timeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger := logging.NewConsole(cfg.LogLevel)

	commandClient := httpx.NewCommandClient(cfg.CommandTimeout)
	pollClient := httpx.NewPollClient(cfg.PollTimeout)
	client := plexapi.New(cfg.ServerURL, cfg.AuthToken, cfg.ClientID, commandClient, pollClient, logger)

	promRegistry := prometheus.NewRegistry()
	metrics := diag.NewMetrics(promRegistry)

	reg := registry.New(client, cfg.GracePeriod, logger)
	bus := eventbus.New(logger)
	defer bus.Close()

	poller := timeline.New(client, logger)
	disp := dispatch.New(client, cfg.SendDirectToDevice, logger, metrics)
	mgr := manager.New(reg, bus, poller, disp, cfg, logger, metrics)
	listener := eventstream.New(client, bus, logger, metrics)

	connected := false
	ready := func() bool { return connected }
	diagServer := diag.New(promRegistry, ready)
	httpServer := &http.Server{
		Addr:              envOr("REWINDWATCH_DIAG_ADDR", ":9935"),
		Handler:           diagServer,
		ReadHeaderTimeout: 5 * time.Second,
	}

	sup := supervisor.New(client, supervisor.DefaultConfig(), logger,
		func() []suture.Service {
			connected = true
			return []suture.Service{listener, mgr}
		},
		func(ctx context.Context) {
			logger.Info().Msg("shutting down, force-offing any open temp-on sessions")
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("diagnostics listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("diagnostics server failed")
		}
	}()

	logger.Info().Str("server", cfg.ServerURL).Msg("rewindwatch starting")
	if err := sup.Serve(ctx); err != nil {
		logger.Error().Err(err).Msg("supervisor exited with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("diagnostics server shutdown")
	}
	logger.Info().Msg("rewindwatch stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
