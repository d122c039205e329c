package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/handler"
	"github.com/hive-corporation/varonis-dsp/internal/adapter/metrics"
	"github.com/hive-corporation/varonis-dsp/internal/bootstrap"
	"github.com/hive-corporation/varonis-dsp/internal/config"
	"github.com/hive-corporation/varonis-dsp/internal/core/ports"
	"github.com/hive-corporation/varonis-dsp/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.Bootstrap("dsp-api")
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log, closer, err := logger.New(cfg.Logging, "dsp-api")
	if err != nil {
		bootLog := logger.Bootstrap("dsp-api")
		bootLog.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	log.Info().Msg("prometheus metrics initialized")

	// The incident feed needs postgres; with the redis driver the API still
	// serves the live commands.
	var incidents ports.IncidentRepository
	if cfg.Storage.Driver == "postgres" {
		stores, err := bootstrap.OpenStores(ctx, cfg.Storage, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open storage")
		}
		defer stores.Close()
		incidents = stores.Incidents
	} else {
		log.Warn().Str("driver", cfg.Storage.Driver).Msg("incident feed disabled")
	}

	restHandler := handler.NewRestHandler(bootstrap.NewService(cfg, log), incidents, log)

	srv := &http.Server{
		Addr:         cfg.API.RESTAddr,
		Handler:      handler.NewRouter(restHandler, cfg.API.AuthToken, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.Varonis.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.API.RESTAddr).Msg("REST API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}
	log.Info().Msg("server stopped gracefully")
}
