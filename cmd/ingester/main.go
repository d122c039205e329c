package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/metrics"
	"github.com/hive-corporation/varonis-dsp/internal/bootstrap"
	"github.com/hive-corporation/varonis-dsp/internal/config"
	"github.com/hive-corporation/varonis-dsp/internal/core/ingest"
	"github.com/hive-corporation/varonis-dsp/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	once := flag.Bool("once", false, "Run a single fetch cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.Bootstrap("ingester")
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log, closer, err := logger.New(cfg.Logging, "ingester")
	if err != nil {
		bootLog := logger.Bootstrap("ingester")
		bootLog.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	stores, err := bootstrap.OpenStores(ctx, cfg.Storage, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to open storage")
	}
	defer stores.Close()

	params, err := cfg.FetchParams(time.Now())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fetch settings")
	}

	notifier := bootstrap.NewNotifier(cfg.Slack)
	if notifier == nil {
		log.Warn().Msg("slack notifier disabled (no SLACK_BOT_TOKEN)")
	}
	if err := bootstrap.CheckIngestSinks(stores, notifier, cfg.Fetch.NotifySeverity, log); err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("refusing to ingest")
	}

	runner := ingest.NewRunner(ingest.Options{
		Source:         bootstrap.NewService(cfg, log),
		Bookmarks:      stores.Bookmarks,
		Incidents:      stores.Incidents,
		Notifier:       notifier,
		BookmarkKey:    cfg.Fetch.BookmarkKey,
		Params:         params,
		NotifySeverity: cfg.Fetch.NotifySeverity,
		Logger:         log,
	})

	if *once {
		n, err := runner.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("fetch cycle failed")
			os.Exit(1)
		}
		log.Info().Int("incidents", n).Msg("fetch finished")
		return
	}

	log.Info().
		Dur("interval", cfg.Fetch.Interval).
		Int("max_fetch", cfg.Fetch.MaxFetch).
		Msg("incident ingestion started")
	if err := runner.Run(ctx, cfg.Fetch.Interval); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("ingestion stopped")
	}
	log.Info().Msg("ingester stopped")
}
