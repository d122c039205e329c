// Package bootstrap wires adapters from configuration for the binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/notifier"
	"github.com/hive-corporation/varonis-dsp/internal/adapter/repository"
	"github.com/hive-corporation/varonis-dsp/internal/adapter/transport"
	"github.com/hive-corporation/varonis-dsp/internal/adapter/varonis"
	"github.com/hive-corporation/varonis-dsp/internal/config"
	"github.com/hive-corporation/varonis-dsp/internal/core/ports"
)

// VaronisConfig maps the varonis section onto the client configuration.
func VaronisConfig(cfg config.VaronisConfig) varonis.Config {
	vc := varonis.DefaultConfig()
	vc.URL = cfg.URL
	vc.Username = cfg.Username
	vc.Password = cfg.Password
	vc.RowRetries = cfg.RowRetries
	if cfg.RetryInterval > 0 {
		vc.RetryInterval = cfg.RetryInterval
	}
	if cfg.EnumCacheTTL > 0 {
		vc.EnumCacheTTL = cfg.EnumCacheTTL
	}

	vc.HTTP = transport.Config{
		Timeout:              cfg.Timeout,
		InsecureSkipVerify:   cfg.Insecure,
		EnableCircuitBreaker: cfg.CircuitBreaker.Enabled,
		MaxFailures:          cfg.CircuitBreaker.MaxFailures,
		CircuitTimeout:       cfg.CircuitBreaker.Timeout,
		RequestsPerSecond:    cfg.RequestsPerSecond,
		Burst:                cfg.Burst,
	}
	return vc
}

// NewService builds the command service on top of a fresh API client.
func NewService(cfg *config.Config, logger zerolog.Logger) *varonis.Service {
	client := varonis.NewClient(VaronisConfig(cfg.Varonis), logger.With().Str("component", "varonis").Logger())
	return varonis.NewService(client, logger)
}

// Stores groups the persistence ports. Incidents is nil for the redis
// driver, which only keeps bookmarks.
type Stores struct {
	Bookmarks ports.BookmarkStore
	Incidents ports.IncidentRepository
	close     func()
}

func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores connects the configured storage driver.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger zerolog.Logger) (*Stores, error) {
	switch cfg.Driver {
	case "redis":
		store, err := repository.NewRedisBookmarkStore(repository.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("using redis bookmark store")
		return &Stores{Bookmarks: store, close: func() { _ = store.Close() }}, nil

	case "postgres", "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		repo := repository.NewPostgresRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info().Msg("using postgres incident and bookmark store")
		return &Stores{Bookmarks: repo, Incidents: repo, close: pool.Close}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// NewNotifier returns the Slack notifier, or nil when no bot token is set.
func NewNotifier(cfg config.SlackConfig) ports.Notifier {
	if cfg.BotToken == "" {
		return nil
	}
	return notifier.NewSlackNotifier(cfg.BotToken, cfg.Channel, cfg.MentionTeam)
}

// CheckIngestSinks refuses an ingester that would advance the bookmark
// without keeping fetched incidents anywhere. With only a notifier, incidents
// below the notify threshold are dropped, which is logged as a warning.
func CheckIngestSinks(stores *Stores, n ports.Notifier, notifySeverity int, logger zerolog.Logger) error {
	if stores.Incidents != nil {
		return nil
	}
	if n == nil {
		return fmt.Errorf("no incident store and no notifier configured: fetched incidents would be lost (use the postgres driver or set a Slack bot token)")
	}
	logger.Warn().
		Int("notify_severity", notifySeverity).
		Msg("no incident store: incidents below the notify severity are not kept")
	return nil
}
