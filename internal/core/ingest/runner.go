package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
	"github.com/hive-corporation/varonis-dsp/internal/core/ports"
)

// Options wires a Runner. Incidents and Notifier are optional.
type Options struct {
	Source    ports.IncidentSource
	Bookmarks ports.BookmarkStore
	Incidents ports.IncidentRepository
	Notifier  ports.Notifier

	// BookmarkKey names the stored bookmark, so several feeds can share a store.
	BookmarkKey string
	Params      domain.FetchParams

	// NotifySeverity is the lowest incident severity pushed to the notifier.
	NotifySeverity int

	Logger zerolog.Logger
}

// Runner executes fetch cycles: load bookmark, fetch, persist incidents,
// then advance the bookmark.
type Runner struct {
	opts Options
}

func NewRunner(opts Options) *Runner {
	if opts.BookmarkKey == "" {
		opts.BookmarkKey = "default"
	}
	return &Runner{opts: opts}
}

// RunOnce performs a single cycle and returns the number of new incidents.
// The bookmark is only saved after the incidents are stored, so a failed
// store re-fetches the same alerts next cycle.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	log := r.opts.Logger

	bm, found, err := r.opts.Bookmarks.Load(ctx, r.opts.BookmarkKey)
	if err != nil {
		return 0, fmt.Errorf("failed to load bookmark: %w", err)
	}
	if !found {
		log.Info().Str("key", r.opts.BookmarkKey).Msg("no bookmark stored, starting first fetch")
	}

	next, incidents, err := r.opts.Source.FetchIncidents(ctx, r.opts.Params, bm)
	if err != nil {
		return 0, fmt.Errorf("fetch failed: %w", err)
	}

	if len(incidents) > 0 && r.opts.Incidents != nil {
		if err := r.opts.Incidents.SaveBatch(ctx, incidents); err != nil {
			return 0, fmt.Errorf("failed to store incidents: %w", err)
		}
	}

	if next != bm || !found {
		if err := r.opts.Bookmarks.Save(ctx, r.opts.BookmarkKey, next); err != nil {
			return 0, fmt.Errorf("failed to save bookmark: %w", err)
		}
	}

	log.Info().
		Int("incidents", len(incidents)).
		Int64("from", bm.LastFetchedID).
		Int64("to", next.LastFetchedID).
		Msg("fetch cycle complete")

	r.notify(incidents)
	return len(incidents), nil
}

// Run repeats RunOnce every interval until ctx is cancelled. Cycle errors
// are logged and the next cycle still runs.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.opts.Logger.Error().Err(err).Msg("fetch cycle failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) notify(incidents []domain.Incident) {
	if r.opts.Notifier == nil {
		return
	}
	var selected []domain.Incident
	for _, inc := range incidents {
		if inc.Severity >= r.opts.NotifySeverity {
			selected = append(selected, inc)
		}
	}
	if len(selected) == 0 {
		return
	}
	if err := r.opts.Notifier.NotifyIncidents(selected); err != nil {
		r.opts.Logger.Warn().Err(err).Int("incidents", len(selected)).Msg("failed to send notification")
	}
}
