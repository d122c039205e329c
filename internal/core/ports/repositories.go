package ports

import (
	"context"
	"time"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

// BookmarkStore persists the fetch position between cycles.
type BookmarkStore interface {
	// Load returns the stored bookmark and whether one existed.
	Load(ctx context.Context, key string) (domain.Bookmark, bool, error)
	Save(ctx context.Context, key string, bm domain.Bookmark) error
}

type IncidentRepository interface {
	SaveBatch(ctx context.Context, incidents []domain.Incident) error
	FindByAlertID(ctx context.Context, alertID string) (*domain.Incident, error)
	FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Incident, error)
}
