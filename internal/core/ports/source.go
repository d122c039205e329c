package ports

import (
	"context"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

// IncidentSource produces incidents newer than a bookmark.
type IncidentSource interface {
	FetchIncidents(ctx context.Context, p domain.FetchParams, bm domain.Bookmark) (domain.Bookmark, []domain.Incident, error)
}
