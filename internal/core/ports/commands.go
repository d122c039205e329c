package ports

import (
	"context"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

// Commands are the operator-facing operations exposed by the REST, gRPC and
// CLI surfaces.
type Commands interface {
	TestModule(ctx context.Context) (string, error)
	GetAlerts(ctx context.Context, q domain.AlertsQuery) ([]domain.Alert, error)
	GetAlertedEvents(ctx context.Context, alertIDs []string, maxResults int) ([]domain.AlertedEvent, error)
	UpdateAlertStatus(ctx context.Context, status string, alertIDs []string) error
	CloseAlert(ctx context.Context, reason string, alertIDs []string) error
}
