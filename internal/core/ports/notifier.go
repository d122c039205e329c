package ports

import "github.com/hive-corporation/varonis-dsp/internal/core/domain"

// Notifier pushes newly fetched incidents to an external channel.
type Notifier interface {
	NotifyIncidents(incidents []domain.Incident) error
}
