package handler

import (
	"context"
	"time"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

// fakeCommands records the last call and returns canned results.
type fakeCommands struct {
	testResult string
	alerts     []domain.Alert
	events     []domain.AlertedEvent
	err        error

	gotQuery      domain.AlertsQuery
	gotIDs        []string
	gotMaxResults int
	gotStatus     string
	gotReason     string
}

func (f *fakeCommands) TestModule(ctx context.Context) (string, error) {
	return f.testResult, f.err
}

func (f *fakeCommands) GetAlerts(ctx context.Context, q domain.AlertsQuery) ([]domain.Alert, error) {
	f.gotQuery = q
	return f.alerts, f.err
}

func (f *fakeCommands) GetAlertedEvents(ctx context.Context, ids []string, maxResults int) ([]domain.AlertedEvent, error) {
	f.gotIDs = ids
	f.gotMaxResults = maxResults
	return f.events, f.err
}

func (f *fakeCommands) UpdateAlertStatus(ctx context.Context, status string, ids []string) error {
	f.gotStatus = status
	f.gotIDs = ids
	return f.err
}

func (f *fakeCommands) CloseAlert(ctx context.Context, reason string, ids []string) error {
	f.gotReason = reason
	f.gotIDs = ids
	return f.err
}

type fakeIncidentRepo struct {
	incidents []domain.Incident
}

func (f *fakeIncidentRepo) SaveBatch(ctx context.Context, incidents []domain.Incident) error {
	f.incidents = append(f.incidents, incidents...)
	return nil
}

func (f *fakeIncidentRepo) FindByAlertID(ctx context.Context, alertID string) (*domain.Incident, error) {
	for _, inc := range f.incidents {
		if inc.AlertID == alertID {
			return &inc, nil
		}
	}
	return nil, nil
}

func (f *fakeIncidentRepo) FindSince(ctx context.Context, since time.Time, limit int) ([]domain.Incident, error) {
	var out []domain.Incident
	for _, inc := range f.incidents {
		if !inc.Occurred.Before(since) {
			out = append(out, inc)
		}
	}
	return out, nil
}

const testAlertID = "70FED0AD-8C95-4B52-A8EE-47F9AF72514F"

func testAlert() domain.Alert {
	return domain.Alert{
		ID:       testAlertID,
		Name:     "Deletion: Multiple directory service objects",
		Severity: "High",
		Status:   "Open",
	}
}
