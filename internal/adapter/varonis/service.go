package varonis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/metrics"
	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

// Command names, used for logging and metrics.
const (
	CmdTestModule       = "test-module"
	CmdGetAlerts        = "varonis-get-alerts"
	CmdGetAlertedEvents = "varonis-get-alerted-events"
	CmdUpdateStatus     = "varonis-update-alert-status"
	CmdCloseAlert       = "varonis-close-alert"
	CmdFetchIncidents   = "fetch-incidents"
)

// Service implements the integration commands on top of the API client.
type Service struct {
	client *Client
	logger zerolog.Logger
}

func NewService(client *Client, logger zerolog.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// TestModule checks connectivity and credentials. Rejected credentials are
// reported as a message, not an error.
func (s *Service) TestModule(ctx context.Context) (string, error) {
	err := s.client.Authenticate(ctx)
	if err == nil {
		_, err = s.client.ThreatModels(ctx)
	}
	if errors.Is(err, ErrUnauthorized) {
		s.record(CmdTestModule, nil)
		return AuthErrorMessage, nil
	}
	if err != nil {
		s.record(CmdTestModule, err)
		return "", err
	}
	s.record(CmdTestModule, nil)
	return "ok", nil
}

// GetAlerts searches alerts and returns them as named records.
func (s *Service) GetAlerts(ctx context.Context, q domain.AlertsQuery) ([]domain.Alert, error) {
	alerts, err := s.getAlerts(ctx, q)
	s.record(CmdGetAlerts, err)
	return alerts, err
}

func (s *Service) getAlerts(ctx context.Context, q domain.AlertsQuery) ([]domain.Alert, error) {
	builder := domain.NewQueryBuilder(domain.AlertEntity)

	if len(q.ThreatModels) > 0 {
		enum, err := s.client.ThreatModels(ctx)
		if err != nil {
			return nil, err
		}
		if err := builder.AddThreatModelFilter(q.ThreatModels, enum); err != nil {
			return nil, err
		}
	}
	builder.AddTimeFilter(q.Start, q.End)
	if err := builder.AddStatusFilter(q.Statuses); err != nil {
		return nil, err
	}
	if err := builder.AddSeverityFilter(q.Severities); err != nil {
		return nil, err
	}

	return SearchEntity(ctx, s.client, domain.AlertEntity, builder.Build(), q.MaxResults)
}

// GetAlertedEvents lists the events behind the given alerts.
func (s *Service) GetAlertedEvents(ctx context.Context, alertIDs []string, maxResults int) ([]domain.AlertedEvent, error) {
	events, err := s.getAlertedEvents(ctx, alertIDs, maxResults)
	s.record(CmdGetAlertedEvents, err)
	return events, err
}

func (s *Service) getAlertedEvents(ctx context.Context, alertIDs []string, maxResults int) ([]domain.AlertedEvent, error) {
	ids, err := domain.ParseAlertIDs(strings.Join(alertIDs, ","))
	if err != nil {
		return nil, err
	}
	builder := domain.NewQueryBuilder(domain.EventEntity)
	builder.AddAlertIDFilter(ids)
	return SearchEntity(ctx, s.client, domain.EventEntity, builder.Build(), maxResults)
}

// UpdateAlertStatus moves alerts to Open or Under Investigation. Closing
// requires a reason and goes through CloseAlert.
func (s *Service) UpdateAlertStatus(ctx context.Context, status string, alertIDs []string) error {
	err := s.updateAlertStatus(ctx, status, alertIDs)
	s.record(CmdUpdateStatus, err)
	return err
}

func (s *Service) updateAlertStatus(ctx context.Context, status string, alertIDs []string) error {
	statusID, err := domain.StatusID(status)
	if err != nil {
		return err
	}
	if statusID == domain.ClosedStatusID {
		return fmt.Errorf("%w: %q cannot be set directly, close the alert instead", domain.ErrUnknownStatus, status)
	}
	ids, err := domain.ParseAlertIDs(strings.Join(alertIDs, ","))
	if err != nil {
		return err
	}
	return s.client.SetStatusToAlerts(ctx, StatusUpdate{AlertGUIDs: ids, StatusID: statusID})
}

// CloseAlert closes alerts with the given close reason.
func (s *Service) CloseAlert(ctx context.Context, reason string, alertIDs []string) error {
	err := s.closeAlert(ctx, reason, alertIDs)
	s.record(CmdCloseAlert, err)
	return err
}

func (s *Service) closeAlert(ctx context.Context, reason string, alertIDs []string) error {
	reasonID, err := domain.CloseReasonID(reason)
	if err != nil {
		return err
	}
	ids, err := domain.ParseAlertIDs(strings.Join(alertIDs, ","))
	if err != nil {
		return err
	}
	return s.client.SetStatusToAlerts(ctx, StatusUpdate{
		AlertGUIDs:    ids,
		CloseReasonID: reasonID,
		StatusID:      domain.ClosedStatusID,
	})
}

// FetchIncidents pulls alerts newer than the bookmark and maps them into
// incidents. The caller persists the returned bookmark.
func (s *Service) FetchIncidents(ctx context.Context, p domain.FetchParams, bm domain.Bookmark) (domain.Bookmark, []domain.Incident, error) {
	next, incidents, err := s.fetchIncidents(ctx, p, bm)
	s.record(CmdFetchIncidents, err)
	if err != nil {
		return bm, nil, err
	}
	metrics.RecordFetch(len(incidents), next.LastFetchedID)
	return next, incidents, nil
}

func (s *Service) fetchIncidents(ctx context.Context, p domain.FetchParams, bm domain.Bookmark) (domain.Bookmark, []domain.Incident, error) {
	req := AlertsRequest{
		FromAlertID: bm.LastFetchedID,
		BulkSize:    p.MaxResults,
	}

	if p.Status != "" {
		id, err := domain.StatusID(p.Status)
		if err != nil {
			return bm, nil, err
		}
		req.StatusID = id
	}
	if p.Severity != "" {
		if _, err := domain.SeverityID(p.Severity); err != nil {
			return bm, nil, err
		}
		req.Severity = p.Severity
	}
	if len(p.ThreatModels) > 0 {
		enum, err := s.client.ThreatModels(ctx)
		if err != nil {
			return bm, nil, err
		}
		names, err := resolveThreatModelNames(p.ThreatModels, enum)
		if err != nil {
			return bm, nil, err
		}
		req.ThreatModels = names
	}
	if bm.LastFetchedID == 0 {
		req.StartTime = p.StartTime
	}

	alerts, err := s.client.GetAlerts(ctx, req)
	if err != nil {
		return bm, nil, err
	}

	s.logger.Debug().Int64("from_alert_id", bm.LastFetchedID).Int("alerts", len(alerts)).Msg("fetched alerts")
	return domain.BuildIncidents(bm, alerts)
}

// resolveThreatModelNames checks every name against the rule enum and
// returns the enum spelling.
func resolveThreatModelNames(names []string, enum []domain.ThreatModel) ([]string, error) {
	builder := domain.NewQueryBuilder(domain.AlertEntity)
	if err := builder.AddThreatModelFilter(names, enum); err != nil {
		return nil, err
	}
	var out []string
	for _, f := range builder.Build().Filters() {
		for _, v := range f.Values {
			if name, ok := v["displayValue"].(string); ok {
				out = append(out, name)
			}
		}
	}
	return out, nil
}

func (s *Service) record(command string, err error) {
	if err != nil {
		metrics.RecordCommand(command, "error")
		s.logger.Error().Err(err).Str("command", command).Msg("command failed")
		return
	}
	metrics.RecordCommand(command, "success")
}

// FailureMessage renders a command error the way operators see it.
func FailureMessage(command string, err error) string {
	if errors.Is(err, ErrUnauthorized) {
		return AuthErrorMessage
	}
	return fmt.Sprintf("Failed to execute %s command. Error: %v", command, err)
}
