package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/exporter"
	"github.com/hive-corporation/varonis-dsp/internal/adapter/transport"
	"github.com/hive-corporation/varonis-dsp/internal/adapter/varonis"
	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
	"github.com/hive-corporation/varonis-dsp/internal/core/ports"
)

// defaultMaxResults applies when a search request does not set max_results.
const defaultMaxResults = 50

// maxResultsLimit caps max_results on every surface.
const maxResultsLimit = 10000

var errEndWithoutStart = errors.New("'end_time' requires 'start_time'")

type RestHandler struct {
	commands    ports.Commands
	repo        ports.IncidentRepository
	cefExporter *exporter.CEFExporter
	logger      zerolog.Logger
}

// NewRestHandler wires the REST surface. repo may be nil, in which case the
// incident endpoints answer 503.
func NewRestHandler(commands ports.Commands, repo ports.IncidentRepository, logger zerolog.Logger) *RestHandler {
	h := &RestHandler{
		commands: commands,
		repo:     repo,
		logger:   logger,
	}
	if repo != nil {
		h.cefExporter = exporter.NewCEFExporter(repo)
	}
	return h
}

// Health check endpoint
func (h *RestHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "varonis-dsp-api",
	}
	h.writeJSON(w, http.StatusOK, response)
}

// TestModule checks connectivity and credentials against the Varonis API
func (h *RestHandler) TestModule(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	result, err := h.commands.TestModule(ctx)
	if err != nil {
		h.writeCommandError(w, varonis.CmdTestModule, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

// GetAlerts - search alerts by threat model, status, severity and time window
func (h *RestHandler) GetAlerts(w http.ResponseWriter, r *http.Request) {
	q, err := parseAlertsQuery(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	alerts, err := h.commands.GetAlerts(ctx, q)
	if err != nil {
		h.writeCommandError(w, varonis.CmdGetAlerts, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// GetAlertedEvents - list the events behind one or more alerts
func (h *RestHandler) GetAlertedEvents(w http.ResponseWriter, r *http.Request) {
	ids := domain.SplitList(r.URL.Query().Get("alert_id"))
	if len(ids) == 0 {
		h.writeError(w, http.StatusBadRequest, "missing 'alert_id' parameter")
		return
	}
	maxResults, err := parseMaxResults(r.URL.Query().Get("max_results"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	events, err := h.commands.GetAlertedEvents(ctx, ids, maxResults)
	if err != nil {
		h.writeCommandError(w, varonis.CmdGetAlertedEvents, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(events),
		"events": events,
	})
}

// UpdateAlertStatusRequest is the body of POST /alerts/status.
type UpdateAlertStatusRequest struct {
	Status  string `json:"status"`
	AlertID string `json:"alert_id"` // comma separated GUIDs
}

// CloseAlertRequest is the body of POST /alerts/close.
type CloseAlertRequest struct {
	CloseReason string `json:"close_reason"`
	AlertID     string `json:"alert_id"` // comma separated GUIDs
}

// UpdateAlertStatus - move alerts to Open or Under Investigation
func (h *RestHandler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateAlertStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.commands.UpdateAlertStatus(ctx, req.Status, domain.SplitList(req.AlertID)); err != nil {
		h.writeCommandError(w, varonis.CmdUpdateStatus, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"updated": true})
}

// CloseAlert - close alerts with a close reason
func (h *RestHandler) CloseAlert(w http.ResponseWriter, r *http.Request) {
	var req CloseAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	if err := h.commands.CloseAlert(ctx, req.CloseReason, domain.SplitList(req.AlertID)); err != nil {
		h.writeCommandError(w, varonis.CmdCloseAlert, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"closed": true})
}

// GetIncidentFeed - export stored incidents for SIEM ingestion
func (h *RestHandler) GetIncidentFeed(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.writeError(w, http.StatusServiceUnavailable, "incident store not configured")
		return
	}

	format := r.URL.Query().Get("format")
	since := r.URL.Query().Get("since") // e.g., "24h"

	var sinceTime time.Time
	if since != "" {
		duration, err := time.ParseDuration(since)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid 'since' parameter (use format like '24h', '90m')")
			return
		}
		sinceTime = time.Now().Add(-duration)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	switch format {
	case "cef":
		data, err := h.cefExporter.Export(ctx, sinceTime)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to export CEF feed")
			h.writeError(w, http.StatusInternalServerError, "failed to export CEF feed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(data)); err != nil {
			h.logger.Warn().Err(err).Msg("error writing CEF feed response")
		}

	case "json", "":
		if sinceTime.IsZero() {
			sinceTime = time.Now().Add(-24 * time.Hour)
		}
		incidents, err := h.repo.FindSince(ctx, sinceTime, 10000)
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to query incidents")
			h.writeError(w, http.StatusInternalServerError, "failed to query incidents")
			return
		}
		if incidents == nil {
			incidents = []domain.Incident{}
		}
		h.writeJSON(w, http.StatusOK, map[string]interface{}{
			"count":     len(incidents),
			"incidents": incidents,
		})

	default:
		h.writeError(w, http.StatusBadRequest, "unsupported format (use 'cef' or 'json')")
	}
}

// GetIncident - look up one stored incident by alert GUID
func (h *RestHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		h.writeError(w, http.StatusServiceUnavailable, "incident store not configured")
		return
	}

	ids, err := domain.ParseAlertIDs(mux.Vars(r)["alert_id"])
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	inc, err := h.repo.FindByAlertID(ctx, ids[0])
	if err != nil {
		h.logger.Error().Err(err).Str("alert_id", ids[0]).Msg("failed to query incident")
		h.writeError(w, http.StatusInternalServerError, "failed to query incident")
		return
	}
	if inc == nil {
		h.writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	h.writeJSON(w, http.StatusOK, inc)
}

// Helper functions

func parseAlertsQuery(r *http.Request) (domain.AlertsQuery, error) {
	params := r.URL.Query()

	maxResults, err := parseMaxResults(params.Get("max_results"))
	if err != nil {
		return domain.AlertsQuery{}, err
	}

	q := domain.AlertsQuery{
		ThreatModels: domain.SplitList(params.Get("threat_model_name")),
		Statuses:     domain.SplitList(params.Get("alert_status")),
		Severities:   domain.SplitList(params.Get("severity")),
		MaxResults:   maxResults,
	}

	if v := params.Get("start_time"); v != "" {
		if q.Start, err = time.Parse(time.RFC3339, v); err != nil {
			return domain.AlertsQuery{}, errors.New("invalid 'start_time' (use RFC 3339)")
		}
	}
	if v := params.Get("end_time"); v != "" {
		if q.End, err = time.Parse(time.RFC3339, v); err != nil {
			return domain.AlertsQuery{}, errors.New("invalid 'end_time' (use RFC 3339)")
		}
	}
	if q.Start.IsZero() && !q.End.IsZero() {
		return domain.AlertsQuery{}, errEndWithoutStart
	}
	if !q.Start.IsZero() && q.End.IsZero() {
		q.End = time.Now().UTC()
	}
	return q, nil
}

func parseMaxResults(v string) (int, error) {
	if v == "" {
		return defaultMaxResults, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 || n > maxResultsLimit {
		return 0, errors.New("invalid 'max_results' parameter")
	}
	return n, nil
}

// statusFor maps command errors onto HTTP statuses: bad arguments are the
// caller's fault, vendor failures are reported as a bad gateway.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownStatus),
		errors.Is(err, domain.ErrUnknownSeverity),
		errors.Is(err, domain.ErrUnknownCloseReason),
		errors.Is(err, domain.ErrUnknownThreatModel),
		errors.Is(err, domain.ErrInvalidAlertID):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}

	var httpErr *transport.HTTPError
	if errors.Is(err, varonis.ErrUnauthorized) || errors.As(err, &httpErr) ||
		errors.Is(err, varonis.ErrNoRowLocation) || errors.Is(err, domain.ErrSchemaDrift) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *RestHandler) writeCommandError(w http.ResponseWriter, command string, err error) {
	h.writeError(w, statusFor(err), varonis.FailureMessage(command, err))
}

func (h *RestHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn().Err(err).Msg("error encoding JSON response")
	}
}

func (h *RestHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
