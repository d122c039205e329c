package varonis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

const (
	guidA = "70FED0AD-8C95-4B52-A8EE-47F9AF72514F"
	guidB = "08CA3B6B-CFC4-45B0-8822-4C0BD007E0B0"
)

func serveFetchAlerts(f *fakeDSP) {
	f.handle("GET /DatAdvantage/api/alert/alert/GetXsoarAlerts", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{
			{
				"ID": guidA, "Name": "Deletion: Multiple directory service objects",
				"Time": "2022-04-13T10:01:35", "Severity": "High", "Status": "Open",
				"NumOfAlertedEvents": 3, "AlertSeqId": 152,
			},
			{
				"ID": guidB, "Name": "Abnormal service behavior",
				"Time": "2022-04-13T10:01:33", "Severity": "Medium", "Status": "Open",
				"NumOfAlertedEvents": 1, "AlertSeqId": 151,
			},
		})
	})
}

func lastRequest(f *fakeDSP, path string) recordedRequest {
	var last recordedRequest
	for _, r := range f.recorded() {
		if r.Path == path {
			last = r
		}
	}
	return last
}

func TestFetchIncidents_AdvancesBookmark(t *testing.T) {
	f := newFakeDSP(t)
	serveFetchAlerts(f)
	svc := NewService(f.client(testPass), zerolog.Nop())

	next, incidents, err := svc.FetchIncidents(context.Background(), domain.FetchParams{
		ThreatModels: []string{"Suspicious"},
		Severity:     "Medium",
		Status:       "Open",
		MaxResults:   100,
	}, domain.Bookmark{LastFetchedID: 150})
	require.NoError(t, err)

	assert.Equal(t, domain.Bookmark{LastFetchedID: 152}, next)
	require.Len(t, incidents, 2)

	assert.Equal(t, "Varonis alert "+guidA, incidents[0].Name)
	assert.Equal(t, time.Date(2022, 4, 13, 10, 1, 35, 0, time.UTC), incidents[0].Occurred)
	assert.Equal(t, 3, incidents[0].Severity)
	assert.Equal(t, domain.IncidentType, incidents[0].Type)

	assert.Equal(t, "Varonis alert "+guidB, incidents[1].Name)
	assert.Equal(t, 2, incidents[1].Severity)

	var raw domain.Alert
	require.NoError(t, json.Unmarshal([]byte(incidents[0].RawJSON), &raw))
	assert.Equal(t, "3", raw.NumOfAlertedEvents)

	q, err := url.ParseQuery(lastRequest(f, "/DatAdvantage/api/alert/alert/GetXsoarAlerts").RawQuery)
	require.NoError(t, err)
	assert.Equal(t, url.Values{
		"threatModels": {"Suspicious"},
		"severity":     {"Medium"},
		"status":       {"1"},
		"fromAlertId":  {"150"},
		"bulkSize":     {"100"},
	}, q)
}

func TestFetchIncidents_FirstFetchSendsStartTime(t *testing.T) {
	f := newFakeDSP(t)
	serveFetchAlerts(f)
	svc := NewService(f.client(testPass), zerolog.Nop())

	start := time.Date(2022, 4, 10, 10, 0, 0, 0, time.UTC)
	next, incidents, err := svc.FetchIncidents(context.Background(), domain.FetchParams{
		MaxResults: 50,
		StartTime:  start,
	}, domain.Bookmark{})
	require.NoError(t, err)
	assert.Equal(t, int64(152), next.LastFetchedID)
	assert.Len(t, incidents, 2)

	q, _ := url.ParseQuery(lastRequest(f, "/DatAdvantage/api/alert/alert/GetXsoarAlerts").RawQuery)
	assert.Equal(t, "2022-04-10T10:00:00Z", q.Get("startTime"))
	assert.Equal(t, "0", q.Get("fromAlertId"))
	assert.Empty(t, q.Get("threatModels"))
	assert.Empty(t, q.Get("status"))
}

func TestFetchIncidents_StartTimeIgnoredWithBookmark(t *testing.T) {
	f := newFakeDSP(t)
	serveFetchAlerts(f)
	svc := NewService(f.client(testPass), zerolog.Nop())

	_, _, err := svc.FetchIncidents(context.Background(), domain.FetchParams{
		StartTime: time.Now().Add(-72 * time.Hour),
	}, domain.Bookmark{LastFetchedID: 10})
	require.NoError(t, err)

	q, _ := url.ParseQuery(lastRequest(f, "/DatAdvantage/api/alert/alert/GetXsoarAlerts").RawQuery)
	assert.Empty(t, q.Get("startTime"))
}

func TestFetchIncidents_InvalidArgumentsKeepBookmark(t *testing.T) {
	f := newFakeDSP(t)
	svc := NewService(f.client(testPass), zerolog.Nop())
	bm := domain.Bookmark{LastFetchedID: 150}

	next, _, err := svc.FetchIncidents(context.Background(), domain.FetchParams{Status: "Snoozed"}, bm)
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)
	assert.Equal(t, bm, next)

	next, _, err = svc.FetchIncidents(context.Background(), domain.FetchParams{Severity: "Extreme"}, bm)
	assert.ErrorIs(t, err, domain.ErrUnknownSeverity)
	assert.Equal(t, bm, next)

	next, _, err = svc.FetchIncidents(context.Background(), domain.FetchParams{ThreatModels: []string{"Nope"}}, bm)
	assert.ErrorIs(t, err, domain.ErrUnknownThreatModel)
	assert.Equal(t, bm, next)
}

func TestFetchIncidents_UnknownSeverityFailsBatch(t *testing.T) {
	f := newFakeDSP(t)
	f.handle("GET /DatAdvantage/api/alert/alert/GetXsoarAlerts", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, []map[string]any{
			{"ID": guidA, "Time": "2022-04-13T10:01:35", "Severity": "Informational", "AlertSeqId": 160},
		})
	})
	svc := NewService(f.client(testPass), zerolog.Nop())

	next, incidents, err := svc.FetchIncidents(context.Background(), domain.FetchParams{}, domain.Bookmark{LastFetchedID: 150})
	assert.ErrorIs(t, err, domain.ErrUnknownSeverity)
	assert.Nil(t, incidents)
	assert.Equal(t, int64(150), next.LastFetchedID)
}

func TestUpdateAlertStatus(t *testing.T) {
	f := newFakeDSP(t)
	f.handle("POST /DatAdvantage/api/alert/alert/SetStatusToAlerts", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, true)
	})
	svc := NewService(f.client(testPass), zerolog.Nop())

	err := svc.UpdateAlertStatus(context.Background(), "under investigation", []string{" " + guidA, guidB + " "})
	require.NoError(t, err)

	assert.JSONEq(t,
		`{"AlertGuids":["`+guidA+`","`+guidB+`"],"closeReasonId":0,"statusId":2}`,
		lastRequest(f, "/DatAdvantage/api/alert/alert/SetStatusToAlerts").Body)
}

func TestUpdateAlertStatus_RejectsClosedAndBadIDs(t *testing.T) {
	f := newFakeDSP(t)
	svc := NewService(f.client(testPass), zerolog.Nop())

	err := svc.UpdateAlertStatus(context.Background(), "Closed", []string{guidA})
	assert.ErrorIs(t, err, domain.ErrUnknownStatus)

	err = svc.UpdateAlertStatus(context.Background(), "Open", []string{"not-a-guid"})
	assert.ErrorIs(t, err, domain.ErrInvalidAlertID)

	assert.Equal(t, 0, f.count("POST", "/DatAdvantage/api/alert/alert/SetStatusToAlerts"))
}

func TestCloseAlert(t *testing.T) {
	f := newFakeDSP(t)
	f.handle("POST /DatAdvantage/api/alert/alert/SetStatusToAlerts", func(w http.ResponseWriter, r *http.Request) {
		writeTestJSON(w, true)
	})
	svc := NewService(f.client(testPass), zerolog.Nop())

	require.NoError(t, svc.CloseAlert(context.Background(), "Legitimate activity", []string{guidA}))
	assert.JSONEq(t,
		`{"AlertGuids":["`+guidA+`"],"closeReasonId":5,"statusId":3}`,
		lastRequest(f, "/DatAdvantage/api/alert/alert/SetStatusToAlerts").Body)

	err := svc.CloseAlert(context.Background(), "Bored", []string{guidA})
	assert.ErrorIs(t, err, domain.ErrUnknownCloseReason)
}

func TestGetAlertedEvents(t *testing.T) {
	f := newFakeDSP(t)
	f.handle("GET /DatAdvantage/api/search/rows/123", func(w http.ResponseWriter, r *http.Request) {
		row := make([]any, len(domain.EventEntity.Columns))
		row[0] = "event-1"
		writeTestJSON(w, map[string]any{"rows": [][]any{row}})
	})
	svc := NewService(f.client(testPass), zerolog.Nop())

	events, err := svc.GetAlertedEvents(context.Background(), []string{guidA}, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "event-1", events[0].ID)

	var doc struct {
		Query struct {
			EntityName    string `json:"entityName"`
			RequestParams struct {
				SearchSourceName string `json:"searchSourceName"`
			} `json:"requestParams"`
			Filter struct {
				Filters []domain.Filter `json:"filters"`
			} `json:"filter"`
		} `json:"query"`
	}
	require.NoError(t, json.Unmarshal([]byte(lastRequest(f, "/DatAdvantage/api/search/v2/search").Body), &doc))
	assert.Equal(t, "Event", doc.Query.EntityName)
	assert.Equal(t, "Event", doc.Query.RequestParams.SearchSourceName)
	require.Len(t, doc.Query.Filter.Filters, 1)
	assert.Equal(t, "Event.Alert.ID", doc.Query.Filter.Filters[0].Path)
	assert.Equal(t, "from=0&to=9", lastRequest(f, "/DatAdvantage/api/search/rows/123").RawQuery)
}

func TestFailureMessage(t *testing.T) {
	assert.Equal(t, AuthErrorMessage, FailureMessage(CmdGetAlerts, ErrUnauthorized))
	assert.Equal(t, AuthErrorMessage, FailureMessage(CmdTestModule, fmt.Errorf("token: %w", ErrUnauthorized)))
	assert.Equal(t,
		"Failed to execute varonis-get-alerts command. Error: boom",
		FailureMessage(CmdGetAlerts, errors.New("boom")))
}
