package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const IncidentType = "Varonis DSP Incident"

// Bookmark is the fetch position persisted between cycles.
type Bookmark struct {
	LastFetchedID int64 `json:"last_fetched_id"`
}

// FetchParams selects the alerts pulled by one fetch cycle.
type FetchParams struct {
	ThreatModels []string
	Severity     string
	Status       string
	MaxResults   int

	// StartTime bounds the very first cycle; it is ignored once a bookmark
	// exists.
	StartTime time.Time
}

// Incident is an alert normalized for the incident store.
type Incident struct {
	AlertID  string    `json:"alert_id"`
	SeqID    int64     `json:"seq_id"`
	Name     string    `json:"name"`
	Occurred time.Time `json:"occurred"`
	Severity int       `json:"severity"`
	Type     string    `json:"type"`
	RawJSON  string    `json:"rawJSON"`
}

// NewIncident maps a single alert.
func NewIncident(a Alert) (Incident, error) {
	occurred, err := ParseAlertTime(a.Time)
	if err != nil {
		return Incident{}, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	severity, err := IncidentSeverity(a.Severity)
	if err != nil {
		return Incident{}, fmt.Errorf("alert %s: %w", a.ID, err)
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return Incident{}, fmt.Errorf("alert %s: marshal: %w", a.ID, err)
	}
	return Incident{
		AlertID:  a.ID,
		SeqID:    a.SeqID,
		Name:     "Varonis alert " + a.ID,
		Occurred: occurred,
		Severity: severity,
		Type:     IncidentType,
		RawJSON:  string(raw),
	}, nil
}

// BuildIncidents turns one fetched batch into incidents and the next
// bookmark. Alerts at or below the current bookmark are skipped; the
// bookmark only moves forward. Any unmappable alert fails the whole batch so
// the bookmark is never advanced past it.
func BuildIncidents(bm Bookmark, alerts []Alert) (Bookmark, []Incident, error) {
	next := bm
	incidents := make([]Incident, 0, len(alerts))
	for _, a := range alerts {
		if a.SeqID <= bm.LastFetchedID {
			continue
		}
		inc, err := NewIncident(a)
		if err != nil {
			return bm, nil, err
		}
		incidents = append(incidents, inc)
		if a.SeqID > next.LastFetchedID {
			next.LastFetchedID = a.SeqID
		}
	}
	return next, incidents, nil
}

var alertTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseAlertTime parses the vendor timestamp. Values without a zone are UTC.
func ParseAlertTime(s string) (time.Time, error) {
	for _, layout := range alertTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable alert time %q", s)
}
