package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Alert is a Varonis alert flattened into named fields.
type Alert struct {
	ID                 string      `json:"ID"`
	Name               string      `json:"Name"`
	Time               string      `json:"Time"`
	Severity           string      `json:"Severity"`
	Category           string      `json:"Category"`
	Country            string      `json:"Country"`
	State              string      `json:"State"`
	Status             string      `json:"Status"`
	CloseReason        string      `json:"CloseReason"`
	BlacklistLocation  string      `json:"BlacklistLocation"`
	AbnormalLocation   string      `json:"AbnormalLocation"`
	NumOfAlertedEvents string      `json:"NumOfAlertedEvents"`
	UserName           string      `json:"UserName"`
	By                 AlertActor  `json:"By"`
	On                 AlertAsset  `json:"On"`
	Device             AlertDevice `json:"Device"`

	// SeqID is the monotonically increasing alert number used as the fetch
	// bookmark. Search rows do not carry it, so it is zero for them.
	SeqID int64 `json:"AlertSeqId,omitempty"`
}

type AlertActor struct {
	SamAccountName        string `json:"SamAccountName"`
	PrivilegedAccountType string `json:"PrivilegedAccountType"`
	HasFollowUpIndicators string `json:"HasFollowUpIndicators"`
}

type AlertAsset struct {
	ContainsFlaggedData   string `json:"ContainsFlaggedData"`
	ContainsSensitiveData string `json:"ContainsSensitiveData"`
	Platform              string `json:"Platform"`
	Asset                 string `json:"Asset"`
	FileServerOrDomain    string `json:"FileServerOrDomain"`
}

type AlertDevice struct {
	Name                       string `json:"Name"`
	ContainMaliciousExternalIP string `json:"ContainMaliciousExternalIP"`
	IPThreatTypes              string `json:"IPThreatTypes"`
}

// AlertedEvent is one of the events that contributed to an alert.
type AlertedEvent struct {
	ID                  string        `json:"ID"`
	Type                string        `json:"Type"`
	TimeUTC             string        `json:"TimeUTC"`
	Status              string        `json:"Status"`
	Description         string        `json:"Description"`
	Country             string        `json:"Country"`
	State               string        `json:"State"`
	BlacklistedLocation string        `json:"BlacklistedLocation"`
	EventOperation      string        `json:"EventOperation"`
	By                  EventActor    `json:"By"`
	SourceIP            string        `json:"SourceIP"`
	ExternalIP          string        `json:"ExternalIP"`
	DestinationIP       string        `json:"DestinationIP"`
	SourceDevice        string        `json:"SourceDevice"`
	DestinationDevice   string        `json:"DestinationDevice"`
	IsMaliciousIP       string        `json:"IsMaliciousIP"`
	IPReputation        string        `json:"IPReputation"`
	IPThreatType        string        `json:"IPThreatType"`
	OnObject            EventResource `json:"OnObject"`
}

type EventActor struct {
	UserAccountType string `json:"UserAccountType"`
	UserName        string `json:"UserName"`
	SamAccountName  string `json:"SamAccountName"`
	UserDomainName  string `json:"UserDomainName"`
	DisabledAccount string `json:"DisabledAccount"`
	StaleAccount    string `json:"StaleAccount"`
	LockoutAccounts string `json:"LockoutAccounts"`
}

type EventResource struct {
	Name               string `json:"Name"`
	ObjectType         string `json:"ObjectType"`
	Platform           string `json:"Platform"`
	IsSensitive        string `json:"IsSensitive"`
	FileServerOrDomain string `json:"FileServerOrDomain"`
	Path               string `json:"Path"`
}

// Alert status IDs as known by the Varonis API.
var alertStatuses = map[string]int{
	"Open":                1,
	"Under Investigation": 2,
	"Closed":              3,
}

// Severity IDs used in search filters.
var severityIDs = map[string]int{
	"Low":    1,
	"Medium": 2,
	"High":   3,
}

// Incident severities on the incident scale.
var incidentSeverities = map[string]int{
	"Low":      1,
	"Medium":   2,
	"High":     3,
	"Critical": 4,
}

var closeReasons = map[string]int{
	"None":                             0,
	"Resolved":                         1,
	"Misconfiguration":                 2,
	"Threat model disabled or deleted": 3,
	"Account misclassification":        4,
	"Legitimate activity":              5,
	"Other":                            6,
}

const ClosedStatusID = 3

// StatusID resolves a status name. Matching ignores case and surrounding spaces.
func StatusID(name string) (int, error) {
	return lookup(alertStatuses, name, ErrUnknownStatus)
}

// SeverityID resolves a severity name to its filter ID.
func SeverityID(name string) (int, error) {
	return lookup(severityIDs, name, ErrUnknownSeverity)
}

// CloseReasonID resolves a close reason name.
func CloseReasonID(name string) (int, error) {
	return lookup(closeReasons, name, ErrUnknownCloseReason)
}

// IncidentSeverity maps a vendor severity name to the incident scale.
// Unknown names are an error.
func IncidentSeverity(name string) (int, error) {
	return lookup(incidentSeverities, name, ErrUnknownSeverity)
}

func lookup(table map[string]int, name string, notFound error) (int, error) {
	name = strings.TrimSpace(name)
	if id, ok := table[name]; ok {
		return id, nil
	}
	for k, id := range table {
		if strings.EqualFold(k, name) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", notFound, name)
}

// canonicalName returns the table spelling of name, used for display values.
func canonicalName(table map[string]int, name string) string {
	name = strings.TrimSpace(name)
	for k := range table {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

// SplitList splits a comma separated argument, trimming blanks and dropping
// empty items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseAlertIDs splits and validates a comma separated list of alert GUIDs.
// IDs are returned upper-cased, the form the API reports them in.
func ParseAlertIDs(s string) ([]string, error) {
	parts := SplitList(s)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no alert ids given", ErrInvalidAlertID)
	}
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAlertID, p)
		}
		ids = append(ids, strings.ToUpper(id.String()))
	}
	return ids, nil
}
