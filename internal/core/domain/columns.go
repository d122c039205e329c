package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Column ties a search column path to the record field it decodes into.
// The query column list and the row decoder are both derived from the same
// []Column, so they stay in lock-step.
type Column[T any] struct {
	Path  string
	Field string
	set   func(*T, string)
}

// Entity describes a searchable Varonis entity and its projection.
type Entity[T any] struct {
	Name    string
	Columns []Column[T]
}

// Paths returns the column paths in projection order.
func (e Entity[T]) Paths() []string {
	paths := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		paths[i] = c.Path
	}
	return paths
}

// DecodeRow maps one positional row into a record.
func (e Entity[T]) DecodeRow(row []any) (T, error) {
	var rec T
	if len(row) != len(e.Columns) {
		return rec, fmt.Errorf("%w: %s row has %d values, want %d",
			ErrSchemaDrift, e.Name, len(row), len(e.Columns))
	}
	for i, c := range e.Columns {
		v, err := cellString(row[i])
		if err != nil {
			return rec, fmt.Errorf("decode %s column %d (%s): %w", e.Name, i, c.Path, err)
		}
		c.set(&rec, v)
	}
	return rec, nil
}

// DecodeRows validates the echoed column header (when present) and decodes
// every row.
func (e Entity[T]) DecodeRows(columns []string, rows [][]any) ([]T, error) {
	if len(columns) > 0 {
		if err := e.checkHeader(columns); err != nil {
			return nil, err
		}
	}
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		rec, err := e.DecodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (e Entity[T]) checkHeader(columns []string) error {
	if len(columns) != len(e.Columns) {
		return fmt.Errorf("%w: got %d columns, want %d", ErrSchemaDrift, len(columns), len(e.Columns))
	}
	for i, c := range e.Columns {
		if columns[i] != c.Path {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrSchemaDrift, i, columns[i], c.Path)
		}
	}
	return nil
}

func cellString(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return "", fmt.Errorf("unsupported cell type %T", v)
	}
}

// AlertEntity is the alert projection used by alert searches.
var AlertEntity = Entity[Alert]{
	Name: "Alert",
	Columns: []Column[Alert]{
		{"Alert.ID", "ID", func(a *Alert, v string) { a.ID = v }},
		{"Alert.Rule.Name", "Name", func(a *Alert, v string) { a.Name = v }},
		{"Alert.Time", "Time", func(a *Alert, v string) { a.Time = v }},
		{"Alert.Rule.Severity.Name", "Severity", func(a *Alert, v string) { a.Severity = v }},
		{"Alert.Rule.Category.Name", "Category", func(a *Alert, v string) { a.Category = v }},
		{"Alert.Location.CountryName", "Country", func(a *Alert, v string) { a.Country = v }},
		{"Alert.Location.SubdivisionName", "State", func(a *Alert, v string) { a.State = v }},
		{"Alert.Status.Name", "Status", func(a *Alert, v string) { a.Status = v }},
		{"Alert.CloseReason.Name", "CloseReason", func(a *Alert, v string) { a.CloseReason = v }},
		{"Alert.Location.BlacklistedLocation", "BlacklistLocation", func(a *Alert, v string) { a.BlacklistLocation = v }},
		{"Alert.Location.AbnormalLocation", "AbnormalLocation", func(a *Alert, v string) { a.AbnormalLocation = v }},
		{"Alert.EventsCount", "NumOfAlertedEvents", func(a *Alert, v string) { a.NumOfAlertedEvents = v }},
		{"Alert.User.Name", "UserName", func(a *Alert, v string) { a.UserName = v }},
		{"Alert.User.SamAccountName", "By.SamAccountName", func(a *Alert, v string) { a.By.SamAccountName = v }},
		{"Alert.User.AccountType.Name", "By.PrivilegedAccountType", func(a *Alert, v string) { a.By.PrivilegedAccountType = v }},
		{"Alert.User.IsFlagged", "By.HasFollowUpIndicators", func(a *Alert, v string) { a.By.HasFollowUpIndicators = v }},
		{"Alert.Data.IsFlagged", "On.ContainsFlaggedData", func(a *Alert, v string) { a.On.ContainsFlaggedData = v }},
		{"Alert.Data.IsSensitive", "On.ContainsSensitiveData", func(a *Alert, v string) { a.On.ContainsSensitiveData = v }},
		{"Alert.Filer.Platform.Name", "On.Platform", func(a *Alert, v string) { a.On.Platform = v }},
		{"Alert.Asset.Path", "On.Asset", func(a *Alert, v string) { a.On.Asset = v }},
		{"Alert.Filer.Name", "On.FileServerOrDomain", func(a *Alert, v string) { a.On.FileServerOrDomain = v }},
		{"Alert.Device.HostName", "Device.Name", func(a *Alert, v string) { a.Device.Name = v }},
		{"Alert.Device.IsMaliciousExternalIP", "Device.ContainMaliciousExternalIP", func(a *Alert, v string) { a.Device.ContainMaliciousExternalIP = v }},
		{"Alert.Device.ExternalIPThreatTypesName", "Device.IPThreatTypes", func(a *Alert, v string) { a.Device.IPThreatTypes = v }},
	},
}

// EventEntity is the projection used to list the events behind alerts.
var EventEntity = Entity[AlertedEvent]{
	Name: "Event",
	Columns: []Column[AlertedEvent]{
		{"Event.ID", "ID", func(e *AlertedEvent, v string) { e.ID = v }},
		{"Event.Type.Name", "Type", func(e *AlertedEvent, v string) { e.Type = v }},
		{"Event.TimeUTC", "TimeUTC", func(e *AlertedEvent, v string) { e.TimeUTC = v }},
		{"Event.Status.Name", "Status", func(e *AlertedEvent, v string) { e.Status = v }},
		{"Event.Description", "Description", func(e *AlertedEvent, v string) { e.Description = v }},
		{"Event.Location.CountryName", "Country", func(e *AlertedEvent, v string) { e.Country = v }},
		{"Event.Location.SubdivisionName", "State", func(e *AlertedEvent, v string) { e.State = v }},
		{"Event.Location.BlacklistedLocation", "BlacklistedLocation", func(e *AlertedEvent, v string) { e.BlacklistedLocation = v }},
		{"Event.Operation.Name", "EventOperation", func(e *AlertedEvent, v string) { e.EventOperation = v }},
		{"Event.By.Account.Type.Name", "By.UserAccountType", func(e *AlertedEvent, v string) { e.By.UserAccountType = v }},
		{"Event.By.Account.Name", "By.UserName", func(e *AlertedEvent, v string) { e.By.UserName = v }},
		{"Event.By.Account.SamAccountName", "By.SamAccountName", func(e *AlertedEvent, v string) { e.By.SamAccountName = v }},
		{"Event.By.Account.Domain.Name", "By.UserDomainName", func(e *AlertedEvent, v string) { e.By.UserDomainName = v }},
		{"Event.By.Account.IsDisabled", "By.DisabledAccount", func(e *AlertedEvent, v string) { e.By.DisabledAccount = v }},
		{"Event.By.Account.IsStale", "By.StaleAccount", func(e *AlertedEvent, v string) { e.By.StaleAccount = v }},
		{"Event.By.Account.IsLockout", "By.LockoutAccounts", func(e *AlertedEvent, v string) { e.By.LockoutAccounts = v }},
		{"Event.IP", "SourceIP", func(e *AlertedEvent, v string) { e.SourceIP = v }},
		{"Event.Device.ExternalIP.IP", "ExternalIP", func(e *AlertedEvent, v string) { e.ExternalIP = v }},
		{"Event.Destination.IP", "DestinationIP", func(e *AlertedEvent, v string) { e.DestinationIP = v }},
		{"Event.Device.Name", "SourceDevice", func(e *AlertedEvent, v string) { e.SourceDevice = v }},
		{"Event.Destination.DeviceName", "DestinationDevice", func(e *AlertedEvent, v string) { e.DestinationDevice = v }},
		{"Event.Device.ExternalIP.IsMalicious", "IsMaliciousIP", func(e *AlertedEvent, v string) { e.IsMaliciousIP = v }},
		{"Event.Device.ExternalIP.Reputation.Name", "IPReputation", func(e *AlertedEvent, v string) { e.IPReputation = v }},
		{"Event.Device.ExternalIP.ThreatTypes.Name", "IPThreatType", func(e *AlertedEvent, v string) { e.IPThreatType = v }},
		{"Event.OnObjectName", "OnObject.Name", func(e *AlertedEvent, v string) { e.OnObject.Name = v }},
		{"Event.OnResource.ObjectType.Name", "OnObject.ObjectType", func(e *AlertedEvent, v string) { e.OnObject.ObjectType = v }},
		{"Event.Filer.Platform.Name", "OnObject.Platform", func(e *AlertedEvent, v string) { e.OnObject.Platform = v }},
		{"Event.OnResource.IsSensitive", "OnObject.IsSensitive", func(e *AlertedEvent, v string) { e.OnObject.IsSensitive = v }},
		{"Event.Filer.Name", "OnObject.FileServerOrDomain", func(e *AlertedEvent, v string) { e.OnObject.FileServerOrDomain = v }},
		{"Event.OnResource.Path", "OnObject.Path", func(e *AlertedEvent, v string) { e.OnObject.Path = v }},
	},
}
