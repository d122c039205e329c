package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

type Operator string

const (
	OperatorIn      Operator = "In"
	OperatorBetween Operator = "Between"
)

// FilterValue is one value object of a filter. Keys are column paths plus
// the "displayValue" echoed back in the vendor UI.
type FilterValue map[string]any

type Filter struct {
	Path     string        `json:"path"`
	Operator Operator      `json:"operator"`
	Values   []FilterValue `json:"values"`
}

// ThreatModel is an entry of the threat model (rule) enum.
type ThreatModel struct {
	ID   int    `json:"ruleID"`
	Name string `json:"ruleName"`
}

// AlertsQuery holds the arguments of an alert search. Empty fields do not
// constrain the search; MaxResults 0 leaves paging to the server.
type AlertsQuery struct {
	ThreatModels []string
	Statuses     []string
	Severities   []string
	Start        time.Time
	End          time.Time
	MaxResults   int
}

// Query is an immutable search request. Build it with a QueryBuilder.
type Query struct {
	entity  string
	columns []string
	filters []Filter
}

func (q Query) Entity() string { return q.entity }

func (q Query) Columns() []string { return append([]string(nil), q.columns...) }

// Filters returns a deep copy; callers cannot reach the query's own values.
func (q Query) Filters() []Filter {
	return cloneFilters(q.filters)
}

func cloneFilters(filters []Filter) []Filter {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		values := make([]FilterValue, len(f.Values))
		for j, v := range f.Values {
			values[j] = maps.Clone(v)
		}
		f.Values = values
		out[i] = f
	}
	return out
}

type queryDocument struct {
	Rows  queryRows  `json:"rows"`
	Query queryInner `json:"query"`
}

type queryRows struct {
	Columns []string `json:"columns"`
}

type queryInner struct {
	EntityName    string        `json:"entityName"`
	RequestParams requestParams `json:"requestParams"`
	Filter        filterGroup   `json:"filter"`
}

type requestParams struct {
	SearchSource     int    `json:"searchSource"`
	SearchSourceName string `json:"searchSourceName"`
}

type filterGroup struct {
	FilterOperator int      `json:"filterOperator"`
	Filters        []Filter `json:"filters"`
}

// MarshalJSON renders the search document expected by /api/search/v2/search.
// All filters are ANDed (filterOperator 0).
func (q Query) MarshalJSON() ([]byte, error) {
	filters := q.filters
	if filters == nil {
		filters = []Filter{}
	}
	return json.Marshal(queryDocument{
		Rows: queryRows{Columns: q.columns},
		Query: queryInner{
			EntityName:    q.entity,
			RequestParams: requestParams{SearchSource: 1, SearchSourceName: q.entity},
			Filter:        filterGroup{FilterOperator: 0, Filters: filters},
		},
	})
}

// QueryBuilder accumulates filters for one entity search. Empty arguments
// add no filter.
type QueryBuilder struct {
	entity  string
	columns []string
	filters []Filter
}

func NewQueryBuilder[T any](e Entity[T]) *QueryBuilder {
	return &QueryBuilder{entity: e.Name, columns: e.Paths()}
}

func (b *QueryBuilder) path(suffix string) string {
	return b.entity + "." + suffix
}

// AddStatusFilter constrains the alert status to the given names.
func (b *QueryBuilder) AddStatusFilter(statuses []string) error {
	path := b.path("Status.ID")
	var values []FilterValue
	for _, name := range distinct(statuses) {
		id, err := StatusID(name)
		if err != nil {
			return err
		}
		values = append(values, FilterValue{path: id, "displayValue": canonicalName(alertStatuses, name)})
	}
	b.addIn(path, values)
	return nil
}

// AddSeverityFilter constrains the rule severity to the given names.
func (b *QueryBuilder) AddSeverityFilter(severities []string) error {
	path := b.path("Rule.Severity.ID")
	var values []FilterValue
	for _, name := range distinct(severities) {
		id, err := SeverityID(name)
		if err != nil {
			return err
		}
		values = append(values, FilterValue{path: id, "displayValue": canonicalName(severityIDs, name)})
	}
	b.addIn(path, values)
	return nil
}

// AddThreatModelFilter resolves rule names against the enum fetched from the
// API. A name with no match fails the whole build.
func (b *QueryBuilder) AddThreatModelFilter(names []string, enum []ThreatModel) error {
	path := b.path("Rule.ID")
	var values []FilterValue
	for _, name := range distinct(names) {
		tm, ok := findThreatModel(enum, name)
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownThreatModel, name)
		}
		values = append(values, FilterValue{path: tm.ID, "displayValue": tm.Name})
	}
	b.addIn(path, values)
	return nil
}

// AddTimeFilter adds a Between filter on the entity time. Both bounds are
// required; a zero bound adds nothing.
func (b *QueryBuilder) AddTimeFilter(start, end time.Time) {
	if start.IsZero() || end.IsZero() {
		return
	}
	path := b.path("Time")
	from := start.Format(time.RFC3339)
	b.filters = append(b.filters, Filter{
		Path:     path,
		Operator: OperatorBetween,
		Values: []FilterValue{{
			path:           from,
			"displayValue": from,
			path + "0":     end.Format(time.RFC3339),
		}},
	})
}

// AddAlertIDFilter constrains the search to the given alert GUIDs. For the
// Event entity this filters on the parent alert.
func (b *QueryBuilder) AddAlertIDFilter(ids []string) {
	path := "Alert.ID"
	if b.entity != "Alert" {
		path = b.path("Alert.ID")
	}
	var values []FilterValue
	for _, id := range distinct(ids) {
		values = append(values, FilterValue{path: id, "displayValue": id})
	}
	b.addIn(path, values)
}

func (b *QueryBuilder) addIn(path string, values []FilterValue) {
	if len(values) == 0 {
		return
	}
	b.filters = append(b.filters, Filter{Path: path, Operator: OperatorIn, Values: values})
}

// Build returns the accumulated query. The builder can keep being used; the
// returned Query does not share state with it.
func (b *QueryBuilder) Build() Query {
	q := Query{
		entity:  b.entity,
		columns: append([]string(nil), b.columns...),
	}
	if len(b.filters) > 0 {
		q.filters = cloneFilters(b.filters)
	}
	return q
}

func findThreatModel(enum []ThreatModel, name string) (ThreatModel, bool) {
	name = strings.TrimSpace(name)
	for _, tm := range enum {
		if tm.Name == name {
			return tm, true
		}
	}
	for _, tm := range enum {
		if strings.EqualFold(tm.Name, name) {
			return tm, true
		}
	}
	return ThreatModel{}, false
}

// distinct trims, drops blanks and removes case-insensitive duplicates while
// keeping first-seen order.
func distinct(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}
