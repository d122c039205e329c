package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEnum = []ThreatModel{
	{ID: 1, Name: "Suspicious"},
	{ID: 7, Name: "Abnormal service behavior"},
}

func TestAddStatusFilter_OneValuePerDistinctStatus(t *testing.T) {
	b := NewQueryBuilder(AlertEntity)
	require.NoError(t, b.AddStatusFilter([]string{"Open", " open", "Under Investigation"}))

	filters := b.Build().Filters()
	require.Len(t, filters, 1)
	f := filters[0]
	assert.Equal(t, "Alert.Status.ID", f.Path)
	assert.Equal(t, OperatorIn, f.Operator)
	assert.Equal(t, []FilterValue{
		{"Alert.Status.ID": 1, "displayValue": "Open"},
		{"Alert.Status.ID": 2, "displayValue": "Under Investigation"},
	}, f.Values)
}

func TestAddFilters_EmptyInputAddsNothing(t *testing.T) {
	b := NewQueryBuilder(AlertEntity)
	require.NoError(t, b.AddStatusFilter(nil))
	require.NoError(t, b.AddSeverityFilter([]string{"", "  "}))
	require.NoError(t, b.AddThreatModelFilter(nil, testEnum))
	b.AddTimeFilter(time.Time{}, time.Now())
	b.AddAlertIDFilter(nil)

	assert.Empty(t, b.Build().Filters())
}

func TestAddFilters_UnknownNames(t *testing.T) {
	b := NewQueryBuilder(AlertEntity)
	assert.ErrorIs(t, b.AddStatusFilter([]string{"Snoozed"}), ErrUnknownStatus)
	assert.ErrorIs(t, b.AddSeverityFilter([]string{"Critical"}), ErrUnknownSeverity)
	assert.ErrorIs(t, b.AddThreatModelFilter([]string{"Suspicious", "Nope"}, testEnum), ErrUnknownThreatModel)
	assert.Empty(t, b.Build().Filters())
}

func TestAddThreatModelFilter_CaseInsensitive(t *testing.T) {
	b := NewQueryBuilder(AlertEntity)
	require.NoError(t, b.AddThreatModelFilter([]string{"abnormal SERVICE behavior"}, testEnum))

	f := b.Build().Filters()[0]
	assert.Equal(t, "Alert.Rule.ID", f.Path)
	assert.Equal(t, []FilterValue{{"Alert.Rule.ID": 7, "displayValue": "Abnormal service behavior"}}, f.Values)
}

func TestAddTimeFilter(t *testing.T) {
	start := time.Date(2022, 4, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2022, 4, 13, 0, 0, 0, 0, time.UTC)

	b := NewQueryBuilder(AlertEntity)
	b.AddTimeFilter(start, end)

	f := b.Build().Filters()[0]
	assert.Equal(t, OperatorBetween, f.Operator)
	assert.Equal(t, []FilterValue{{
		"Alert.Time":   "2022-04-10T00:00:00Z",
		"displayValue": "2022-04-10T00:00:00Z",
		"Alert.Time0":  "2022-04-13T00:00:00Z",
	}}, f.Values)
}

func TestAddAlertIDFilter_EventPath(t *testing.T) {
	b := NewQueryBuilder(EventEntity)
	b.AddAlertIDFilter([]string{"A", "a", "B"})

	f := b.Build().Filters()[0]
	assert.Equal(t, "Event.Alert.ID", f.Path)
	assert.Len(t, f.Values, 2)
}

func TestQuery_Immutable(t *testing.T) {
	b := NewQueryBuilder(AlertEntity)
	require.NoError(t, b.AddStatusFilter([]string{"Open"}))
	q := b.Build()

	require.NoError(t, b.AddSeverityFilter([]string{"High"}))
	assert.Len(t, q.Filters(), 1)

	q.Filters()[0].Values[0] = FilterValue{"x": 1}
	q.Columns()[0] = "changed"
	assert.Equal(t, 1, q.Filters()[0].Values[0]["Alert.Status.ID"])
	assert.Equal(t, "Alert.ID", q.Columns()[0])
}

func TestQuery_FilterValuesNotShared(t *testing.T) {
	b := NewQueryBuilder(AlertEntity)
	require.NoError(t, b.AddStatusFilter([]string{"Open"}))
	q := b.Build()

	q.Filters()[0].Values[0]["Alert.Status.ID"] = 99
	assert.Equal(t, 1, q.Filters()[0].Values[0]["Alert.Status.ID"])
	assert.Equal(t, 1, b.Build().Filters()[0].Values[0]["Alert.Status.ID"])

	// Writing through a later build does not reach an earlier one.
	b.Build().Filters()[0].Values[0]["displayValue"] = "changed"
	later := b.Build()
	later.filters[0].Values[0]["displayValue"] = "changed"
	assert.Equal(t, "Open", q.Filters()[0].Values[0]["displayValue"])
	assert.Equal(t, "Open", b.Build().Filters()[0].Values[0]["displayValue"])
}

func TestQuery_MarshalJSON(t *testing.T) {
	q := NewQueryBuilder(AlertEntity).Build()

	data, err := json.Marshal(q)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	inner := doc["query"].(map[string]any)
	assert.Equal(t, "Alert", inner["entityName"])
	assert.Equal(t, map[string]any{"searchSource": float64(1), "searchSourceName": "Alert"}, inner["requestParams"])
	assert.Equal(t, map[string]any{"filterOperator": float64(0), "filters": []any{}}, inner["filter"])
	assert.Len(t, doc["rows"].(map[string]any)["columns"], len(AlertEntity.Columns))
}
