package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFirstFetch(t *testing.T) {
	now := time.Date(2022, 4, 13, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"3 days", now.AddDate(0, 0, -3)},
		{"1 day", now.AddDate(0, 0, -1)},
		{"12 hours", now.Add(-12 * time.Hour)},
		{"30 Minutes", now.Add(-30 * time.Minute)},
		{"2 weeks", now.AddDate(0, 0, -14)},
		{"1 month", now.AddDate(0, -1, 0)},
		{"1 year", now.AddDate(-1, 0, 0)},
		{"72h", now.Add(-72 * time.Hour)},
	}
	for _, tt := range tests {
		got, err := ParseFirstFetch(tt.in, now)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "three days", "3", "3 fortnights", "-1 day"} {
		_, err := ParseFirstFetch(bad, now)
		assert.Error(t, err, bad)
	}
}
