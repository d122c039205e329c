package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseFirstFetch turns a relative window such as "3 days" or "12 hours"
// (or a Go duration like "72h") into the start time it denotes.
func ParseFirstFetch(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty first fetch window")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return time.Time{}, fmt.Errorf("invalid first fetch window %q", s)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return time.Time{}, fmt.Errorf("invalid first fetch window %q", s)
	}

	switch strings.TrimSuffix(strings.ToLower(fields[1]), "s") {
	case "minute":
		return now.Add(-time.Duration(n) * time.Minute), nil
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour), nil
	case "day":
		return now.AddDate(0, 0, -n), nil
	case "week":
		return now.AddDate(0, 0, -7*n), nil
	case "month":
		return now.AddDate(0, -n, 0), nil
	case "year":
		return now.AddDate(-n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("invalid first fetch unit in %q", s)
}
