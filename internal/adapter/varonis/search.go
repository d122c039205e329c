package varonis

import (
	"context"
	"fmt"

	"github.com/hive-corporation/varonis-dsp/internal/core/domain"
)

// ResolveRowLocation picks the location holding the "rows" data type.
func ResolveRowLocation(result []SearchLocation) (string, error) {
	for _, r := range result {
		if r.DataType == "rows" {
			return r.Location, nil
		}
	}
	return "", ErrNoRowLocation
}

// SearchEntity runs a query end to end: submit, resolve the row location,
// fetch up to count rows and decode them with the entity's column table.
func SearchEntity[T any](ctx context.Context, c *Client, e domain.Entity[T], q domain.Query, count int) ([]T, error) {
	locations, err := c.ExecuteSearch(ctx, q)
	if err != nil {
		return nil, err
	}

	location, err := ResolveRowLocation(locations)
	if err != nil {
		return nil, err
	}

	page, err := c.GetSearchResult(ctx, location, count)
	if err != nil {
		return nil, err
	}

	records, err := e.DecodeRows(page.Columns, page.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s rows: %w", e.Name, err)
	}
	return records, nil
}
