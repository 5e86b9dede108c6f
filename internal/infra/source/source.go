// Package source defines the tabular data source boundary and maps raw
// rows into normalized leads.
package source

import "context"

// Client fetches candidate rows from the external tabular source. The
// pipeline calls it synchronously once per poll cycle and classifies any
// error it returns like a delivery failure.
type Client interface {
	// FetchRows returns all rows of a tab, header row first.
	FetchRows(ctx context.Context, sourceID, tabName string) ([][]string, error)

	// ResolveTabName maps a numeric tab identifier to its current name,
	// or "" when the tab no longer exists.
	ResolveTabName(ctx context.Context, sourceID, tabID string) (string, error)
}
