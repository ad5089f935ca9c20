// Package docstore is the remote document store the pipeline mirrors
// into: an append collection for events and a merge-by-key collection
// for user profile snapshots.
package docstore

import (
	"context"
)

// Record is one stored document, flattened.
type Record map[string]any

// QueryOptions filters the event query surface used by dashboards.
type QueryOptions struct {
	// StartTimestamp excludes events older than this epoch-millis
	// value. Zero means no lower bound.
	StartTimestamp int64
	// Country filters on the event country field when non-empty.
	Country string
	// Limit caps the result set; callers default it.
	Limit int
}

// Store is the remote backend contract. Implementations assign record
// ids and server timestamps themselves.
type Store interface {
	Ping(ctx context.Context) error

	// AddEvent appends one event document and returns its generated id.
	AddEvent(ctx context.Context, fields map[string]any) (string, error)

	// MergeUser shallow-merges fields into the profile record keyed by
	// session id, creating it if absent.
	MergeUser(ctx context.Context, sessionID string, fields map[string]any) error

	// SetFunnelStage updates the independently-tracked funnel stage,
	// stamping its own server-side update time.
	SetFunnelStage(ctx context.Context, sessionID, stage string, extra map[string]any) error

	// QueryEvents returns matching events ordered by timestamp
	// descending, capped at opts.Limit.
	QueryEvents(ctx context.Context, opts QueryOptions) ([]Record, error)
}
