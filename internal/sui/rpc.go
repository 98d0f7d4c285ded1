// Package sui provides a minimal read-only client for a Sui fullnode.
package sui

import "context"

// QueryClient is the fullnode surface the radar depends on. Implementations
// must be safe for concurrent use.
type QueryClient interface {
	// QueryEvents returns one page of events matching the filter, newest
	// first when descending is true. A nil cursor starts from the newest
	// (descending) or oldest (ascending) event.
	QueryEvents(ctx context.Context, filter EventFilter, cursor *EventID, limit int, descending bool) (*EventPage, error)

	// GetObject returns the current state of an object, or nil if the
	// object does not exist or has been deleted.
	GetObject(ctx context.Context, objectID string) (*ObjectState, error)
}
