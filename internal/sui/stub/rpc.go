// Package stub provides an in-memory QueryClient for tests.
package stub

import (
	"context"
	"sync"

	"sui-pool-radar/internal/sui"
)

// QueryClient implements sui.QueryClient for testing. Pages are served per
// event type in the order they were added; objects come from a flat map.
type QueryClient struct {
	mu      sync.Mutex
	pages   map[string][]*sui.EventPage
	objects map[string]*sui.ObjectState

	// QueryErr, when set, is returned by every QueryEvents call.
	QueryErr error
	// ObjectErr, when set, is returned by every GetObject call.
	ObjectErr error

	// QueryCalls counts QueryEvents invocations per event type.
	QueryCalls map[string]int
}

// NewQueryClient creates a new stub query client.
func NewQueryClient() *QueryClient {
	return &QueryClient{
		pages:      make(map[string][]*sui.EventPage),
		objects:    make(map[string]*sui.ObjectState),
		QueryCalls: make(map[string]int),
	}
}

// AddPage queues a page of events for the given Move event type.
func (c *QueryClient) AddPage(eventType string, page *sui.EventPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[eventType] = append(c.pages[eventType], page)
}

// AddObject adds an object to the stub store.
func (c *QueryClient) AddObject(obj *sui.ObjectState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[obj.ObjectID] = obj
}

// QueryEvents pops the next queued page for the filter's event type. When
// the queue is empty it returns an empty page.
func (c *QueryClient) QueryEvents(_ context.Context, filter sui.EventFilter, _ *sui.EventID, _ int, _ bool) (*sui.EventPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.QueryCalls[filter.MoveEventType]++

	if c.QueryErr != nil {
		return nil, c.QueryErr
	}

	queue := c.pages[filter.MoveEventType]
	if len(queue) == 0 {
		return &sui.EventPage{}, nil
	}

	page := queue[0]
	c.pages[filter.MoveEventType] = queue[1:]
	return page, nil
}

// GetObject retrieves an object from the stub store, nil when absent.
func (c *QueryClient) GetObject(_ context.Context, objectID string) (*sui.ObjectState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ObjectErr != nil {
		return nil, c.ObjectErr
	}
	return c.objects[objectID], nil
}

// Compile-time interface check.
var _ sui.QueryClient = (*QueryClient)(nil)
