package sui

import (
	"fmt"
	"strconv"
)

// EventID identifies an event by transaction digest and sequence number.
// It doubles as a query cursor for suix_queryEvents.
type EventID struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

// Event is a single Move event returned by suix_queryEvents.
type Event struct {
	ID          EventID        `json:"id"`
	PackageID   string         `json:"packageId"`
	Module      string         `json:"transactionModule"`
	Sender      string         `json:"sender"`
	Type        string         `json:"type"`
	ParsedJSON  map[string]any `json:"parsedJson"`
	TimestampMs string         `json:"timestampMs"`
}

// Timestamp parses the string-encoded millisecond timestamp the node
// attaches to events.
func (e *Event) Timestamp() (int64, error) {
	if e.TimestampMs == "" {
		return 0, fmt.Errorf("event %s/%s has no timestamp", e.ID.TxDigest, e.ID.EventSeq)
	}
	ts, err := strconv.ParseInt(e.TimestampMs, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse event timestamp %q: %w", e.TimestampMs, err)
	}
	return ts, nil
}

// StringField extracts a string field from the event payload.
func (e *Event) StringField(key string) (string, bool) {
	v, ok := e.ParsedJSON[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// EventPage is one page of query results.
type EventPage struct {
	Data        []Event  `json:"data"`
	HasNextPage bool     `json:"hasNextPage"`
	NextCursor  *EventID `json:"nextCursor"`
}

// EventFilter selects events by fully qualified Move event type.
type EventFilter struct {
	MoveEventType string `json:"MoveEventType,omitempty"`
}

// ObjectState is the current on-chain state of an object, with its Move
// struct fields decoded.
type ObjectState struct {
	ObjectID string
	Version  string
	Type     string
	Fields   map[string]any
}

// NumericField extracts a numeric field from the object content. Sui
// serializes u64/u128 values as strings; plain numbers also occur.
func (o *ObjectState) NumericField(key string) (float64, bool) {
	v, ok := o.Fields[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
