package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// EventKind classifies a connection lifecycle event.
type EventKind int

const (
	// EventOpen fires once after the socket is established.
	EventOpen EventKind = iota
	// EventMessage carries one received wire message.
	EventMessage
	// EventError reports a read or protocol failure; the socket is dead.
	EventError
	// EventClosed reports the peer closing the socket, with the close code.
	EventClosed
)

// Event is one occurrence on a Conn. The pool consumes these from a channel
// instead of callbacks, so shared state is never mutated re-entrantly from
// inside a socket handler.
type Event struct {
	Kind EventKind
	Data []byte
	Err  error
	Code int
}

// Conn owns a single WebSocket session: the socket, its read loop, and its
// statistics. It does not reconnect; the pool replaces dead conns.
type Conn struct {
	id           int
	endpoint     string
	dialTimeout  time.Duration
	writeTimeout time.Duration

	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool

	events chan Event
	stats  *Stats
}

// newConn creates a session bound to the stats of its pool slot, so
// counters and the reconnect tally survive connection replacement.
func newConn(id int, endpoint string, dialTimeout, writeTimeout time.Duration, stats *Stats) *Conn {
	return &Conn{
		id:           id,
		endpoint:     endpoint,
		dialTimeout:  dialTimeout,
		writeTimeout: writeTimeout,
		events:       make(chan Event, 256),
		stats:        stats,
	}
}

// open dials the endpoint and starts the read loop. The dial is bounded by
// the connection timeout; on expiry the attempt is aborted and counts as a
// failure.
func (c *Conn) open(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.dialTimeout,
	}

	ws, _, err := dialer.DialContext(dialCtx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	c.ws = ws
	go c.readLoop()

	c.events <- Event{Kind: EventOpen}
	return nil
}

// send writes one wire message. Safe for concurrent use.
func (c *Conn) send(data []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("connection %d closed", c.id)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.stats.recordError()
		return fmt.Errorf("write: %w", err)
	}
	c.stats.recordSent()
	return nil
}

// readLoop pumps socket reads into the event channel until the socket dies.
func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			if closeErr, ok := err.(*websocket.CloseError); ok {
				c.events <- Event{Kind: EventClosed, Code: closeErr.Code, Err: closeErr}
			} else {
				c.stats.recordError()
				c.events <- Event{Kind: EventError, Err: err}
			}
			return
		}
		c.stats.recordReceived()
		c.events <- Event{Kind: EventMessage, Data: data}
	}
}

// close tears the socket down. Idempotent.
func (c *Conn) close() {
	if c.closed.Swap(true) {
		return
	}
	if c.ws != nil {
		c.writeMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.ws.Close()
	}
}

// alive reports whether the conn has not been closed locally.
func (c *Conn) alive() bool {
	return !c.closed.Load()
}

// Stats exposes the connection's statistics for monitoring.
func (c *Conn) Stats() *Stats {
	return c.stats
}
