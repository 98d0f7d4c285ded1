// Package transport maintains a pool of WebSocket sessions to a JSON-RPC
// endpoint: request/response correlation, subscription replay on reconnect,
// send batching with optional compression, and exponential backoff recovery.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sui-pool-radar/internal/observability"
)

// Sentinel errors.
var (
	// ErrPoolClosed is returned for operations on a closed pool; pending
	// calls are rejected with it on shutdown.
	ErrPoolClosed = errors.New("transport: pool closed")

	// ErrNoConnection is returned when no open connection is available to
	// carry a batch.
	ErrNoConnection = errors.New("transport: no open connection")

	// ErrCallTimeout is returned when a request's deadline elapses before
	// a response arrives. The connection stays open.
	ErrCallTimeout = errors.New("transport: call timed out")
)

// Default configuration values.
const (
	DefaultMaxConnections       = 2
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectDelay       = time.Second
	DefaultConnectionTimeout    = 10 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
	DefaultCallTimeout          = 30 * time.Second
	DefaultBatchInterval        = 50 * time.Millisecond
	DefaultMaxBatchSize         = 10
	DefaultMonitoringInterval   = 30 * time.Second
)

// Config configures a Pool.
type Config struct {
	Endpoint             string
	MaxConnections       int
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration // base delay, grows as base * 1.5^attempts
	ConnectionTimeout    time.Duration // per dial attempt
	WriteTimeout         time.Duration
	CallTimeout          time.Duration // per request deadline
	EnableCompression    bool
	BatchInterval        time.Duration // window to coalesce outbound calls
	MaxBatchSize         int
	MonitoringInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = DefaultMaxBatchSize
	}
	if c.MonitoringInterval <= 0 {
		c.MonitoringInterval = DefaultMonitoringInterval
	}
	return c
}

// Subscription registers interest in push messages. Pushes are matched to
// OnMessage by exact method string equality. On every reconnect all
// subscriptions are replayed in creation order before the slot serves
// traffic again.
type Subscription struct {
	ID                uint64
	Method            string
	Params            any
	OnMessage         func(params json.RawMessage)
	UnsubscribeMethod string
}

// callResult resolves one outbound request.
type callResult struct {
	data json.RawMessage
	err  error
}

// pendingRequest correlates an outbound message id to its continuation.
// It is removed on response, on timeout, or on pool shutdown.
type pendingRequest struct {
	ch     chan callResult
	timer  *time.Timer
	sentAt time.Time
	stats  *Stats
}

// queuedCall is a payload waiting for the current batch window to close.
type queuedCall struct {
	env envelope
	ch  chan callResult
}

// slot is one connection position in the pool. The Stats value outlives
// individual connections.
type slot struct {
	idx      int
	conn     *Conn
	stats    *Stats
	attempts int
	open     bool
	redialed bool // a redial goroutine is in flight
	terminal bool // reconnect attempts exhausted, needs pool restart
}

// Pool maintains MaxConnections sessions to a single endpoint.
type Pool struct {
	cfg    Config
	logger zerolog.Logger

	mu         sync.Mutex
	slots      []*slot
	pending    map[uint64]*pendingRequest
	subs       []*Subscription
	queue      []queuedCall
	batchTimer *time.Timer
	closed     bool

	reqID  atomic.Uint64
	subID  atomic.Uint64
	done   chan struct{}
	wg     sync.WaitGroup
	connID int
}

// Open establishes up to cfg.MaxConnections sessions and starts the
// monitoring loop. It fails only when not a single connection could be
// established; partial failures recover through backoff.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("transport: endpoint is required")
	}

	p := &Pool{
		cfg:     cfg,
		logger:  logger.With().Str("component", "transport").Logger(),
		pending: make(map[uint64]*pendingRequest),
		done:    make(chan struct{}),
	}

	opened := 0
	for i := 0; i < cfg.MaxConnections; i++ {
		s := &slot{idx: i, stats: &Stats{}}
		p.slots = append(p.slots, s)

		if err := p.dialSlot(ctx, s); err != nil {
			p.logger.Warn().Err(err).Int("slot", i).Msg("initial dial failed, scheduling reconnect")
			p.scheduleRedial(s, false)
			continue
		}
		opened++
	}

	if opened == 0 {
		p.Close()
		return nil, fmt.Errorf("transport: could not open any of %d connections to %s", cfg.MaxConnections, cfg.Endpoint)
	}

	p.wg.Add(1)
	go p.monitorLoop()

	return p, nil
}

// dialSlot establishes a fresh connection for the slot, replays all
// registered subscriptions, and starts the slot's event loop. Callers must
// not hold p.mu.
func (p *Pool) dialSlot(ctx context.Context, s *slot) error {
	p.mu.Lock()
	p.connID++
	id := p.connID
	p.mu.Unlock()

	conn := newConn(id, p.cfg.Endpoint, p.cfg.ConnectionTimeout, p.cfg.WriteTimeout, s.stats)
	if err := conn.open(ctx); err != nil {
		return err
	}

	// Resubscribe before the slot is marked open so no caller observes a
	// connection without its subscriptions.
	p.replaySubscriptions(conn)

	p.mu.Lock()
	s.conn = conn
	s.open = true
	s.redialed = false
	p.mu.Unlock()

	p.wg.Add(1)
	go p.runConn(s, conn)

	return nil
}

// replaySubscriptions re-issues every registered subscription on the given
// connection, in the order the subscriptions were created.
func (p *Pool) replaySubscriptions(conn *Conn) {
	p.mu.Lock()
	subs := make([]*Subscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	for _, sub := range subs {
		env := envelope{JSONRPC: "2.0", ID: p.reqID.Add(1), Method: sub.Method, Params: sub.Params}
		p.registerPending(env.ID, make(chan callResult, 1), conn.stats)

		data, err := encodeFrame([]envelope{env}, p.cfg.EnableCompression)
		if err != nil {
			p.logger.Error().Err(err).Str("method", sub.Method).Msg("encode resubscribe")
			continue
		}
		if err := conn.send(data); err != nil {
			p.logger.Warn().Err(err).Str("method", sub.Method).Msg("resubscribe send failed")
		}
	}
}

// runConn consumes one connection's lifecycle events until the connection
// dies or the pool closes.
func (p *Pool) runConn(s *slot, conn *Conn) {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			conn.close()
			return
		case ev := <-conn.events:
			switch ev.Kind {
			case EventOpen:
				p.logger.Debug().Int("slot", s.idx).Msg("connection open")

			case EventMessage:
				p.dispatch(ev.Data, conn)

			case EventError:
				p.logger.Warn().Err(ev.Err).Int("slot", s.idx).Msg("connection error")
				p.handleDisconnect(s, conn, false)
				return

			case EventClosed:
				normal := ev.Code == websocket.CloseNormalClosure
				p.logger.Info().Int("slot", s.idx).Int("code", ev.Code).Bool("normal", normal).Msg("connection closed by peer")
				p.handleDisconnect(s, conn, normal)
				return
			}
		}
	}
}

// dispatch routes one incoming wire message: push notifications to their
// subscription, responses to their pending request. Malformed messages are
// dropped; the connection stays open.
func (p *Pool) dispatch(data []byte, conn *Conn) {
	frames, err := decodeFrame(data)
	if err != nil {
		p.logger.Warn().Err(err).Msg("dropping malformed message")
		return
	}
	observability.RecordWSMessage()

	for _, f := range frames {
		if f.Method != "" {
			p.dispatchPush(f)
			continue
		}
		p.resolvePending(f, conn)
	}
}

func (p *Pool) dispatchPush(f frame) {
	p.mu.Lock()
	var onMessage func(json.RawMessage)
	for _, sub := range p.subs {
		if sub.Method == f.Method {
			onMessage = sub.OnMessage
			break
		}
	}
	p.mu.Unlock()

	if onMessage == nil {
		p.logger.Debug().Str("method", f.Method).Msg("push with no matching subscription")
		return
	}
	onMessage(f.Params)
}

func (p *Pool) resolvePending(f frame, conn *Conn) {
	p.mu.Lock()
	req, ok := p.pending[f.ID]
	if ok {
		delete(p.pending, f.ID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	req.timer.Stop()
	rtt := time.Since(req.sentAt)
	if req.stats != nil {
		req.stats.recordLatency(rtt)
	} else {
		conn.stats.recordLatency(rtt)
	}
	observability.RecordWSCallLatency(rtt.Seconds())

	res := callResult{data: f.Result}
	if f.Error != nil {
		res = callResult{err: f.Error}
	}
	select {
	case req.ch <- res:
	default:
	}
}

// handleDisconnect schedules recovery for a dead connection. A normal close
// is scheduled teardown and gets an immediate unconditional replacement; any
// other failure backs off exponentially until attempts are exhausted.
func (p *Pool) handleDisconnect(s *slot, conn *Conn, normal bool) {
	conn.close()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	s.open = false
	if normal {
		s.attempts = 0
	}
	p.mu.Unlock()

	p.scheduleRedial(s, normal)
}

// scheduleRedial starts a redial goroutine for the slot unless one is
// already running or the slot is terminal.
func (p *Pool) scheduleRedial(s *slot, immediate bool) {
	p.mu.Lock()
	if p.closed || s.redialed || s.terminal {
		p.mu.Unlock()
		return
	}

	var delay time.Duration
	if !immediate {
		if s.attempts >= p.cfg.MaxReconnectAttempts {
			s.terminal = true
			p.mu.Unlock()
			p.logger.Error().Int("slot", s.idx).Int("attempts", s.attempts).
				Msg("reconnect attempts exhausted, slot is terminal until pool restart")
			return
		}
		delay = time.Duration(float64(p.cfg.ReconnectDelay) * math.Pow(1.5, float64(s.attempts)))
		s.attempts++
	}
	s.redialed = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.redial(s, delay)
}

func (p *Pool) redial(s *slot, delay time.Duration) {
	defer p.wg.Done()

	if delay > 0 {
		select {
		case <-p.done:
			return
		case <-time.After(delay):
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
	err := p.dialSlot(ctx, s)
	cancel()

	if err != nil {
		p.logger.Warn().Err(err).Int("slot", s.idx).Msg("redial failed")
		p.mu.Lock()
		s.redialed = false
		p.mu.Unlock()
		p.scheduleRedial(s, false)
		return
	}

	s.stats.recordReconnect()
	observability.RecordWSReconnect()
	p.logger.Info().Int("slot", s.idx).Msg("connection reestablished")
}

// Call sends a request and waits for its response. Requests submitted within
// the same batch window travel as one wire message but resolve
// independently; a batch-level send failure rejects every request in the
// batch uniformly.
func (p *Pool) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	env := envelope{JSONRPC: "2.0", ID: p.reqID.Add(1), Method: method, Params: params}
	ch := make(chan callResult, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.queue = append(p.queue, queuedCall{env: env, ch: ch})

	if len(p.queue) >= p.cfg.MaxBatchSize {
		if p.batchTimer != nil {
			p.batchTimer.Stop()
			p.batchTimer = nil
		}
		batch := p.takeQueueLocked()
		p.mu.Unlock()
		p.sendBatch(batch)
	} else {
		if p.batchTimer == nil {
			p.batchTimer = time.AfterFunc(p.cfg.BatchInterval, p.flushBatch)
		}
		p.mu.Unlock()
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		return nil, ErrPoolClosed
	}
}

// flushBatch is the batch window timer callback.
func (p *Pool) flushBatch() {
	p.mu.Lock()
	p.batchTimer = nil
	batch := p.takeQueueLocked()
	p.mu.Unlock()

	if len(batch) > 0 {
		p.sendBatch(batch)
	}
}

func (p *Pool) takeQueueLocked() []queuedCall {
	batch := p.queue
	p.queue = nil
	return batch
}

// sendBatch encodes the batch and writes it on the least-busy open
// connection. All payloads in the batch share the send outcome.
func (p *Pool) sendBatch(batch []queuedCall) {
	conn := p.pickConn()
	if conn == nil {
		for _, qc := range batch {
			qc.ch <- callResult{err: ErrNoConnection}
		}
		return
	}

	envs := make([]envelope, len(batch))
	for i, qc := range batch {
		envs[i] = qc.env
		p.registerPending(qc.env.ID, qc.ch, conn.stats)
	}

	data, err := encodeFrame(envs, p.cfg.EnableCompression)
	if err != nil {
		p.rejectBatch(batch, err)
		return
	}

	if err := conn.send(data); err != nil {
		p.rejectBatch(batch, fmt.Errorf("batch send: %w", err))
	}
}

// registerPending installs the request continuation with its deadline. On
// timeout the continuation is rejected and removed without closing the
// connection.
func (p *Pool) registerPending(id uint64, ch chan callResult, stats *Stats) {
	req := &pendingRequest{ch: ch, sentAt: time.Now(), stats: stats}
	req.timer = time.AfterFunc(p.cfg.CallTimeout, func() {
		p.mu.Lock()
		_, ok := p.pending[id]
		if ok {
			delete(p.pending, id)
		}
		p.mu.Unlock()
		if ok {
			select {
			case ch <- callResult{err: ErrCallTimeout}:
			default:
			}
		}
	})

	p.mu.Lock()
	p.pending[id] = req
	p.mu.Unlock()
}

// rejectBatch fails every payload of a batch with the same error.
func (p *Pool) rejectBatch(batch []queuedCall, err error) {
	p.mu.Lock()
	for _, qc := range batch {
		if req, ok := p.pending[qc.env.ID]; ok {
			req.timer.Stop()
			delete(p.pending, qc.env.ID)
		}
	}
	p.mu.Unlock()

	for _, qc := range batch {
		select {
		case qc.ch <- callResult{err: err}:
		default:
		}
	}
}

// pickConn returns the open connection with the fewest sent+received
// messages, or nil when none is open.
func (p *Pool) pickConn() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Conn
	var bestLoad uint64
	for _, s := range p.slots {
		if !s.open || s.conn == nil || !s.conn.alive() {
			continue
		}
		load := s.stats.load()
		if best == nil || load < bestLoad {
			best = s.conn
			bestLoad = load
		}
	}
	return best
}

// Subscribe registers a subscription and sends the subscribe request. The
// subscription survives reconnects: it is replayed on every connection that
// reestablishes.
func (p *Pool) Subscribe(ctx context.Context, method string, params any, onMessage func(json.RawMessage), unsubscribeMethod string) (uint64, error) {
	sub := &Subscription{
		ID:                p.subID.Add(1),
		Method:            method,
		Params:            params,
		OnMessage:         onMessage,
		UnsubscribeMethod: unsubscribeMethod,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPoolClosed
	}
	p.subs = append(p.subs, sub)
	p.mu.Unlock()

	if _, err := p.Call(ctx, method, params); err != nil {
		p.removeSub(sub.ID)
		return 0, fmt.Errorf("subscribe %s: %w", method, err)
	}
	return sub.ID, nil
}

// Unsubscribe sends the subscription's unsubscribe method and removes the
// local registration.
func (p *Pool) Unsubscribe(ctx context.Context, id uint64) error {
	p.mu.Lock()
	var sub *Subscription
	for _, s := range p.subs {
		if s.ID == id {
			sub = s
			break
		}
	}
	p.mu.Unlock()

	if sub == nil {
		return fmt.Errorf("transport: unknown subscription %d", id)
	}

	p.removeSub(id)

	if sub.UnsubscribeMethod == "" {
		return nil
	}
	if _, err := p.Call(ctx, sub.UnsubscribeMethod, sub.Params); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.UnsubscribeMethod, err)
	}
	return nil
}

func (p *Pool) removeSub(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subs {
		if s.ID == id {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// monitorLoop periodically logs per-connection statistics and proactively
// replaces connections found dead.
func (p *Pool) monitorLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.MonitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.mu.Lock()
			slots := make([]*slot, len(p.slots))
			copy(slots, p.slots)
			p.mu.Unlock()

			for _, s := range slots {
				p.mu.Lock()
				open := s.open
				dead := !s.open && !s.redialed && !s.terminal
				p.mu.Unlock()

				snap := s.stats.Snapshot()
				p.logger.Debug().
					Int("slot", s.idx).
					Bool("open", open).
					Uint64("sent", snap.MessagesSent).
					Uint64("received", snap.MessagesReceived).
					Uint64("errors", snap.Errors).
					Uint64("reconnects", snap.Reconnects).
					Dur("avg_latency", snap.AvgLatency).
					Msg("connection stats")

				if dead {
					p.scheduleRedial(s, true)
				}
			}
		}
	}
}

// Stats returns a snapshot per connection slot.
func (p *Pool) Stats() []StatsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snaps := make([]StatsSnapshot, len(p.slots))
	for i, s := range p.slots {
		snaps[i] = s.stats.Snapshot()
	}
	return snaps
}

// Close shuts the pool down: all connections are closed and every pending
// or queued request is rejected with ErrPoolClosed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)

	if p.batchTimer != nil {
		p.batchTimer.Stop()
		p.batchTimer = nil
	}
	queued := p.queue
	p.queue = nil

	pending := p.pending
	p.pending = make(map[uint64]*pendingRequest)

	slots := make([]*slot, len(p.slots))
	copy(slots, p.slots)
	p.mu.Unlock()

	for _, qc := range queued {
		select {
		case qc.ch <- callResult{err: ErrPoolClosed}:
		default:
		}
	}
	for _, req := range pending {
		req.timer.Stop()
		select {
		case req.ch <- callResult{err: ErrPoolClosed}:
		default:
		}
	}
	for _, s := range slots {
		if s.conn != nil {
			s.conn.close()
		}
	}

	p.wg.Wait()
	return nil
}
