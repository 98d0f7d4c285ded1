package scanner

import (
	"fmt"
	"sync"
	"time"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/sui"
)

// Move event types for pool creation on the supported venues.
const (
	CetusCreatePool  = "0x1eabed72c53feb3805120a081dc15963c204dc8d091542592abaf7a35689b2fb::factory::CreatePoolEvent"
	TurbosCreatePool = "0x91bfbc386a41afcfd9b2533058d7e915a1d3829089cc268ff4333d54d6339ca1::pool_factory::PoolCreatedEvent"
	KriyaCreatePool  = "0xa0eba10b173538c8fecca1dff298e488402cc9ff374f8a12ca7758eebe830b66::spot_dex::PoolCreatedEvent"
	FlowXCreatePool  = "0xba153169476e8c3114962261d1edc70de5ad9781b83cc617ecc8c1923191cae0::factory::PairCreated"
)

// Default payload keys. Venue payloads differ slightly; sources can
// override per venue.
const (
	defaultPoolIDKey = "pool_id"
	defaultCoinAKey  = "coin_type_a"
	defaultCoinBKey  = "coin_type_b"
)

// Source is one independent venue event stream being monitored. Each source
// owns its query cursor; the cursor only advances when the node reports a
// next page.
type Source struct {
	Name      string
	EventType string

	poolIDKey string
	coinAKey  string
	coinBKey  string

	mu     sync.Mutex
	cursor *sui.EventID
}

// NewSource creates a source for the given venue name and Move event type.
func NewSource(name, eventType string) *Source {
	return &Source{
		Name:      name,
		EventType: eventType,
		poolIDKey: defaultPoolIDKey,
		coinAKey:  defaultCoinAKey,
		coinBKey:  defaultCoinBKey,
	}
}

// WithPayloadKeys overrides the event payload keys for venues that name
// their fields differently.
func (s *Source) WithPayloadKeys(poolID, coinA, coinB string) *Source {
	s.poolIDKey = poolID
	s.coinAKey = coinA
	s.coinBKey = coinB
	return s
}

// Filter returns the event filter for this source.
func (s *Source) Filter() sui.EventFilter {
	return sui.EventFilter{MoveEventType: s.EventType}
}

// Cursor returns the current query cursor.
func (s *Source) Cursor() *sui.EventID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// SetCursor advances the query cursor.
func (s *Source) SetCursor(c *sui.EventID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = c
}

// Parse extracts a Candidate from a pool creation event. Events missing the
// pool id or either coin type are rejected, as are events with unparseable
// timestamps.
func (s *Source) Parse(ev *sui.Event, discoveredAt int64) (*domain.Candidate, error) {
	poolID, ok := ev.StringField(s.poolIDKey)
	if !ok || poolID == "" {
		return nil, fmt.Errorf("source %s: event %s/%s missing %s", s.Name, ev.ID.TxDigest, ev.ID.EventSeq, s.poolIDKey)
	}
	coinA, ok := ev.StringField(s.coinAKey)
	if !ok || coinA == "" {
		return nil, fmt.Errorf("source %s: event for pool %s missing %s", s.Name, poolID, s.coinAKey)
	}
	coinB, ok := ev.StringField(s.coinBKey)
	if !ok || coinB == "" {
		return nil, fmt.Errorf("source %s: event for pool %s missing %s", s.Name, poolID, s.coinBKey)
	}

	ts, err := ev.Timestamp()
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", s.Name, err)
	}

	return &domain.Candidate{
		PoolID:       poolID,
		SourceName:   s.Name,
		CoinA:        coinA,
		CoinB:        coinB,
		CreatedAtMs:  ts,
		DiscoveredAt: discoveredAt,
	}, nil
}

// DefaultSources returns the standard venue set.
func DefaultSources() []*Source {
	return []*Source{
		NewSource("cetus", CetusCreatePool),
		NewSource("turbos", TurbosCreatePool),
		NewSource("kriya", KriyaCreatePool),
		NewSource("flowx", FlowXCreatePool).WithPayloadKeys("pair", "coin_x", "coin_y"),
	}
}

// nowMs is the local clock in unix milliseconds.
func nowMs() int64 {
	return time.Now().UnixMilli()
}
