package transport

import (
	"sync"
	"time"
)

// latencySampleCap bounds the ring buffer of round-trip samples.
const latencySampleCap = 100

// Stats tracks per-connection counters. All mutation happens from the
// owning connection's event handlers; the monitoring timer only reads
// snapshots.
type Stats struct {
	mu               sync.Mutex
	messagesSent     uint64
	messagesReceived uint64
	errors           uint64
	reconnects       uint64
	latency          [latencySampleCap]time.Duration
	latencyIdx       int
	latencyLen       int
	lastActivity     time.Time
}

// StatsSnapshot is a point-in-time copy of connection statistics.
type StatsSnapshot struct {
	MessagesSent     uint64
	MessagesReceived uint64
	Errors           uint64
	Reconnects       uint64
	AvgLatency       time.Duration
	LastActivity     time.Time
}

func (s *Stats) recordSent() {
	s.mu.Lock()
	s.messagesSent++
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Stats) recordReceived() {
	s.mu.Lock()
	s.messagesReceived++
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Stats) recordError() {
	s.mu.Lock()
	s.errors++
	s.mu.Unlock()
}

func (s *Stats) recordReconnect() {
	s.mu.Lock()
	s.reconnects++
	s.mu.Unlock()
}

func (s *Stats) recordLatency(d time.Duration) {
	s.mu.Lock()
	s.latency[s.latencyIdx] = d
	s.latencyIdx = (s.latencyIdx + 1) % latencySampleCap
	if s.latencyLen < latencySampleCap {
		s.latencyLen++
	}
	s.mu.Unlock()
}

// load returns sent+received, used for least-busy connection selection.
func (s *Stats) load() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesSent + s.messagesReceived
}

// Snapshot returns a copy of the current statistics.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum time.Duration
	for i := 0; i < s.latencyLen; i++ {
		sum += s.latency[i]
	}
	var avg time.Duration
	if s.latencyLen > 0 {
		avg = sum / time.Duration(s.latencyLen)
	}

	return StatsSnapshot{
		MessagesSent:     s.messagesSent,
		MessagesReceived: s.messagesReceived,
		Errors:           s.errors,
		Reconnects:       s.reconnects,
		AvgLatency:       avg,
		LastActivity:     s.lastActivity,
	}
}
