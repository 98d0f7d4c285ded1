// Package scanner polls every registered venue for pool creation events,
// deduplicates candidates and hands new ones to the validation stage.
package scanner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sui-pool-radar/internal/cache"
	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/observability"
	"sui-pool-radar/internal/storage"
	"sui-pool-radar/internal/sui"
)

// Default configuration values.
const (
	DefaultScanInterval    = 5 * time.Second
	DefaultBatchSize       = 3
	DefaultQueryLimit      = 50
	DefaultClockSkew       = 30 * time.Second
	DefaultInterBatchDelay = 100 * time.Millisecond
)

// Config configures the scan loop.
type Config struct {
	ScanInterval       time.Duration // minimum cycle period, measured from cycle start
	BatchSize          int           // sources queried concurrently per wave
	QueryLimit         int           // events per source query
	ClockSkewTolerance time.Duration // future timestamps beyond this are discarded
	InterBatchDelay    time.Duration // pause between waves
	SeenTTL            time.Duration // retention for the cross-restart seen set
}

func (c Config) withDefaults() Config {
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.QueryLimit <= 0 {
		c.QueryLimit = DefaultQueryLimit
	}
	if c.ClockSkewTolerance <= 0 {
		c.ClockSkewTolerance = DefaultClockSkew
	}
	if c.InterBatchDelay <= 0 {
		c.InterBatchDelay = DefaultInterBatchDelay
	}
	if c.SeenTTL <= 0 {
		c.SeenTTL = 24 * time.Hour
	}
	return c
}

// Handler receives each newly discovered candidate exactly once while it is
// non-terminal.
type Handler func(ctx context.Context, c *domain.Candidate)

// Scanner coordinates per-source polling with global pacing.
type Scanner struct {
	client  sui.QueryClient
	cache   *cache.Cache
	seen    storage.SeenStore // optional, survives restarts
	sources []*Source
	cfg     Config
	logger  zerolog.Logger

	kick chan struct{}
}

// Options contains configuration for creating a Scanner.
type Options struct {
	Client    sui.QueryClient
	Cache     *cache.Cache
	SeenStore storage.SeenStore // may be nil
	Sources   []*Source
	Config    Config
	Logger    zerolog.Logger
}

// New creates a Scanner.
func New(opts Options) *Scanner {
	return &Scanner{
		client:  opts.Client,
		cache:   opts.Cache,
		seen:    opts.SeenStore,
		sources: opts.Sources,
		cfg:     opts.Config.withDefaults(),
		logger:  opts.Logger.With().Str("component", "scanner").Logger(),
		kick:    make(chan struct{}, 1),
	}
}

// Kick requests an immediate scan cycle, typically on a push notification
// from the transport. Coalesces when a kick is already pending.
func (s *Scanner) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run begins the scan loop and blocks until the context is cancelled. Each
// cycle walks all sources in waves of BatchSize; a single source's failure
// never aborts the others.
func (s *Scanner) Run(ctx context.Context, handle Handler) error {
	s.logger.Info().Int("sources", len(s.sources)).Dur("interval", s.cfg.ScanInterval).Msg("scanner started")

	for {
		cycleStart := time.Now()
		s.runCycle(ctx, handle)

		// Pace from cycle start: sleep only the remainder, wake early on
		// a push kick.
		remaining := s.cfg.ScanInterval - time.Since(cycleStart)
		if remaining > 0 {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("scanner stopping")
				return ctx.Err()
			case <-s.kick:
			case <-time.After(remaining):
			}
		} else {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("scanner stopping")
				return ctx.Err()
			default:
			}
		}
	}
}

// runCycle queries every source once, in bounded concurrent waves.
func (s *Scanner) runCycle(ctx context.Context, handle Handler) {
	for start := 0; start < len(s.sources); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(s.sources) {
			end = len(s.sources)
		}

		var wg sync.WaitGroup
		for _, src := range s.sources[start:end] {
			wg.Add(1)
			go func(src *Source) {
				defer wg.Done()
				s.scanSource(ctx, src, handle)
			}(src)
		}
		wg.Wait()

		if end < len(s.sources) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.InterBatchDelay):
			}
		}
	}
	observability.RecordScanCycle()
}

// scanSource pulls one page of events for a source and forwards unseen
// candidates. Failures are logged and isolated to the source.
func (s *Scanner) scanSource(ctx context.Context, src *Source, handle Handler) {
	page, err := s.client.QueryEvents(ctx, src.Filter(), src.Cursor(), s.cfg.QueryLimit, true)
	if err != nil {
		s.logger.Warn().Err(err).Str("source", src.Name).Msg("event query failed")
		observability.RecordScanError(src.Name)
		return
	}

	if page.HasNextPage && page.NextCursor != nil {
		src.SetCursor(page.NextCursor)
	}

	now := nowMs()
	skewLimit := now + s.cfg.ClockSkewTolerance.Milliseconds()

	for i := range page.Data {
		ev := &page.Data[i]
		observability.RecordEventScanned(src.Name)

		cand, err := src.Parse(ev, now)
		if err != nil {
			// Data error: discard the event, the source continues.
			s.logger.Debug().Err(err).Str("source", src.Name).Msg("discarding malformed event")
			observability.RecordEventDiscarded(src.Name, "malformed")
			continue
		}

		if cand.CreatedAtMs > skewLimit {
			s.logger.Debug().
				Str("pool", cand.PoolID).
				Int64("event_ms", cand.CreatedAtMs).
				Msg("discarding event with future timestamp")
			observability.RecordEventDiscarded(src.Name, "clock_skew")
			continue
		}

		if s.cache.Has(cand.PoolID) {
			continue
		}

		if s.seen != nil {
			fresh, err := s.seen.MarkSeen(ctx, cand.PoolID, s.cfg.SeenTTL)
			if err != nil {
				// Seen store is an optimization; fall through to the
				// cache-based dedup on error.
				s.logger.Warn().Err(err).Str("pool", cand.PoolID).Msg("seen store unavailable")
			} else if !fresh {
				continue
			}
		}

		s.logger.Info().
			Str("source", src.Name).
			Str("pool", cand.PoolID).
			Str("coin_a", cand.CoinA).
			Str("coin_b", cand.CoinB).
			Msg("pool discovered")
		observability.RecordCandidateDiscovered(src.Name)

		handle(ctx, cand)
	}
}
