// Package validation runs the per-candidate retry state machine:
// New -> Validating -> {Validated, Monitoring, Rejected}, with Monitoring
// feeding back into Validating until attempts are exhausted.
package validation

import (
	"context"
	"errors"
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
	DefaultMaxAttempts      = 3
	DefaultMonitoringTime   = 30 * time.Second
	DefaultCheckTimeout     = 15 * time.Second
	DefaultLiquidityTimeout = 5 * time.Second
	DefaultRefreshInterval  = time.Minute
	DefaultMaxConcurrent    = 8
	DefaultLiquidityField   = "liquidity"
)

// Config configures the validator.
type Config struct {
	MaxAttempts      int           // bound on validation attempts per candidate
	MonitoringTime   time.Duration // delay before a scheduled re-validation
	CheckTimeout     time.Duration // per token check
	LiquidityTimeout time.Duration // liquidity fetches are abandoned past this
	RefreshInterval  time.Duration // minimum spacing between liquidity refreshes
	MaxConcurrent    int           // concurrent candidate validations
	CacheTTL         time.Duration // lifetime of candidate cache entries
	LiquidityField   string        // pool object field holding liquidity
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MonitoringTime <= 0 {
		c.MonitoringTime = DefaultMonitoringTime
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.LiquidityTimeout <= 0 {
		c.LiquidityTimeout = DefaultLiquidityTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.LiquidityField == "" {
		c.LiquidityField = DefaultLiquidityField
	}
	return c
}

// Handler receives validated candidates with their liquidity snapshot.
type Handler func(ctx context.Context, c *domain.Candidate) error

// Validator drives candidates through the validation state machine. The
// cache is the single authority on candidate state; stores are optional
// write-behind sinks.
type Validator struct {
	cache       *cache.Cache
	check       TokenCheck
	client      sui.QueryClient
	candidates  storage.CandidateStore      // may be nil
	liquidity   storage.LiquidityPointStore // may be nil
	onCandidate Handler
	cfg         Config
	logger      zerolog.Logger

	sem  chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	timersMu sync.Mutex
	timers   map[string]*time.Timer
	closed   bool
}

// Options contains configuration for creating a Validator.
type Options struct {
	Cache          *cache.Cache
	Check          TokenCheck
	Client         sui.QueryClient
	CandidateStore storage.CandidateStore      // may be nil
	LiquidityStore storage.LiquidityPointStore // may be nil
	OnCandidate    Handler
	Config         Config
	Logger         zerolog.Logger
}

// New creates a Validator.
func New(opts Options) *Validator {
	cfg := opts.Config.withDefaults()
	return &Validator{
		cache:       opts.Cache,
		check:       opts.Check,
		client:      opts.Client,
		candidates:  opts.CandidateStore,
		liquidity:   opts.LiquidityStore,
		onCandidate: opts.OnCandidate,
		cfg:         cfg,
		logger:      opts.Logger.With().Str("component", "validation").Logger(),
		sem:         make(chan struct{}, cfg.MaxConcurrent),
		done:        make(chan struct{}),
		timers:      make(map[string]*time.Timer),
	}
}

// Admit takes ownership of a newly discovered candidate. It returns false
// when the pool is already tracked: in-flight, monitored, or terminally
// decided within the cache TTL. Rediscovery of a tracked pool is a no-op,
// and concurrent admissions of the same pool launch exactly one validation.
func (v *Validator) Admit(ctx context.Context, cand *domain.Candidate) bool {
	if !v.cache.SetIfAbsent(cand.PoolID, cand, v.cfg.CacheTTL) {
		return false
	}

	if v.candidates != nil {
		if err := v.candidates.Insert(ctx, cand); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			v.logger.Warn().Err(err).Str("pool", cand.PoolID).Msg("persist candidate failed")
		}
	}

	v.wg.Add(1)
	go v.validate(cand)
	return true
}

// validate runs one validation attempt for the candidate.
func (v *Validator) validate(cand *domain.Candidate) {
	defer v.wg.Done()

	select {
	case v.sem <- struct{}{}:
		defer func() { <-v.sem }()
	case <-v.done:
		return
	}

	if !v.cache.Update(cand.PoolID, func(e *cache.Entry) {
		e.State = domain.StateValidating
	}) {
		// Entry expired or evicted while queued; nothing to validate.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.CheckTimeout)
	defer cancel()

	start := time.Now()
	reportA, reportB := v.runChecks(ctx, cand)
	observability.RecordValidationDuration(time.Since(start).Seconds())

	if reportA.Valid && reportB.Valid {
		v.accept(cand, reportA, reportB)
		return
	}
	v.retryOrReject(cand, reportA, reportB)
}

// runChecks runs both token checks concurrently and joins them. Both sides
// must complete before a verdict is produced.
func (v *Validator) runChecks(ctx context.Context, cand *domain.Candidate) (Report, Report) {
	var (
		wg               sync.WaitGroup
		reportA, reportB Report
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		reportA = runCheck(ctx, v.check, cand.CoinA)
	}()
	go func() {
		defer wg.Done()
		reportB = runCheck(ctx, v.check, cand.CoinB)
	}()
	wg.Wait()

	return reportA, reportB
}

// accept finalizes a candidate as validated and emits it downstream with a
// liquidity snapshot. A liquidity fetch that times out is abandoned, not
// retried inline; the candidate is emitted with unknown liquidity.
func (v *Validator) accept(cand *domain.Candidate, reportA, reportB Report) {
	liq := v.fetchLiquidity(cand.PoolID)
	if liq != nil {
		cand.Liquidity = liq
	}

	v.cache.Update(cand.PoolID, func(e *cache.Entry) {
		e.State = domain.StateValidated
		e.LastLiquidityCheckAt = time.Now()
		if liq != nil {
			e.LiquidityHistory = append(e.LiquidityHistory, *liq)
		}
	})

	attempts := v.attempts(cand.PoolID)
	v.persistVerdict(&domain.Verdict{
		PoolID:     cand.PoolID,
		State:      domain.StateValidated,
		RiskScoreA: reportA.RiskScore,
		RiskScoreB: reportB.RiskScore,
		Attempts:   attempts,
		DecidedAt:  time.Now().UnixMilli(),
	})
	v.recordLiquidity(cand.PoolID, liq)

	v.logger.Info().
		Str("pool", cand.PoolID).
		Float64("risk_a", reportA.RiskScore).
		Float64("risk_b", reportB.RiskScore).
		Msg("pool validated")
	observability.RecordCandidateValidated(cand.SourceName)

	if v.onCandidate != nil {
		ctx, cancel := context.WithTimeout(context.Background(), v.cfg.CheckTimeout)
		defer cancel()
		if err := v.onCandidate(ctx, cand); err != nil {
			v.logger.Warn().Err(err).Str("pool", cand.PoolID).Msg("downstream handler failed")
		}
	}
}

// retryOrReject increments the attempt counter and either schedules a
// re-validation or rejects the candidate terminally.
func (v *Validator) retryOrReject(cand *domain.Candidate, reportA, reportB Report) {
	reason := failureReason(reportA, reportB)

	var attempts int
	updated := v.cache.Update(cand.PoolID, func(e *cache.Entry) {
		e.ValidationAttempts++
		attempts = e.ValidationAttempts
		if attempts >= v.cfg.MaxAttempts {
			e.State = domain.StateRejected
			e.RejectReason = reason
		} else {
			e.State = domain.StateMonitoring
		}
	})
	if !updated {
		return
	}

	if attempts >= v.cfg.MaxAttempts {
		v.persistVerdict(&domain.Verdict{
			PoolID:     cand.PoolID,
			State:      domain.StateRejected,
			Reason:     reason,
			RiskScoreA: reportA.RiskScore,
			RiskScoreB: reportB.RiskScore,
			Attempts:   attempts,
			DecidedAt:  time.Now().UnixMilli(),
		})
		v.logger.Info().
			Str("pool", cand.PoolID).
			Int("attempts", attempts).
			Str("reason", reason).
			Msg("pool rejected")
		observability.RecordCandidateRejected(cand.SourceName, reason)
		return
	}

	v.logger.Debug().
		Str("pool", cand.PoolID).
		Int("attempt", attempts).
		Str("reason", reason).
		Dur("retry_in", v.cfg.MonitoringTime).
		Msg("pool monitoring, re-validation scheduled")

	v.timersMu.Lock()
	if v.closed {
		v.timersMu.Unlock()
		return
	}
	v.timers[cand.PoolID] = time.AfterFunc(v.cfg.MonitoringTime, func() {
		// wg.Add must happen under the same lock that Close uses to set
		// closed, so Close never waits on a counter about to be bumped.
		v.timersMu.Lock()
		delete(v.timers, cand.PoolID)
		if v.closed {
			v.timersMu.Unlock()
			return
		}
		v.wg.Add(1)
		v.timersMu.Unlock()
		go v.validate(cand)
	})
	v.timersMu.Unlock()
}

// failureReason picks the reason of the failing side, preferring side A.
func failureReason(reportA, reportB Report) string {
	if !reportA.Valid && reportA.Reason != "" {
		return reportA.Reason
	}
	if !reportB.Valid && reportB.Reason != "" {
		return reportB.Reason
	}
	return "token check failed"
}

// attempts reads the current attempt counter from the cache.
func (v *Validator) attempts(poolID string) int {
	e, ok := v.cache.GetEntry(poolID)
	if !ok {
		return 0
	}
	return e.ValidationAttempts
}

// fetchLiquidity reads the pool object and extracts its liquidity field.
// The fetch races a timeout and returns nil on expiry or any failure.
func (v *Validator) fetchLiquidity(poolID string) *float64 {
	ctx, cancel := context.WithTimeout(context.Background(), v.cfg.LiquidityTimeout)
	defer cancel()

	obj, err := v.client.GetObject(ctx, poolID)
	if err != nil {
		v.logger.Debug().Err(err).Str("pool", poolID).Msg("liquidity fetch failed")
		return nil
	}
	if obj == nil {
		return nil
	}
	liq, ok := obj.NumericField(v.cfg.LiquidityField)
	if !ok {
		return nil
	}
	return &liq
}

// RefreshLiquidity re-reads liquidity for every validated pool that has not
// been checked within the refresh interval. Pools whose fetch fails are
// skipped for this cycle, not failed.
func (v *Validator) RefreshLiquidity(ctx context.Context) {
	for _, key := range v.cache.Keys() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		e, ok := v.cache.GetEntry(key)
		if !ok || e.State != domain.StateValidated {
			continue
		}
		if time.Since(e.LastLiquidityCheckAt) < v.cfg.RefreshInterval {
			continue
		}

		liq := v.fetchLiquidity(key)
		if liq == nil {
			continue
		}

		v.cache.Update(key, func(e *cache.Entry) {
			e.LastLiquidityCheckAt = time.Now()
			e.LiquidityHistory = append(e.LiquidityHistory, *liq)
			if cand, ok := e.Value.(*domain.Candidate); ok {
				cand.Liquidity = liq
			}
		})
		v.recordLiquidity(key, liq)
	}
}

// persistVerdict writes a verdict to the candidate store, when configured.
func (v *Validator) persistVerdict(verdict *domain.Verdict) {
	if v.candidates == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := v.candidates.RecordVerdict(ctx, verdict); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		v.logger.Warn().Err(err).Str("pool", verdict.PoolID).Msg("persist verdict failed")
	}
}

// recordLiquidity writes one liquidity observation to the sink, when
// configured.
func (v *Validator) recordLiquidity(poolID string, liq *float64) {
	if v.liquidity == nil || liq == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	point := &domain.LiquidityPoint{PoolID: poolID, Liquidity: *liq, ObservedAt: time.Now().UnixMilli()}
	if err := v.liquidity.InsertBatch(ctx, []*domain.LiquidityPoint{point}); err != nil {
		v.logger.Warn().Err(err).Str("pool", poolID).Msg("persist liquidity point failed")
	}
}

// Close cancels scheduled re-validations and waits for in-flight work.
func (v *Validator) Close() {
	v.timersMu.Lock()
	v.closed = true
	for id, t := range v.timers {
		t.Stop()
		delete(v.timers, id)
	}
	v.timersMu.Unlock()

	close(v.done)
	v.wg.Wait()
}
