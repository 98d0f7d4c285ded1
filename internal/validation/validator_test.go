package validation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sui-pool-radar/internal/cache"
	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/storage/memory"
	"sui-pool-radar/internal/sui"
	"sui-pool-radar/internal/sui/stub"
)

func testCandidate(poolID string) *domain.Candidate {
	return &domain.Candidate{
		PoolID:       poolID,
		SourceName:   "cetus",
		CoinA:        "0x2::sui::SUI",
		CoinB:        "0xabc::pepe::PEPE",
		CreatedAtMs:  time.Now().UnixMilli(),
		DiscoveredAt: time.Now().UnixMilli(),
	}
}

func passAll(context.Context, string) (Report, error) {
	return Report{Valid: true, RiskScore: 1}, nil
}

// emitted collects candidates delivered downstream.
type emitted struct {
	mu   sync.Mutex
	cand []*domain.Candidate
}

func (e *emitted) handler(_ context.Context, c *domain.Candidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cand = append(e.cand, c)
	return nil
}

func (e *emitted) list() []*domain.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Candidate, len(e.cand))
	copy(out, e.cand)
	return out
}

// waitForState polls until the pool reaches the state or the deadline hits.
func waitForState(t *testing.T, c *cache.Cache, poolID string, want domain.ValidationState) cache.Entry {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		e, ok := c.GetEntry(poolID)
		if ok && e.State == want {
			return e
		}
		if time.Now().After(deadline) {
			t.Fatalf("pool %s never reached %s, entry=%+v ok=%v", poolID, want, e, ok)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestValidator_AcceptPath(t *testing.T) {
	client := stub.NewQueryClient()
	client.AddObject(&sui.ObjectState{
		ObjectID: "0xpool",
		Fields:   map[string]any{"liquidity": "123456"},
	})

	c := cache.New()
	store := memory.NewCandidateStore()
	liqStore := memory.NewLiquidityPointStore()
	sink := &emitted{}

	v := New(Options{
		Cache:          c,
		Check:          passAll,
		Client:         client,
		CandidateStore: store,
		LiquidityStore: liqStore,
		OnCandidate:    sink.handler,
		Logger:         zerolog.Nop(),
	})
	defer v.Close()

	if !v.Admit(context.Background(), testCandidate("0xpool")) {
		t.Fatal("Admit of a new pool returned false")
	}

	entry := waitForState(t, c, "0xpool", domain.StateValidated)
	if len(entry.LiquidityHistory) != 1 || entry.LiquidityHistory[0] != 123456 {
		t.Errorf("liquidity history = %v, want [123456]", entry.LiquidityHistory)
	}

	out := sink.list()
	if len(out) != 1 {
		t.Fatalf("emitted %d candidates, want 1", len(out))
	}
	if out[0].Liquidity == nil || *out[0].Liquidity != 123456 {
		t.Errorf("emitted liquidity = %v, want 123456", out[0].Liquidity)
	}

	verdict, err := store.GetVerdict(context.Background(), "0xpool")
	if err != nil {
		t.Fatalf("GetVerdict: %v", err)
	}
	if verdict.State != domain.StateValidated {
		t.Errorf("verdict state = %s, want %s", verdict.State, domain.StateValidated)
	}

	points := liqStore.GetByPool(context.Background(), "0xpool")
	if len(points) != 1 || points[0].Liquidity != 123456 {
		t.Errorf("liquidity points = %v, want one observation of 123456", points)
	}
}

func TestValidator_AdmitDedupsTrackedPools(t *testing.T) {
	c := cache.New()
	v := New(Options{
		Cache:  c,
		Check:  passAll,
		Client: stub.NewQueryClient(),
		Logger: zerolog.Nop(),
	})
	defer v.Close()

	if !v.Admit(context.Background(), testCandidate("0xdup")) {
		t.Fatal("first Admit returned false")
	}
	if v.Admit(context.Background(), testCandidate("0xdup")) {
		t.Error("second Admit of a tracked pool should return false")
	}
}

func TestValidator_AdmitConcurrentDuplicates(t *testing.T) {
	c := cache.New()
	store := memory.NewCandidateStore()
	v := New(Options{
		Cache:          c,
		Check:          passAll,
		Client:         stub.NewQueryClient(),
		CandidateStore: store,
		Logger:         zerolog.Nop(),
	})
	defer v.Close()

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v.Admit(context.Background(), testCandidate("0xraced")) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 1 {
		t.Errorf("admissions = %d, want exactly 1 for one pool id", got)
	}
}

func TestValidator_BoundedRetriesEndInRejection(t *testing.T) {
	var calls int
	var mu sync.Mutex
	check := func(_ context.Context, coinType string) (Report, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return Report{Valid: false, RiskScore: 8, Reason: "no liquidity lock"}, nil
	}

	c := cache.New()
	store := memory.NewCandidateStore()
	sink := &emitted{}

	v := New(Options{
		Cache:          c,
		Check:          check,
		Client:         stub.NewQueryClient(),
		CandidateStore: store,
		OnCandidate:    sink.handler,
		Config: Config{
			MaxAttempts:    3,
			MonitoringTime: 10 * time.Millisecond,
		},
		Logger: zerolog.Nop(),
	})
	defer v.Close()

	v.Admit(context.Background(), testCandidate("0xbad"))

	entry := waitForState(t, c, "0xbad", domain.StateRejected)
	if entry.ValidationAttempts != 3 {
		t.Errorf("attempts = %d, want 3", entry.ValidationAttempts)
	}
	if entry.RejectReason != "no liquidity lock" {
		t.Errorf("reject reason = %q", entry.RejectReason)
	}

	verdict, err := store.GetVerdict(context.Background(), "0xbad")
	if err != nil {
		t.Fatalf("GetVerdict: %v", err)
	}
	if verdict.State != domain.StateRejected || verdict.Attempts != 3 {
		t.Errorf("verdict = %+v, want rejected after 3 attempts", verdict)
	}

	if len(sink.list()) != 0 {
		t.Error("rejected pool must not be emitted downstream")
	}

	// Both coins are checked on every attempt.
	mu.Lock()
	defer mu.Unlock()
	if calls != 6 {
		t.Errorf("check calls = %d, want 6 (2 coins x 3 attempts)", calls)
	}
}

func TestValidator_PanickingCheckCountsInvalid(t *testing.T) {
	check := func(_ context.Context, coinType string) (Report, error) {
		panic("scoring bug")
	}

	c := cache.New()
	v := New(Options{
		Cache:  c,
		Check:  check,
		Client: stub.NewQueryClient(),
		Config: Config{MaxAttempts: 1},
		Logger: zerolog.Nop(),
	})
	defer v.Close()

	v.Admit(context.Background(), testCandidate("0xpanic"))

	entry := waitForState(t, c, "0xpanic", domain.StateRejected)
	if entry.RejectReason != "check panicked" {
		t.Errorf("reject reason = %q, want check panicked", entry.RejectReason)
	}
}

func TestValidator_FailureReasonPrefersSideA(t *testing.T) {
	check := func(_ context.Context, coinType string) (Report, error) {
		if coinType == "0x2::sui::SUI" {
			return Report{Valid: true, RiskScore: 0}, nil
		}
		return Report{Valid: false, RiskScore: 9, Reason: "mint authority live"}, nil
	}

	c := cache.New()
	v := New(Options{
		Cache:  c,
		Check:  check,
		Client: stub.NewQueryClient(),
		Config: Config{MaxAttempts: 1},
		Logger: zerolog.Nop(),
	})
	defer v.Close()

	v.Admit(context.Background(), testCandidate("0xmixed"))

	entry := waitForState(t, c, "0xmixed", domain.StateRejected)
	if entry.RejectReason != "mint authority live" {
		t.Errorf("reject reason = %q, want the failing side's reason", entry.RejectReason)
	}
}

func TestValidator_EmitsWithUnknownLiquidityOnFetchFailure(t *testing.T) {
	client := stub.NewQueryClient()
	client.ObjectErr = errors.New("node timeout")

	c := cache.New()
	sink := &emitted{}
	v := New(Options{
		Cache:       c,
		Check:       passAll,
		Client:      client,
		OnCandidate: sink.handler,
		Logger:      zerolog.Nop(),
	})
	defer v.Close()

	v.Admit(context.Background(), testCandidate("0xnoliq"))

	waitForState(t, c, "0xnoliq", domain.StateValidated)

	out := sink.list()
	if len(out) != 1 {
		t.Fatalf("emitted %d candidates, want 1", len(out))
	}
	if out[0].Liquidity != nil {
		t.Errorf("liquidity = %v, want nil when the fetch fails", *out[0].Liquidity)
	}
}

func TestValidator_RefreshLiquidity(t *testing.T) {
	client := stub.NewQueryClient()
	client.AddObject(&sui.ObjectState{
		ObjectID: "0xfresh",
		Fields:   map[string]any{"liquidity": float64(777)},
	})

	c := cache.New()
	liqStore := memory.NewLiquidityPointStore()
	v := New(Options{
		Cache:          c,
		Check:          passAll,
		Client:         client,
		LiquidityStore: liqStore,
		Config:         Config{RefreshInterval: time.Millisecond},
		Logger:         zerolog.Nop(),
	})
	defer v.Close()

	cand := testCandidate("0xfresh")
	c.Set(cand.PoolID, cand, time.Minute)
	c.Update(cand.PoolID, func(e *cache.Entry) {
		e.State = domain.StateValidated
		e.LastLiquidityCheckAt = time.Now().Add(-time.Hour)
	})

	v.RefreshLiquidity(context.Background())

	entry, _ := c.GetEntry("0xfresh")
	if len(entry.LiquidityHistory) != 1 || entry.LiquidityHistory[0] != 777 {
		t.Errorf("history = %v, want [777]", entry.LiquidityHistory)
	}
	if cand.Liquidity == nil || *cand.Liquidity != 777 {
		t.Errorf("candidate liquidity = %v, want 777", cand.Liquidity)
	}
	if points := liqStore.GetByPool(context.Background(), "0xfresh"); len(points) != 1 {
		t.Errorf("liquidity points = %v, want one observation", points)
	}
}

func TestValidator_RefreshSkipsRecentlyChecked(t *testing.T) {
	client := stub.NewQueryClient()
	client.AddObject(&sui.ObjectState{
		ObjectID: "0xrecent",
		Fields:   map[string]any{"liquidity": float64(1)},
	})

	c := cache.New()
	v := New(Options{
		Cache:  c,
		Check:  passAll,
		Client: client,
		Config: Config{RefreshInterval: time.Hour},
		Logger: zerolog.Nop(),
	})
	defer v.Close()

	cand := testCandidate("0xrecent")
	c.Set(cand.PoolID, cand, time.Minute)
	c.Update(cand.PoolID, func(e *cache.Entry) {
		e.State = domain.StateValidated
		e.LastLiquidityCheckAt = time.Now()
	})

	v.RefreshLiquidity(context.Background())

	entry, _ := c.GetEntry("0xrecent")
	if len(entry.LiquidityHistory) != 0 {
		t.Errorf("history = %v, want untouched within the refresh interval", entry.LiquidityHistory)
	}
}

func TestValidator_CloseCancelsScheduledRetries(t *testing.T) {
	check := func(context.Context, string) (Report, error) {
		return Report{Valid: false, Reason: "nope"}, nil
	}

	c := cache.New()
	v := New(Options{
		Cache:  c,
		Check:  check,
		Client: stub.NewQueryClient(),
		Config: Config{
			MaxAttempts:    5,
			MonitoringTime: time.Hour, // retry would block Close if not cancelled
		},
		Logger: zerolog.Nop(),
	})

	v.Admit(context.Background(), testCandidate("0xslow"))
	waitForState(t, c, "0xslow", domain.StateMonitoring)

	done := make(chan struct{})
	go func() {
		v.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a scheduled retry")
	}
}
