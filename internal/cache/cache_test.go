package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"sui-pool-radar/internal/domain"
	"sui-pool-radar/internal/observability"
)

func TestCache_SetGet(t *testing.T) {
	c := New()

	c.Set("0xpool", "value", time.Minute)

	v, ok := c.Get("0xpool")
	if !ok {
		t.Fatal("expected hit")
	}
	if v != "value" {
		t.Errorf("Get = %v, want value", v)
	}

	if _, ok := c.Get("0xmissing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestCache_NewEntriesStartPending(t *testing.T) {
	c := New()
	c.Set("0xpool", "value", time.Minute)

	e, ok := c.GetEntry("0xpool")
	if !ok {
		t.Fatal("expected entry")
	}
	if e.State != domain.StatePending {
		t.Errorf("State = %s, want %s", e.State, domain.StatePending)
	}
	if e.ValidationAttempts != 0 {
		t.Errorf("ValidationAttempts = %d, want 0", e.ValidationAttempts)
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New()

	c.Set("0xshort", "value", 20*time.Millisecond)

	if !c.Has("0xshort") {
		t.Fatal("entry should be live before TTL")
	}

	time.Sleep(30 * time.Millisecond)

	if c.Has("0xshort") {
		t.Error("entry should be expired")
	}
	if _, ok := c.Get("0xshort"); ok {
		t.Error("Get should miss on expired entry")
	}
	// Lazy purge removed it.
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after purge", c.Len())
	}
}

func TestCache_BulkEviction(t *testing.T) {
	c := New(WithMaxSize(10))

	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("0xpool%02d", i), i, time.Minute)
		time.Sleep(time.Millisecond) // distinct InsertedAt ordering
	}
	if c.Len() != 10 {
		t.Fatalf("Len = %d, want 10", c.Len())
	}

	// The insert past capacity evicts the oldest 20% in one pass.
	c.Set("0xpool10", 10, time.Minute)

	if got := c.Evictions(); got != 2 {
		t.Errorf("Evictions = %d, want 2", got)
	}
	if c.Len() != 9 {
		t.Errorf("Len = %d, want 9 (10 - 2 evicted + 1 new)", c.Len())
	}
	for _, gone := range []string{"0xpool00", "0xpool01"} {
		if c.Has(gone) {
			t.Errorf("oldest entry %s should have been evicted", gone)
		}
	}
	if !c.Has("0xpool10") {
		t.Error("new entry missing after eviction")
	}
}

func TestCache_SetIfAbsent(t *testing.T) {
	c := New()

	if !c.SetIfAbsent("0xpool", "first", time.Minute) {
		t.Fatal("SetIfAbsent on an empty cache returned false")
	}
	if c.SetIfAbsent("0xpool", "second", time.Minute) {
		t.Error("SetIfAbsent on a live entry should return false")
	}
	if v, _ := c.Get("0xpool"); v != "first" {
		t.Errorf("Get = %v, want the first value kept", v)
	}

	c.Set("0xshort", "value", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if !c.SetIfAbsent("0xshort", "again", time.Minute) {
		t.Error("SetIfAbsent should win over an expired entry")
	}
}

func TestCache_SetIfAbsentConcurrent(t *testing.T) {
	c := New()

	var won atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SetIfAbsent("0xraced", "v", time.Minute) {
				won.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := won.Load(); got != 1 {
		t.Errorf("winners = %d, want exactly 1 for concurrent inserts of one key", got)
	}
}

func TestCache_ExportsEvictionMetrics(t *testing.T) {
	evictedBefore := testutil.ToFloat64(observability.DefaultMetrics.CacheEvictions)

	c := New(WithMaxSize(10))
	for i := 0; i <= 10; i++ {
		c.Set(fmt.Sprintf("0xm%02d", i), i, time.Minute)
		time.Sleep(time.Millisecond)
	}

	evicted := testutil.ToFloat64(observability.DefaultMetrics.CacheEvictions) - evictedBefore
	if evicted != 2 {
		t.Errorf("eviction counter delta = %v, want 2", evicted)
	}
	if size := testutil.ToFloat64(observability.DefaultMetrics.CacheSize); size != float64(c.Len()) {
		t.Errorf("size gauge = %v, want %d", size, c.Len())
	}

	c.Delete("0xm10")
	if size := testutil.ToFloat64(observability.DefaultMetrics.CacheSize); size != float64(c.Len()) {
		t.Errorf("size gauge after delete = %v, want %d", size, c.Len())
	}
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := New(WithMaxSize(3))

	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
	}

	c.Set("k1", "updated", time.Minute)

	if got := c.Evictions(); got != 0 {
		t.Errorf("Evictions = %d, want 0 for overwrite of existing key", got)
	}
	v, _ := c.Get("k1")
	if v != "updated" {
		t.Errorf("Get(k1) = %v, want updated", v)
	}
}

func TestCache_GetOrCompute(t *testing.T) {
	c := New()

	calls := 0
	factory := func() (any, error) {
		calls++
		return "computed", nil
	}

	v, err := c.GetOrCompute("k", time.Minute, factory)
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if v != "computed" {
		t.Errorf("value = %v, want computed", v)
	}

	// Second call hits the cache.
	if _, err := c.GetOrCompute("k", time.Minute, factory); err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if calls != 1 {
		t.Errorf("factory calls = %d, want 1", calls)
	}
}

func TestCache_GetOrComputeErrorNotCached(t *testing.T) {
	c := New()

	boom := errors.New("boom")
	if _, err := c.GetOrCompute("k", time.Minute, func() (any, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}

	if c.Has("k") {
		t.Error("failed computation must not be cached")
	}
}

func TestCache_UpdateBoundsHistory(t *testing.T) {
	c := New(WithMaxHistory(3))
	c.Set("k", nil, time.Minute)

	for i := 0; i < 5; i++ {
		liq := float64(i)
		ok := c.Update("k", func(e *Entry) {
			e.LiquidityHistory = append(e.LiquidityHistory, liq)
		})
		if !ok {
			t.Fatal("Update on live entry returned false")
		}
	}

	e, _ := c.GetEntry("k")
	if len(e.LiquidityHistory) != 3 {
		t.Fatalf("history length = %d, want 3", len(e.LiquidityHistory))
	}
	// Oldest observations are dropped first.
	if e.LiquidityHistory[0] != 2 || e.LiquidityHistory[2] != 4 {
		t.Errorf("history = %v, want [2 3 4]", e.LiquidityHistory)
	}
}

func TestCache_UpdateMissingKey(t *testing.T) {
	c := New()
	if c.Update("absent", func(e *Entry) {}) {
		t.Error("Update on missing key should return false")
	}
}

func TestCache_KeysSkipsExpired(t *testing.T) {
	c := New()
	c.Set("live", 1, time.Minute)
	c.Set("dead", 2, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "live" {
		t.Errorf("Keys = %v, want [live]", keys)
	}
}

func TestCache_Delete(t *testing.T) {
	c := New()
	c.Set("k", 1, time.Minute)
	c.Delete("k")
	if c.Has("k") {
		t.Error("entry should be gone after Delete")
	}
}
