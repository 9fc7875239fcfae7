package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(clock *fakeClock, capacity int) *Store[string] {
	return New[string](Options{
		FreshFor: 5 * time.Second,
		StaleFor: 30 * time.Second,
		Capacity: capacity,
		Now:      clock.Now,
	})
}

func TestGetAfterSetRoundTrip(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)
	s.Set("quote:AAPL", "v1")

	got, ok := s.Get("quote:AAPL")
	if !ok || got != "v1" {
		t.Fatalf("expected fresh hit, got %q ok=%v", got, ok)
	}
}

func TestGetPastStaleCeilingMisses(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)
	s.Set("k", "v")

	clock.Advance(30 * time.Second)
	if _, ok := s.Get("k"); ok {
		t.Fatal("expected miss at stale ceiling")
	}
	// Expired entry is dropped, not just hidden.
	if s.Len() != 0 {
		t.Fatalf("expected expired entry dropped, len=%d", s.Len())
	}
}

func TestStaleUsableWindow(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)
	s.Set("k", "v")

	if s.Stale("k") {
		t.Fatal("fresh entry reported stale")
	}
	clock.Advance(5 * time.Second)
	if !s.Stale("k") {
		t.Fatal("entry at freshness ceiling should be stale")
	}
	if _, ok := s.Get("k"); !ok {
		t.Fatal("stale-but-usable entry should still be served by Get")
	}
	if !s.Stale("missing") {
		t.Fatal("missing key should report stale")
	}
}

func TestInsertionOrderEviction(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 2)
	s.Set("a", "1")
	s.Set("b", "2")
	s.Set("c", "3")

	if _, ok := s.Get("a"); ok {
		t.Fatal("oldest insertion should have been evicted")
	}
	if _, ok := s.Get("b"); !ok {
		t.Fatal("b should survive")
	}
	if _, ok := s.Get("c"); !ok {
		t.Fatal("c should survive")
	}
}

func TestOverwriteMovesToBackOfEvictionOrder(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 2)
	s.Set("a", "1")
	s.Set("b", "2")
	s.Set("a", "1b") // re-insert a
	s.Set("c", "3")  // evicts b, the oldest insertion

	if _, ok := s.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if got, ok := s.Get("a"); !ok || got != "1b" {
		t.Fatalf("a should survive with new value, got %q ok=%v", got, ok)
	}
}

func TestValidationToken(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)
	s.SetWithToken("k", "v", `W/"abc"`)

	tok, ok := s.Token("k")
	if !ok || tok != `W/"abc"` {
		t.Fatalf("unexpected token %q ok=%v", tok, ok)
	}
	if _, ok := s.Token("missing"); ok {
		t.Fatal("missing key should have no token")
	}
}

func TestGetOrRevalidateBlocksWithoutUsableValue(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)

	got, err := s.GetOrRevalidate(context.Background(), "k", func(context.Context) (string, error) {
		return "fetched", nil
	}, false)
	if err != nil || got != "fetched" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if v, ok := s.Get("k"); !ok || v != "fetched" {
		t.Fatal("revalidation result should be cached")
	}
}

func TestGetOrRevalidatePropagatesFetchError(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)
	wantErr := errors.New("upstream down")

	_, err := s.GetOrRevalidate(context.Background(), "k", func(context.Context) (string, error) {
		return "", wantErr
	}, false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestGetOrRevalidateServesStaleWhileRefreshing(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)
	s.Set("k", "old")
	clock.Advance(10 * time.Second) // stale-usable

	release := make(chan struct{})
	done := make(chan struct{})
	got, err := s.GetOrRevalidate(context.Background(), "k", func(context.Context) (string, error) {
		defer close(done)
		<-release
		return "new", nil
	}, false)
	if err != nil || got != "old" {
		t.Fatalf("expected immediate stale value, got %q err=%v", got, err)
	}

	close(release)
	<-done
	// Background refresh eventually lands in the store.
	deadline := time.After(time.Second)
	for {
		if v, ok := s.Get("k"); ok && v == "new" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("background refresh never stored")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestGetOrRevalidateSwallowsBackgroundFailure(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)
	s.Set("k", "old")
	clock.Advance(10 * time.Second)

	done := make(chan struct{})
	got, err := s.GetOrRevalidate(context.Background(), "k", func(context.Context) (string, error) {
		defer close(done)
		return "", errors.New("boom")
	}, false)
	if err != nil || got != "old" {
		t.Fatalf("background failure must not surface, got %q err=%v", got, err)
	}
	<-done
	if v, ok := s.Get("k"); !ok || v != "old" {
		t.Fatal("failed refresh must leave the stale value intact")
	}
}

func TestGetOrRevalidateDedupsConcurrentCallers(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)

	var fetches int32
	release := make(chan struct{})
	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&fetches, 1)
		<-release
		return "shared", nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetOrRevalidate(context.Background(), "k", fetch, false)
		}(i)
	}

	// Give every caller time to reach the in-flight check.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&fetches); n != 1 {
		t.Fatalf("expected exactly 1 fetch, got %d", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil || results[i] != "shared" {
			t.Fatalf("caller %d: got %q err=%v", i, results[i], errs[i])
		}
	}
}

func TestGetOrRevalidateForceBypassesFresh(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)
	s.Set("k", "old")

	got, err := s.GetOrRevalidate(context.Background(), "k", func(context.Context) (string, error) {
		return "forced", nil
	}, true)
	if err != nil || got != "forced" {
		t.Fatalf("force should refetch, got %q err=%v", got, err)
	}
}

func TestGetOrRevalidateInflightCleanupAfterPanicFreeError(t *testing.T) {
	clock := newFakeClock()
	s := newStore(clock, 10)

	_, _ = s.GetOrRevalidate(context.Background(), "k", func(context.Context) (string, error) {
		return "", errors.New("first attempt fails")
	}, false)

	// A dangling in-flight entry would make this second call hang on
	// a closed revalidation instead of fetching.
	got, err := s.GetOrRevalidate(context.Background(), "k", func(context.Context) (string, error) {
		return "second", nil
	}, false)
	if err != nil || got != "second" {
		t.Fatalf("expected fresh fetch after failed revalidation, got %q err=%v", got, err)
	}
}

func TestGetWithinWidenedCeiling(t *testing.T) {
	clock := newFakeClock()
	s := New[string](Options{
		FreshFor:  5 * time.Second,
		StaleFor:  30 * time.Second,
		Retention: 5 * time.Minute,
		Capacity:  10,
		Now:       clock.Now,
	})
	s.Set("k", "v")
	clock.Advance(90 * time.Second)

	if _, ok := s.Get("k"); ok {
		t.Fatal("normal ceiling should miss at 90s")
	}
	if got, ok := s.GetWithin("k", 5*time.Minute); !ok || got != "v" {
		t.Fatal("widened ceiling should still serve the entry")
	}
	if _, ok := s.GetWithin("k", time.Minute); ok {
		t.Fatal("entry older than widened ceiling should miss")
	}
}
