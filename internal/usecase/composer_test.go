package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"MarketPulse/internal/domain/models"
	"MarketPulse/pkg/logger"
)

type stubComposite struct {
	mu         sync.Mutex
	indexCalls int
	moverCalls int
	indices    func() ([]models.MarketIndex, error)
	movers     func(models.MoverCategory) ([]models.MoverEntry, error)
}

func (s *stubComposite) Indices(context.Context) ([]models.MarketIndex, models.DataSource, error) {
	s.mu.Lock()
	s.indexCalls++
	s.mu.Unlock()
	ix, err := s.indices()
	return ix, models.SourceFresh, err
}

func (s *stubComposite) Movers(_ context.Context, cat models.MoverCategory) ([]models.MoverEntry, models.DataSource, error) {
	s.mu.Lock()
	s.moverCalls++
	s.mu.Unlock()
	m, err := s.movers(cat)
	return m, models.SourceFresh, err
}

type stubHeatmap struct {
	sectors    func() ([]models.SectorSummary, error)
	fromMovers func([]models.MoverEntry) []models.SectorSummary
}

func (s *stubHeatmap) Sectors(context.Context, bool) ([]models.SectorSummary, error) {
	if s.sectors == nil {
		return []models.SectorSummary{}, nil
	}
	return s.sectors()
}

func (s *stubHeatmap) FromMovers(movers []models.MoverEntry) []models.SectorSummary {
	if s.fromMovers == nil {
		return []models.SectorSummary{}
	}
	return s.fromMovers(movers)
}

type memoryWarmStore struct {
	mu   sync.Mutex
	snap *models.UnifiedSnapshot
}

func (m *memoryWarmStore) Save(_ context.Context, snap *models.UnifiedSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	return nil
}

func (m *memoryWarmStore) Load(context.Context) (*models.UnifiedSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap == nil {
		return nil, errors.New("empty")
	}
	return m.snap, nil
}

func healthyComposite() *stubComposite {
	return &stubComposite{
		indices: func() ([]models.MarketIndex, error) {
			return []models.MarketIndex{{Symbol: "^GSPC", Name: "S&P 500", Price: 5000, ChangePercent: 0.5}}, nil
		},
		movers: func(cat models.MoverCategory) ([]models.MoverEntry, error) {
			return []models.MoverEntry{{
				Quote:    models.Quote{Symbol: "AAPL", ChangePercent: 2},
				Category: cat,
			}}, nil
		},
	}
}

func newTestComposer(t *testing.T, fetch compositeFetcher, heatmap heatmapSource, warm warmStore, opts ...ComposerOption) *Composer {
	t.Helper()
	c, err := NewComposer(testConfig(), fetch, heatmap, warm, nopMetrics{}, logger.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewComposer: %v", err)
	}
	return c
}

func TestComposerFullRefresh(t *testing.T) {
	fetch := healthyComposite()
	c := newTestComposer(t, fetch, &stubHeatmap{}, nil)

	snap := c.Full(context.Background(), false)
	if snap.Degraded {
		t.Fatalf("unexpected degradation: %s", snap.Error)
	}
	if snap.Source != models.SourceFresh {
		t.Errorf("source = %q, want %q", snap.Source, models.SourceFresh)
	}
	if len(snap.Indices) != 1 {
		t.Errorf("indices = %d, want 1", len(snap.Indices))
	}
	for _, cat := range models.MoverCategories {
		if len(snap.Movers[cat]) != 1 {
			t.Errorf("movers[%s] = %d, want 1", cat, len(snap.Movers[cat]))
		}
	}
}

func TestComposerFullServedFromCache(t *testing.T) {
	fetch := healthyComposite()
	c := newTestComposer(t, fetch, &stubHeatmap{}, nil)

	c.Full(context.Background(), false)
	snap := c.Full(context.Background(), false)

	if snap.Source != models.SourceCache {
		t.Errorf("source = %q, want %q", snap.Source, models.SourceCache)
	}
	fetch.mu.Lock()
	defer fetch.mu.Unlock()
	if fetch.indexCalls != 1 {
		t.Errorf("index calls = %d, want 1 within fresh window", fetch.indexCalls)
	}
}

func TestComposerPartialFailureDegrades(t *testing.T) {
	fetch := healthyComposite()
	fetch.indices = func() ([]models.MarketIndex, error) {
		return nil, errors.New("upstream 503")
	}
	c := newTestComposer(t, fetch, &stubHeatmap{}, nil)

	snap := c.Full(context.Background(), false)
	if !snap.Degraded {
		t.Fatal("expected degraded snapshot when indices fail")
	}
	if snap.Error == "" {
		t.Error("degraded snapshot must carry an error string")
	}
	if snap.Indices == nil {
		t.Error("indices must degrade to empty, not nil")
	}
	for _, cat := range models.MoverCategories {
		if len(snap.Movers[cat]) != 1 {
			t.Errorf("movers[%s] lost to an unrelated failure", cat)
		}
	}
}

func TestComposerTotalFailureServesLastComposite(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	fetch := healthyComposite()
	c := newTestComposer(t, fetch, &stubHeatmap{}, nil, WithComposerClock(clock))

	first := c.Full(context.Background(), false)
	if first.Degraded {
		t.Fatalf("prime refresh degraded: %s", first.Error)
	}

	// Age past the staleness ceiling so the store cannot help, then
	// break every upstream.
	now = now.Add(2 * time.Minute)
	fetch.indices = func() ([]models.MarketIndex, error) { return nil, errors.New("down") }
	fetch.movers = func(models.MoverCategory) ([]models.MoverEntry, error) { return nil, errors.New("down") }

	snap := c.Full(context.Background(), false)
	if !snap.Degraded {
		t.Fatal("expected degraded snapshot on total failure")
	}
	if snap.Source != models.SourceStaleCache {
		t.Errorf("source = %q, want %q", snap.Source, models.SourceStaleCache)
	}
	if len(snap.Indices) != 1 {
		t.Errorf("expected the last composite's indices, got %d", len(snap.Indices))
	}
	if snap.Error == "" {
		t.Error("degraded payload must carry the failure")
	}
}

func TestComposerColdStartTotalFailure(t *testing.T) {
	fetch := &stubComposite{
		indices: func() ([]models.MarketIndex, error) { return nil, errors.New("down") },
		movers:  func(models.MoverCategory) ([]models.MoverEntry, error) { return nil, errors.New("down") },
	}
	c := newTestComposer(t, fetch, &stubHeatmap{}, nil)

	snap := c.Full(context.Background(), false)
	if !snap.Degraded || snap.Error == "" {
		t.Fatal("cold-start total failure must surface in the payload")
	}
	if snap.Indices == nil || snap.Movers == nil || snap.Sectors == nil {
		t.Error("collections must be empty, never nil")
	}
}

func TestComposerWarmStoreSurvivesRestart(t *testing.T) {
	warm := &memoryWarmStore{}

	// First process: healthy refresh mirrors to the warm store.
	c1 := newTestComposer(t, healthyComposite(), &stubHeatmap{}, warm)
	if snap := c1.Full(context.Background(), false); snap.Degraded {
		t.Fatalf("prime refresh degraded: %s", snap.Error)
	}

	// Second process: cold memory, broken upstream, warm store intact.
	fetch := &stubComposite{
		indices: func() ([]models.MarketIndex, error) { return nil, errors.New("down") },
		movers:  func(models.MoverCategory) ([]models.MoverEntry, error) { return nil, errors.New("down") },
	}
	c2 := newTestComposer(t, fetch, &stubHeatmap{}, warm)

	snap := c2.Full(context.Background(), false)
	if !snap.Degraded {
		t.Fatal("expected degraded snapshot")
	}
	if len(snap.Indices) != 1 {
		t.Errorf("expected warm-store indices, got %d", len(snap.Indices))
	}
}

func TestComposerIncrementalIndices(t *testing.T) {
	fetch := healthyComposite()
	c := newTestComposer(t, fetch, &stubHeatmap{}, nil)
	c.Full(context.Background(), false)

	fetch.indices = func() ([]models.MarketIndex, error) {
		return []models.MarketIndex{
			{Symbol: "^GSPC", Price: 5100},
			{Symbol: "^DJI", Price: 40000},
		}, nil
	}

	snap := c.Incremental(context.Background(), models.SectionIndices)
	if snap.Degraded {
		t.Fatalf("unexpected degradation: %s", snap.Error)
	}
	if len(snap.Indices) != 2 {
		t.Errorf("indices = %d, want the refetched 2", len(snap.Indices))
	}
	// Untouched sections survive the merge.
	for _, cat := range models.MoverCategories {
		if len(snap.Movers[cat]) != 1 {
			t.Errorf("movers[%s] changed during an indices refresh", cat)
		}
	}
}

func TestComposerIncrementalHeatmapFailureKeepsOldSectors(t *testing.T) {
	heat := &stubHeatmap{
		fromMovers: func([]models.MoverEntry) []models.SectorSummary {
			return []models.SectorSummary{{Name: "Technology", ChangePercent: 1}}
		},
	}
	c := newTestComposer(t, healthyComposite(), heat, nil)
	c.Full(context.Background(), false)

	heat.sectors = func() ([]models.SectorSummary, error) {
		return nil, errors.New("blocked")
	}

	snap := c.Incremental(context.Background(), models.SectionHeatmap)
	if !snap.Degraded {
		t.Fatal("expected degraded snapshot when the section refresh fails")
	}
	if len(snap.Sectors) != 1 || snap.Sectors[0].Name != "Technology" {
		t.Errorf("sectors = %v, want the prior composite's", snap.Sectors)
	}
}

func TestComposerIncrementalWithoutPriorFallsBackToFull(t *testing.T) {
	fetch := healthyComposite()
	c := newTestComposer(t, fetch, &stubHeatmap{}, nil)

	snap := c.Incremental(context.Background(), models.SectionMovers)
	if snap.Degraded {
		t.Fatalf("unexpected degradation: %s", snap.Error)
	}
	if len(snap.Indices) != 1 {
		t.Errorf("expected a full composite, indices = %d", len(snap.Indices))
	}
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []any
}

func (h *recordingHub) Publish(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, v)
}

func (h *recordingHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

func TestSchedulerPublishesOnStartAndTick(t *testing.T) {
	c := newTestComposer(t, healthyComposite(), &stubHeatmap{}, nil)
	hub := &recordingHub{}
	s := NewScheduler(c, hub, 20*time.Millisecond, logger.Nop())

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for hub.count() < 2 {
		select {
		case <-deadline:
			t.Fatalf("published %d composites, want at least 2", hub.count())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	c := newTestComposer(t, healthyComposite(), &stubHeatmap{}, nil)
	s := NewScheduler(c, &recordingHub{}, time.Hour, logger.Nop())

	s.Start(context.Background())
	s.Stop()
	s.Stop()
	s.Start(context.Background())
	s.Stop()
}
