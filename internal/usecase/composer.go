package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"MarketPulse/internal/domain/market"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/cache"
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"
)

const compositeKey = "composite"

// compositeFetcher is the slice of the orchestrator the composer needs.
type compositeFetcher interface {
	Indices(ctx context.Context) ([]models.MarketIndex, models.DataSource, error)
	Movers(ctx context.Context, category models.MoverCategory) ([]models.MoverEntry, models.DataSource, error)
}

// heatmapSource produces sector tiles, either from the configured
// constituents or classified out of a mover set.
type heatmapSource interface {
	Sectors(ctx context.Context, force bool) ([]models.SectorSummary, error)
	FromMovers(movers []models.MoverEntry) []models.SectorSummary
}

// warmStore mirrors the last good composite outside the process so a
// restart can serve something before its first refresh.
type warmStore interface {
	Save(ctx context.Context, snap *models.UnifiedSnapshot) error
	Load(ctx context.Context) (*models.UnifiedSnapshot, error)
}

// Composer assembles the dashboard composite: indices, the three mover
// categories, and sector tiles derived from the merged mover set. The
// composite sits behind a short-TTL store; on total upstream failure
// the last composite is served with a degradation flag instead of an
// error response.
type Composer struct {
	fetch   compositeFetcher
	heatmap heatmapSource
	warm    warmStore
	metrics market.Metrics
	logger  *logger.Logger

	store *cache.Store[*models.UnifiedSnapshot]
	now   func() time.Time

	loc      *time.Location
	openMin  int
	closeMin int

	mu   sync.Mutex
	last *models.UnifiedSnapshot
}

type ComposerOption func(*composerSettings)

type composerSettings struct {
	now func() time.Time
}

// WithComposerClock injects a clock for tests.
func WithComposerClock(now func() time.Time) ComposerOption {
	return func(s *composerSettings) { s.now = now }
}

func NewComposer(cfg *config.Config, fetch compositeFetcher, heatmap heatmapSource, warm warmStore, metrics market.Metrics, log *logger.Logger, opts ...ComposerOption) (*Composer, error) {
	settings := composerSettings{now: time.Now}
	for _, opt := range opts {
		opt(&settings)
	}

	loc, err := time.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		return nil, fmt.Errorf("market timezone: %w", err)
	}
	openMin, err := util.ParseClock(cfg.Market.OpenTime)
	if err != nil {
		return nil, fmt.Errorf("market open time: %w", err)
	}
	closeMin, err := util.ParseClock(cfg.Market.CloseTime)
	if err != nil {
		return nil, fmt.Errorf("market close time: %w", err)
	}

	return &Composer{
		fetch:    fetch,
		heatmap:  heatmap,
		warm:     warm,
		metrics:  metrics,
		logger:   log,
		now:      settings.now,
		loc:      loc,
		openMin:  openMin,
		closeMin: closeMin,
		store: cache.New[*models.UnifiedSnapshot](cache.Options{
			FreshFor: cfg.Cache.Composite.FreshFor,
			StaleFor: cfg.Cache.Composite.StaleFor,
			Capacity: cfg.Cache.Capacity,
			Now:      settings.now,
		}),
	}, nil
}

// Full returns the composite, refreshing it when the cached copy has
// aged out. The error return is always nil for callers that can render
// a degraded payload; failures surface inside the snapshot.
func (c *Composer) Full(ctx context.Context, force bool) *models.UnifiedSnapshot {
	source := models.SourceFresh
	if !force {
		if _, ok := c.store.Get(compositeKey); ok {
			if c.store.Stale(compositeKey) {
				source = models.SourceStaleCache
			} else {
				source = models.SourceCache
			}
		}
	}

	snap, err := c.store.GetOrRevalidate(ctx, compositeKey, c.refresh, force)
	if err == nil {
		out := *snap
		out.Source = source
		return &out
	}

	if last := c.lastKnown(ctx); last != nil {
		c.logger.Warn("composite refresh failed, serving last composite", logger.Error(err))
		c.metrics.RecordSnapshotAge(c.now().Sub(last.Timestamp).Seconds())
		out := *last
		out.Source = models.SourceStaleCache
		out.Degraded = true
		out.Error = err.Error()
		return &out
	}

	c.logger.Error("composite refresh failed with no prior composite", logger.Error(err))
	return &models.UnifiedSnapshot{
		Indices:    []models.MarketIndex{},
		Movers:     emptyMovers(),
		Sectors:    []models.SectorSummary{},
		MarketOpen: c.marketOpen(),
		Timestamp:  c.now(),
		Source:     models.SourceStaleCache,
		Degraded:   true,
		Error:      err.Error(),
	}
}

// Incremental refetches one section and merges it into the last
// composite, leaving the other sections untouched.
func (c *Composer) Incremental(ctx context.Context, section models.Section) *models.UnifiedSnapshot {
	base := c.lastKnown(ctx)
	if base == nil {
		return c.Full(ctx, false)
	}

	out := *base
	var failure string

	switch section {
	case models.SectionIndices:
		if indices, _, err := c.fetch.Indices(ctx); err == nil {
			out.Indices = indices
		} else {
			failure = fmt.Sprintf("indices: %v", err)
		}
	case models.SectionMovers:
		movers, errs := c.fetchMovers(ctx)
		if len(errs) < len(models.MoverCategories) {
			out.Movers = movers
		}
		if len(errs) > 0 {
			failure = strings.Join(errs, "; ")
		}
	case models.SectionHeatmap:
		if sectors, err := c.heatmap.Sectors(ctx, true); err == nil {
			out.Sectors = sectors
		} else {
			failure = fmt.Sprintf("heatmap: %v", err)
		}
	default:
		failure = fmt.Sprintf("unknown section %q", section)
	}

	out.Timestamp = c.now()
	out.Source = models.SourceFresh
	out.Degraded = failure != ""
	out.Error = failure

	if failure == "" {
		c.store.Set(compositeKey, &out)
		c.remember(ctx, &out)
	}
	return &out
}

// refresh rebuilds the whole composite. Indices and the three mover
// categories are fetched concurrently; one failing section degrades to
// its previous (or empty) value rather than failing the refresh. Only
// when every section fails does the refresh itself fail.
func (c *Composer) refresh(ctx context.Context) (*models.UnifiedSnapshot, error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordRefreshDuration("composite", time.Since(start).Seconds())
	}()

	var (
		wg         sync.WaitGroup
		indices    []models.MarketIndex
		indicesErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		indices, _, indicesErr = c.fetch.Indices(ctx)
	}()

	movers, moverErrs := c.fetchMoversAsync(ctx, &wg)
	wg.Wait()

	var failures []string
	if indicesErr != nil {
		failures = append(failures, fmt.Sprintf("indices: %v", indicesErr))
	}
	failures = append(failures, moverErrs()...)

	if indicesErr != nil && len(moverErrs()) == len(models.MoverCategories) {
		return nil, fmt.Errorf("composite refresh: %s", strings.Join(failures, "; "))
	}

	merged := make([]models.MoverEntry, 0, 64)
	for _, cat := range models.MoverCategories {
		merged = append(merged, movers[cat]...)
	}

	snap := &models.UnifiedSnapshot{
		Indices:    indices,
		Movers:     movers,
		Sectors:    c.heatmap.FromMovers(merged),
		MarketOpen: c.marketOpen(),
		Timestamp:  c.now(),
		Source:     models.SourceFresh,
		Degraded:   len(failures) > 0,
		Error:      strings.Join(failures, "; "),
	}
	if snap.Indices == nil {
		snap.Indices = []models.MarketIndex{}
	}

	c.remember(ctx, snap)
	return snap, nil
}

// fetchMovers runs the three screener categories concurrently and
// joins them without cancelling siblings on failure.
func (c *Composer) fetchMovers(ctx context.Context) (map[models.MoverCategory][]models.MoverEntry, []string) {
	var wg sync.WaitGroup
	movers, errs := c.fetchMoversAsync(ctx, &wg)
	wg.Wait()
	return movers, errs()
}

func (c *Composer) fetchMoversAsync(ctx context.Context, wg *sync.WaitGroup) (map[models.MoverCategory][]models.MoverEntry, func() []string) {
	var mu sync.Mutex
	movers := emptyMovers()
	var failed []string

	for _, cat := range models.MoverCategories {
		wg.Add(1)
		go func(cat models.MoverCategory) {
			defer wg.Done()
			entries, _, err := c.fetch.Movers(ctx, cat)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, fmt.Sprintf("movers/%s: %v", cat, err))
				return
			}
			movers[cat] = entries
		}(cat)
	}

	return movers, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return failed
	}
}

// lastKnown prefers the in-memory composite and falls back to the warm
// store, so a freshly restarted process can still degrade gracefully.
func (c *Composer) lastKnown(ctx context.Context) *models.UnifiedSnapshot {
	c.mu.Lock()
	last := c.last
	c.mu.Unlock()
	if last != nil {
		return last
	}

	if c.warm == nil {
		return nil
	}
	snap, err := c.warm.Load(ctx)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	if c.last == nil {
		c.last = snap
	}
	c.mu.Unlock()
	return snap
}

func (c *Composer) remember(ctx context.Context, snap *models.UnifiedSnapshot) {
	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	if c.warm == nil {
		return
	}
	if err := c.warm.Save(context.WithoutCancel(ctx), snap); err != nil {
		c.logger.Warn("snapshot mirror failed", logger.Error(err))
	}
}

func (c *Composer) marketOpen() bool {
	return util.SessionOpen(c.now(), c.loc, c.openMin, c.closeMin)
}

func emptyMovers() map[models.MoverCategory][]models.MoverEntry {
	m := make(map[models.MoverCategory][]models.MoverEntry, len(models.MoverCategories))
	for _, cat := range models.MoverCategories {
		m[cat] = []models.MoverEntry{}
	}
	return m
}
