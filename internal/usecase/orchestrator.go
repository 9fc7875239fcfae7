package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"MarketPulse/internal/domain/market"
	"MarketPulse/internal/domain/models"
	"MarketPulse/internal/service/cache"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/pkg/config"
	"MarketPulse/pkg/logger"
	"MarketPulse/pkg/util"
)

// Orchestrator walks the configured data sources in priority order
// until one of them answers. A source is skipped, not failed, when its
// rate budget is exhausted or its circuit breaker is open. Results are
// cached per capability; when every source fails, an aged cache entry
// inside the widened last-resort window is served instead of an error.
type Orchestrator struct {
	sources  []market.Descriptor
	limiter  *ratelimit.Limiter
	breakers map[string]*gobreaker.CircuitBreaker[any]
	metrics  market.Metrics
	logger   *logger.Logger

	bulkTimeout     time.Duration
	realtimeTimeout time.Duration
	lastResort      time.Duration

	quotes   *cache.Store[*models.Quote]
	bulk     *cache.Store[[]models.Quote]
	indices  *cache.Store[[]models.MarketIndex]
	movers   *cache.Store[[]models.MoverEntry]
	searches *cache.Store[[]models.SearchResult]
	charts   *cache.Store[[]models.ChartPoint]
}

type OrchestratorOption func(*orchestratorSettings)

type orchestratorSettings struct {
	now func() time.Time
}

// WithOrchestratorClock injects a clock for tests.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(s *orchestratorSettings) { s.now = now }
}

func NewOrchestrator(cfg *config.Config, sources []market.Descriptor, limiter *ratelimit.Limiter, metrics market.Metrics, log *logger.Logger, opts ...OrchestratorOption) *Orchestrator {
	settings := orchestratorSettings{now: time.Now}
	for _, opt := range opts {
		opt(&settings)
	}

	ordered := make([]market.Descriptor, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})

	breakers := make(map[string]*gobreaker.CircuitBreaker[any], len(ordered))
	for _, d := range ordered {
		name := d.Provider.Name()
		breakers[name] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        name,
			MaxRequests: 2,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 &&
					float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
			},
			IsSuccessful: func(err error) bool {
				// An unsupported capability or an empty result is a
				// source answering honestly, not an outage.
				return err == nil ||
					errors.Is(err, market.ErrUnsupported) ||
					errors.Is(err, market.ErrNoData)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state change",
					logger.String("provider", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()))
			},
		})
	}

	tier := func(t config.CacheTier) cache.Options {
		return cache.Options{
			FreshFor:  t.FreshFor,
			StaleFor:  t.StaleFor,
			Retention: cfg.Cache.LastResort,
			Capacity:  cfg.Cache.Capacity,
			Now:       settings.now,
		}
	}

	return &Orchestrator{
		sources:         ordered,
		limiter:         limiter,
		breakers:        breakers,
		metrics:         metrics,
		logger:          log,
		bulkTimeout:     cfg.Timeouts.Bulk,
		realtimeTimeout: cfg.Timeouts.Realtime,
		lastResort:      cfg.Cache.LastResort,
		quotes:          cache.New[*models.Quote](tier(cfg.Cache.Quote)),
		bulk:            cache.New[[]models.Quote](tier(cfg.Cache.Quote)),
		indices:         cache.New[[]models.MarketIndex](tier(cfg.Cache.Quote)),
		movers:          cache.New[[]models.MoverEntry](tier(cfg.Cache.Quote)),
		searches:        cache.New[[]models.SearchResult](tier(cfg.Cache.Search)),
		charts:          cache.New[[]models.ChartPoint](tier(cfg.Cache.Chart)),
	}
}

// ProviderStatus is one row of the health report.
type ProviderStatus struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Breaker  string `json:"breaker"`
	Limited  bool   `json:"limited"`
}

// Status reports every configured source with its breaker state and
// current rate admission.
func (o *Orchestrator) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(o.sources))
	for _, d := range o.sources {
		name := d.Provider.Name()
		out = append(out, ProviderStatus{
			Name:     name,
			Priority: d.Priority,
			Breaker:  o.breakers[name].State().String(),
			Limited:  o.limiter.Limited(name, d.RateLimit),
		})
	}
	return out
}

func (o *Orchestrator) Quote(ctx context.Context, symbol string) (*models.Quote, models.DataSource, error) {
	key := "quote:" + strings.ToUpper(symbol)
	return fetchThrough(ctx, o, o.quotes, key, "quote", o.realtimeTimeout,
		func(ctx context.Context, p market.Provider) (*models.Quote, error) {
			return p.Quote(ctx, symbol)
		})
}

func (o *Orchestrator) BulkQuotes(ctx context.Context, symbols []string) ([]models.Quote, models.DataSource, error) {
	symbols = util.Dedup(symbols)
	key := bulkKey(symbols)
	return fetchThrough(ctx, o, o.bulk, key, "bulk_quotes", o.bulkTimeout,
		func(ctx context.Context, p market.Provider) ([]models.Quote, error) {
			return p.BulkQuotes(ctx, symbols)
		})
}

func (o *Orchestrator) Indices(ctx context.Context) ([]models.MarketIndex, models.DataSource, error) {
	return fetchThrough(ctx, o, o.indices, "indices", "indices", o.bulkTimeout,
		func(ctx context.Context, p market.Provider) ([]models.MarketIndex, error) {
			return p.Indices(ctx)
		})
}

func (o *Orchestrator) Movers(ctx context.Context, category models.MoverCategory) ([]models.MoverEntry, models.DataSource, error) {
	key := "movers:" + string(category)
	return fetchThrough(ctx, o, o.movers, key, "movers", o.bulkTimeout,
		func(ctx context.Context, p market.Provider) ([]models.MoverEntry, error) {
			return p.Movers(ctx, category)
		})
}

func (o *Orchestrator) Search(ctx context.Context, query string) ([]models.SearchResult, models.DataSource, error) {
	key := "search:" + strings.ToLower(strings.TrimSpace(query))
	return fetchThrough(ctx, o, o.searches, key, "search", o.realtimeTimeout,
		func(ctx context.Context, p market.Provider) ([]models.SearchResult, error) {
			return p.Search(ctx, query)
		})
}

func (o *Orchestrator) Chart(ctx context.Context, symbol, rng, interval string) ([]models.ChartPoint, models.DataSource, error) {
	key := "chart:" + strings.ToUpper(symbol) + ":" + rng + ":" + interval
	return fetchThrough(ctx, o, o.charts, key, "chart", o.bulkTimeout,
		func(ctx context.Context, p market.Provider) ([]models.ChartPoint, error) {
			return p.Chart(ctx, symbol, rng, interval)
		})
}

// fetchThrough is the fallback walk shared by every capability.
func fetchThrough[T any](ctx context.Context, o *Orchestrator, store *cache.Store[T], key, capability string, timeout time.Duration, call func(ctx context.Context, p market.Provider) (T, error)) (T, models.DataSource, error) {
	var zero T

	if !store.Stale(key) {
		if v, ok := store.Get(key); ok {
			o.metrics.RecordCacheTier("fresh")
			return v, models.SourceCache, nil
		}
	}

	var attempts []market.Attempt
	for _, d := range o.sources {
		name := d.Provider.Name()

		if o.limiter.Limited(name, d.RateLimit) {
			o.metrics.RecordAttempt(name, capability, "skipped_rate_limit")
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		res, err := o.breakers[name].Execute(func() (any, error) {
			return call(attemptCtx, d.Provider)
		})
		cancel()

		if err == nil {
			v := res.(T)
			o.limiter.Record(name)
			store.Set(key, v)
			o.metrics.RecordAttempt(name, capability, "success")
			o.metrics.RecordCacheTier("miss")
			return v, models.SourceFresh, nil
		}

		// The caller went away; nothing downstream should be blamed.
		if ctx.Err() != nil {
			return zero, "", ctx.Err()
		}

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			o.metrics.RecordAttempt(name, capability, "skipped_breaker")
			continue
		case errors.Is(err, market.ErrUnsupported):
			o.metrics.RecordAttempt(name, capability, "unsupported")
			continue
		case errors.Is(err, context.DeadlineExceeded):
			err = &market.TimeoutError{Provider: name}
			o.metrics.RecordAttempt(name, capability, "timeout")
		default:
			o.metrics.RecordAttempt(name, capability, "error")
		}

		o.logger.Warn("provider attempt failed",
			logger.String("provider", name),
			logger.String("capability", capability),
			logger.Error(err))
		attempts = append(attempts, market.Attempt{Provider: name, Err: err})
	}

	if v, ok := store.GetWithin(key, o.lastResort); ok {
		o.metrics.RecordCacheTier("stale")
		o.metrics.RecordStaleServed(capability)
		o.logger.Warn("serving aged cache entry",
			logger.String("capability", capability),
			logger.String("key", key))
		return v, models.SourceStaleCache, nil
	}

	return zero, "", &market.AllProvidersFailed{Capability: capability, Attempts: attempts}
}

func bulkKey(symbols []string) string {
	sorted := make([]string, len(symbols))
	for i, s := range symbols {
		sorted[i] = strings.ToUpper(s)
	}
	sort.Strings(sorted)
	return "bulk:" + strings.Join(sorted, ",")
}
