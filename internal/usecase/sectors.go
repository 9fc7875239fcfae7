package usecase

import (
	"context"
	"math"
	"math/rand"
	"sort"
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

// sectorGroup fixes one sector's representative symbols, its proxy ETF
// for the degraded path, and a notional weight used only for relative
// tile sizing when real market caps are unavailable.
type sectorGroup struct {
	name    string
	symbols []string
	etf     string
	weight  float64
}

var sectorGroups = []sectorGroup{
	{"Technology", []string{"AAPL", "MSFT", "NVDA", "AVGO", "ORCL", "CRM", "AMD", "ADBE"}, "XLK", 30e12},
	{"Healthcare", []string{"LLY", "UNH", "JNJ", "ABBV", "MRK", "TMO", "ABT", "PFE"}, "XLV", 7e12},
	{"Financials", []string{"BRK-B", "JPM", "V", "MA", "BAC", "WFC", "GS", "MS"}, "XLF", 8e12},
	{"Consumer Discretionary", []string{"AMZN", "TSLA", "HD", "MCD", "NKE", "SBUX", "LOW", "BKNG"}, "XLY", 6e12},
	{"Communication Services", []string{"GOOGL", "META", "NFLX", "DIS", "TMUS", "VZ", "T", "CMCSA"}, "XLC", 6e12},
	{"Industrials", []string{"CAT", "GE", "RTX", "HON", "UNP", "BA", "DE", "LMT"}, "XLI", 4e12},
	{"Consumer Staples", []string{"WMT", "PG", "COST", "KO", "PEP", "PM", "MDLZ", "CL"}, "XLP", 3e12},
	{"Energy", []string{"XOM", "CVX", "COP", "SLB", "EOG", "MPC", "PSX", "VLO"}, "XLE", 2e12},
	{"Utilities", []string{"NEE", "SO", "DUK", "CEG", "SRE", "AEP", "D", "EXC"}, "XLU", 1e12},
	{"Real Estate", []string{"PLD", "AMT", "EQIX", "WELL", "SPG", "O", "PSA", "CCI"}, "XLRE", 1e12},
	{"Materials", []string{"LIN", "SHW", "APD", "FCX", "ECL", "NEM", "NUE", "DOW"}, "XLB", 1e12},
}

const (
	// Movers shown per sector tile, drawn from a random sample so the
	// tiles do not always show the same names.
	sampleSize    = 8
	displayCount  = 4
	chartBatch    = 4
	chartDeadline = 3 * time.Second

	// Tile-sizing placeholder when no constituent reports a market
	// cap. Relative sizing only, no financial meaning.
	syntheticCapPerQuote = 1e9
)

// marketFetcher is the slice of the orchestrator the sector engine
// needs. Narrow on purpose so tests can stub it.
type marketFetcher interface {
	BulkQuotes(ctx context.Context, symbols []string) ([]models.Quote, models.DataSource, error)
	Chart(ctx context.Context, symbol, rng, interval string) ([]models.ChartPoint, models.DataSource, error)
}

// SectorEngine computes the heatmap: one SectorSummary per configured
// sector, cap-weighted where real caps exist and progressively
// degraded where they do not. Callers always receive one entry per
// sector, zero-valued in the worst case.
type SectorEngine struct {
	fetch   marketFetcher
	metrics market.Metrics
	logger  *logger.Logger
	store   *cache.Store[[]models.SectorSummary]

	randMu sync.Mutex
	rand   *rand.Rand
}

type SectorOption func(*SectorEngine)

// WithSectorSeed fixes the mover-sampling seed for deterministic tests.
func WithSectorSeed(seed int64) SectorOption {
	return func(e *SectorEngine) { e.rand = rand.New(rand.NewSource(seed)) }
}

func NewSectorEngine(cfg *config.Config, fetch marketFetcher, metrics market.Metrics, log *logger.Logger, opts ...SectorOption) *SectorEngine {
	e := &SectorEngine{
		fetch:   fetch,
		metrics: metrics,
		logger:  log,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		store: cache.New[[]models.SectorSummary](cache.Options{
			FreshFor: cfg.Cache.Sector.FreshFor,
			StaleFor: cfg.Cache.Sector.StaleFor,
			Capacity: cfg.Cache.Capacity,
		}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// symbolSectors indexes every configured constituent and proxy ETF by
// symbol for the mover-classification heuristic.
var symbolSectors = func() map[string]string {
	m := make(map[string]string)
	for _, g := range sectorGroups {
		m[g.etf] = g.name
		for _, sym := range g.symbols {
			m[sym] = g.name
		}
	}
	return m
}()

// nameKeywords maps display-name fragments to sectors. Crude on
// purpose: movers outside the configured constituents only need a
// plausible tile, not authoritative classification.
var nameKeywords = []struct {
	fragment string
	sector   string
}{
	{"pharma", "Healthcare"},
	{"bio", "Healthcare"},
	{"therapeut", "Healthcare"},
	{"health", "Healthcare"},
	{"medic", "Healthcare"},
	{"bank", "Financials"},
	{"financial", "Financials"},
	{"capital", "Financials"},
	{"insur", "Financials"},
	{"oil", "Energy"},
	{"energy", "Energy"},
	{"petrol", "Energy"},
	{"gas", "Energy"},
	{"semiconductor", "Technology"},
	{"software", "Technology"},
	{"tech", "Technology"},
	{"cyber", "Technology"},
	{"cloud", "Technology"},
	{"retail", "Consumer Discretionary"},
	{"restaurant", "Consumer Discretionary"},
	{"motors", "Consumer Discretionary"},
	{"airlines", "Industrials"},
	{"aero", "Industrials"},
	{"industr", "Industrials"},
	{"food", "Consumer Staples"},
	{"beverage", "Consumer Staples"},
	{"media", "Communication Services"},
	{"communic", "Communication Services"},
	{"telecom", "Communication Services"},
	{"electric", "Utilities"},
	{"power", "Utilities"},
	{"realty", "Real Estate"},
	{"properties", "Real Estate"},
	{"mining", "Materials"},
	{"chemical", "Materials"},
	{"steel", "Materials"},
}

// ClassifySector guesses a sector for an arbitrary symbol. Known
// constituents match exactly; everything else falls back to display-
// name keywords. Empty string means unclassified.
func ClassifySector(symbol, name string) string {
	if s, ok := symbolSectors[strings.ToUpper(symbol)]; ok {
		return s
	}
	lower := strings.ToLower(name)
	for _, kw := range nameKeywords {
		if strings.Contains(lower, kw.fragment) {
			return kw.sector
		}
	}
	return ""
}

// FromMovers builds sector tiles out of a screener result set instead
// of the configured constituents. Classification is heuristic, so the
// tiles reflect whatever the movers happen to cover; sectors with no
// classified mover still get an empty entry.
func (e *SectorEngine) FromMovers(movers []models.MoverEntry) []models.SectorSummary {
	grouped := make(map[string][]models.Quote)
	seen := make(map[string]bool)
	for _, m := range movers {
		if seen[m.Symbol] {
			continue
		}
		seen[m.Symbol] = true
		sector := ClassifySector(m.Symbol, m.Name)
		if sector == "" {
			continue
		}
		grouped[sector] = append(grouped[sector], m.Quote)
	}

	out := make([]models.SectorSummary, 0, len(sectorGroups))
	for _, g := range sectorGroups {
		out = append(out, e.summarize(g.name, grouped[g.name]))
	}
	return out
}

// SectorNames lists the configured sectors in display order.
func SectorNames() []string {
	names := make([]string, len(sectorGroups))
	for i, g := range sectorGroups {
		names[i] = g.name
	}
	return names
}

// Sectors returns the heatmap, serving a stale copy while a
// recomputation runs in the background.
func (e *SectorEngine) Sectors(ctx context.Context, force bool) ([]models.SectorSummary, error) {
	return e.store.GetOrRevalidate(ctx, "sectors", e.compute, force)
}

func (e *SectorEngine) compute(ctx context.Context) ([]models.SectorSummary, error) {
	start := time.Now()
	defer func() {
		e.metrics.RecordRefreshDuration("sectors", time.Since(start).Seconds())
	}()

	all := make([]string, 0, len(sectorGroups)*8)
	for _, g := range sectorGroups {
		all = append(all, g.symbols...)
	}

	bySymbol := make(map[string]models.Quote)
	quotes, _, err := e.fetch.BulkQuotes(ctx, util.Dedup(all))
	if err != nil {
		e.logger.Warn("sector bulk quotes unavailable", logger.Error(err))
	}
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}

	if len(bySymbol) == 0 {
		return e.degraded(ctx), nil
	}

	out := make([]models.SectorSummary, 0, len(sectorGroups))
	for _, g := range sectorGroups {
		var members []models.Quote
		for _, sym := range g.symbols {
			if q, ok := bySymbol[sym]; ok {
				members = append(members, q)
			}
		}
		out = append(out, e.summarize(g.name, members))
	}
	return out, nil
}

// summarize builds one sector tile from whatever constituents came
// back. The displayed change is recomputed over exactly the movers
// shown, so the headline number always matches the tile contents.
func (e *SectorEngine) summarize(name string, members []models.Quote) models.SectorSummary {
	if len(members) == 0 {
		return models.SectorSummary{Name: name, Stocks: []models.SectorStock{}}
	}

	var totalCap float64
	for _, q := range members {
		totalCap += q.MarketCap
	}

	shown := e.topMovers(members)

	stocks := make([]models.SectorStock, 0, len(shown))
	for _, q := range shown {
		stocks = append(stocks, models.SectorStock{Symbol: q.Symbol, ChangePercent: q.ChangePercent})
	}

	capSum := totalCap
	if capSum <= 0 {
		capSum = float64(len(members)) * syntheticCapPerQuote
	}

	return models.SectorSummary{
		Name:          name,
		ChangePercent: weightedChange(shown),
		MarketCap:     capSum,
		Stocks:        stocks,
	}
}

// topMovers samples up to sampleSize constituents at random, then
// keeps the displayCount with the largest absolute change.
func (e *SectorEngine) topMovers(members []models.Quote) []models.Quote {
	sampled := make([]models.Quote, len(members))
	copy(sampled, members)

	e.randMu.Lock()
	e.rand.Shuffle(len(sampled), func(i, j int) {
		sampled[i], sampled[j] = sampled[j], sampled[i]
	})
	e.randMu.Unlock()

	if len(sampled) > sampleSize {
		sampled = sampled[:sampleSize]
	}

	sort.SliceStable(sampled, func(i, j int) bool {
		return math.Abs(sampled[i].ChangePercent) > math.Abs(sampled[j].ChangePercent)
	})

	if len(sampled) > displayCount {
		sampled = sampled[:displayCount]
	}
	return sampled
}

// weightedChange is cap-weighted when any of the quotes carries a
// market cap, equal-weight otherwise.
func weightedChange(quotes []models.Quote) float64 {
	if len(quotes) == 0 {
		return 0
	}
	var totalCap float64
	for _, q := range quotes {
		totalCap += q.MarketCap
	}
	if totalCap > 0 {
		var sum float64
		for _, q := range quotes {
			sum += q.MarketCap / totalCap * q.ChangePercent
		}
		return sum
	}
	var sum float64
	for _, q := range quotes {
		sum += q.ChangePercent
	}
	return sum / float64(len(quotes))
}

// degraded is the ladder taken when bulk quotes failed for every
// sector: ETF proxies first, per-symbol chart averages second,
// zero-valued placeholders last. One entry per sector, always.
func (e *SectorEngine) degraded(ctx context.Context) []models.SectorSummary {
	e.logger.Warn("sector quotes unavailable, falling back to ETF proxies")

	out := e.fromETFProxies(ctx)
	if out != nil {
		return out
	}

	e.logger.Warn("ETF proxies unavailable, falling back to per-symbol charts")

	out = e.fromSymbolCharts(ctx)
	if out != nil {
		return out
	}

	e.logger.Warn("all sector fallbacks exhausted, serving placeholders")

	out = make([]models.SectorSummary, 0, len(sectorGroups))
	for _, g := range sectorGroups {
		out = append(out, models.SectorSummary{Name: g.name, Stocks: []models.SectorStock{}})
	}
	return out
}

// fromETFProxies sizes each sector by its notional weight and takes
// the change from the proxy ETF's last two closes. Returns nil when
// no proxy produced a usable change.
func (e *SectorEngine) fromETFProxies(ctx context.Context) []models.SectorSummary {
	changes := make([]float64, len(sectorGroups))
	usable := make([]bool, len(sectorGroups))

	var wg sync.WaitGroup
	for i, g := range sectorGroups {
		wg.Add(1)
		go func(i int, g sectorGroup) {
			defer wg.Done()
			chg, ok := e.dayOverDay(ctx, g.etf)
			changes[i], usable[i] = chg, ok
		}(i, g)
	}
	wg.Wait()

	any := false
	for _, ok := range usable {
		if ok {
			any = true
			break
		}
	}
	if !any {
		return nil
	}

	out := make([]models.SectorSummary, 0, len(sectorGroups))
	for i, g := range sectorGroups {
		s := models.SectorSummary{Name: g.name, MarketCap: g.weight, Stocks: []models.SectorStock{}}
		if usable[i] {
			s.ChangePercent = changes[i]
			s.Stocks = []models.SectorStock{{Symbol: g.etf, ChangePercent: changes[i]}}
		}
		out = append(out, s)
	}
	return out
}

// fromSymbolCharts averages day-over-day changes of a few leading
// constituents per sector, fetched in small bounded batches. Returns
// nil when no sector produced a usable average.
func (e *SectorEngine) fromSymbolCharts(ctx context.Context) []models.SectorSummary {
	out := make([]models.SectorSummary, 0, len(sectorGroups))
	any := false

	for _, g := range sectorGroups {
		leaders := g.symbols
		if len(leaders) > chartBatch {
			leaders = leaders[:chartBatch]
		}

		changes := make([]float64, len(leaders))
		usable := make([]bool, len(leaders))

		var wg sync.WaitGroup
		for i, sym := range leaders {
			wg.Add(1)
			go func(i int, sym string) {
				defer wg.Done()
				changes[i], usable[i] = e.dayOverDay(ctx, sym)
			}(i, sym)
		}
		wg.Wait()

		s := models.SectorSummary{
			Name:      g.name,
			MarketCap: g.weight,
			Stocks:    []models.SectorStock{},
		}
		var sum float64
		var n int
		for i := range leaders {
			if !usable[i] {
				continue
			}
			sum += changes[i]
			n++
			s.Stocks = append(s.Stocks, models.SectorStock{Symbol: leaders[i], ChangePercent: changes[i]})
		}
		if n > 0 {
			s.ChangePercent = sum / float64(n)
			any = true
		}
		out = append(out, s)
	}

	if !any {
		return nil
	}
	return out
}

// dayOverDay derives a percent change from the last two closes of a
// short daily series.
func (e *SectorEngine) dayOverDay(ctx context.Context, symbol string) (float64, bool) {
	ctx, cancel := context.WithTimeout(ctx, chartDeadline)
	defer cancel()

	points, _, err := e.fetch.Chart(ctx, symbol, "5d", "1d")
	if err != nil || len(points) < 2 {
		return 0, false
	}
	prev := points[len(points)-2].Price
	last := points[len(points)-1].Price
	if prev == 0 {
		return 0, false
	}
	return (last - prev) / prev * 100, true
}
