package yahoo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"MarketPulse/internal/domain/market"
	"MarketPulse/internal/domain/models"
	xhttp "MarketPulse/pkg/http"
	"MarketPulse/pkg/util"
)

const (
	// Upstream batch endpoints reject more than 50 symbols per call.
	maxBatch = 50

	defaultBaseURL = "https://query1.finance.yahoo.com"
)

// Indices served by the Indices capability, in display order.
var indexSymbols = []struct {
	Symbol string
	Name   string
}{
	{"^GSPC", "S&P 500"},
	{"^DJI", "Dow Jones Industrial Average"},
	{"^IXIC", "NASDAQ Composite"},
	{"^RUT", "Russell 2000"},
	{"^VIX", "CBOE Volatility Index"},
}

var screenerIDs = map[models.MoverCategory]string{
	models.MoverGainers: "day_gainers",
	models.MoverLosers:  "day_losers",
	models.MoverActives: "most_actives",
}

// Client implements the Provider capability interface against the
// public, undocumented Yahoo Finance JSON endpoints. The endpoints
// omit fields unpredictably and answer 401/429/503 under load, so
// every mapping tolerates missing data.
type Client struct {
	baseURL string
	http    *xhttp.Client
	now     func() time.Time
}

type Option func(*Client)

func New(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    xhttp.NewClient(xhttp.WithTimeout(15 * time.Second)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBaseURL overrides the endpoint base, used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the transport client.
func WithHTTPClient(h *xhttp.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func (c *Client) Name() string { return "yahoo" }

// headers mimicking a browser; the endpoints reject default Go agents.
func (c *Client) headers() map[string]string {
	return map[string]string{
		"User-Agent": "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		"Accept":     "application/json",
	}
}

func (c *Client) get(ctx context.Context, path string, params map[string][]string, dest interface{}) error {
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + path,
		Headers:     c.headers(),
		QueryParams: params,
	}, dest)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) {
			return &market.HTTPError{Provider: c.Name(), Status: se.Status}
		}
		return fmt.Errorf("yahoo %s: %w", path, err)
	}
	return nil
}

// --- Quote capability ---

type quoteResponse struct {
	QuoteResponse struct {
		Result []rawQuote  `json:"result"`
		Error  interface{} `json:"error"`
	} `json:"quoteResponse"`
}

// rawQuote mirrors the upstream shape. Every field is optional on the
// wire; missing numerics decode to zero.
type rawQuote struct {
	Symbol                     string  `json:"symbol"`
	ShortName                  string  `json:"shortName"`
	LongName                   string  `json:"longName"`
	RegularMarketPrice         float64 `json:"regularMarketPrice"`
	RegularMarketChange        float64 `json:"regularMarketChange"`
	RegularMarketChangePercent float64 `json:"regularMarketChangePercent"`
	RegularMarketPreviousClose float64 `json:"regularMarketPreviousClose"`
	RegularMarketVolume        int64   `json:"regularMarketVolume"`
	PostMarketPrice            float64 `json:"postMarketPrice"`
	PostMarketChange           float64 `json:"postMarketChange"`
	PostMarketChangePercent    float64 `json:"postMarketChangePercent"`
	PreMarketPrice             float64 `json:"preMarketPrice"`
	PreMarketChange            float64 `json:"preMarketChange"`
	PreMarketChangePercent     float64 `json:"preMarketChangePercent"`
	Bid                        float64 `json:"bid"`
	Ask                        float64 `json:"ask"`
	MarketCap                  float64 `json:"marketCap"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	quotes, err := c.fetchQuotes(ctx, []string{symbol})
	if err != nil {
		return nil, err
	}
	if len(quotes) == 0 {
		return nil, market.ErrNoData
	}
	return &quotes[0], nil
}

func (c *Client) BulkQuotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	symbols = util.Dedup(symbols)
	if len(symbols) == 0 {
		return nil, nil
	}

	out := make([]models.Quote, 0, len(symbols))
	var lastErr error
	succeeded := false
	for _, chunk := range util.Chunk(symbols, maxBatch) {
		quotes, err := c.fetchQuotes(ctx, chunk)
		if err != nil {
			// Failed chunks are omitted; the rest of the batch still
			// counts.
			lastErr = err
			continue
		}
		succeeded = true
		out = append(out, quotes...)
	}
	if !succeeded {
		return nil, lastErr
	}
	return out, nil
}

func (c *Client) fetchQuotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	var resp quoteResponse
	err := c.get(ctx, "/v7/finance/quote", map[string][]string{
		"symbols": {strings.Join(symbols, ",")},
	}, &resp)
	if err != nil {
		return nil, err
	}

	fetched := c.now()
	out := make([]models.Quote, 0, len(resp.QuoteResponse.Result))
	for i := range resp.QuoteResponse.Result {
		out = append(out, normalizeQuote(&resp.QuoteResponse.Result[i], fetched))
	}
	return out, nil
}

// --- Indices capability ---

func (c *Client) Indices(ctx context.Context) ([]models.MarketIndex, error) {
	symbols := make([]string, len(indexSymbols))
	for i, ix := range indexSymbols {
		symbols[i] = ix.Symbol
	}
	quotes, err := c.fetchQuotes(ctx, symbols)
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string]models.Quote, len(quotes))
	for _, q := range quotes {
		bySymbol[q.Symbol] = q
	}
	out := make([]models.MarketIndex, 0, len(indexSymbols))
	for _, ix := range indexSymbols {
		q, ok := bySymbol[ix.Symbol]
		if !ok {
			continue
		}
		out = append(out, models.MarketIndex{
			Symbol:        ix.Symbol,
			Name:          ix.Name,
			Price:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
		})
	}
	if len(out) == 0 {
		return nil, market.ErrNoData
	}
	return out, nil
}

// --- Movers capability ---

type screenerResponse struct {
	Finance struct {
		Result []struct {
			Quotes []rawQuote `json:"quotes"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"finance"`
}

func (c *Client) Movers(ctx context.Context, category models.MoverCategory) ([]models.MoverEntry, error) {
	scrID, ok := screenerIDs[category]
	if !ok {
		return nil, fmt.Errorf("unknown mover category %q", category)
	}

	var resp screenerResponse
	err := c.get(ctx, "/v1/finance/screener/predefined/saved", map[string][]string{
		"scrIds": {scrID},
		"count":  {"25"},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Finance.Result) == 0 {
		return nil, market.ErrNoData
	}

	fetched := c.now()
	raw := resp.Finance.Result[0].Quotes
	out := make([]models.MoverEntry, 0, len(raw))
	for i := range raw {
		out = append(out, models.MoverEntry{
			Quote:    normalizeQuote(&raw[i], fetched),
			Category: category,
		})
	}
	return out, nil
}

// --- Search capability ---

type searchResponse struct {
	Quotes []struct {
		Symbol    string `json:"symbol"`
		ShortName string `json:"shortname"`
		LongName  string `json:"longname"`
		Exchange  string `json:"exchange"`
		QuoteType string `json:"quoteType"`
	} `json:"quotes"`
}

func (c *Client) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	var resp searchResponse
	err := c.get(ctx, "/v1/finance/search", map[string][]string{
		"q":           {query},
		"quotesCount": {"10"},
		"newsCount":   {"0"},
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]models.SearchResult, 0, len(resp.Quotes))
	for _, q := range resp.Quotes {
		if q.Symbol == "" {
			continue
		}
		name := q.ShortName
		if name == "" {
			name = q.LongName
		}
		out = append(out, models.SearchResult{
			Symbol:   q.Symbol,
			Name:     name,
			Exchange: q.Exchange,
			Type:     q.QuoteType,
		})
	}
	return out, nil
}

// --- Chart capability ---

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error interface{} `json:"error"`
	} `json:"chart"`
}

// Chart tries the requested (range, interval) and two progressively
// wider fallbacks, returning the first candidate with at least two
// valid points. "No data" yields an empty slice, never an error.
func (c *Client) Chart(ctx context.Context, symbol, rng, interval string) ([]models.ChartPoint, error) {
	candidates := [][2]string{
		{rng, interval},
		{"3mo", "1d"},
		{"1y", "1wk"},
	}

	var lastErr error
	for _, cand := range candidates {
		points, err := c.fetchChart(ctx, symbol, cand[0], cand[1])
		if err != nil {
			lastErr = err
			continue
		}
		if len(points) >= 2 {
			return points, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return []models.ChartPoint{}, nil
}

func (c *Client) fetchChart(ctx context.Context, symbol, rng, interval string) ([]models.ChartPoint, error) {
	var resp chartResponse
	err := c.get(ctx, "/v8/finance/chart/"+symbol, map[string][]string{
		"range":    {rng},
		"interval": {interval},
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}

	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	closes := result.Indicators.Quote[0].Close

	points := make([]models.ChartPoint, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		points = append(points, models.ChartPoint{
			Date:  util.DayKey(time.Unix(ts, 0).UTC()),
			Price: *closes[i],
		})
	}
	return points, nil
}
