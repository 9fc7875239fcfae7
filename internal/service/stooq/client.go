package stooq

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"MarketPulse/internal/domain/market"
	"MarketPulse/internal/domain/models"
	xhttp "MarketPulse/pkg/http"
)

const defaultBaseURL = "https://stooq.com"

// Stooq uses its own exchange-qualified codes for the symbols Yahoo
// serves natively.
var symbolMap = map[string]string{
	"^GSPC": "^spx",
	"^DJI":  "^dji",
	"^IXIC": "^ndq",
}

var indexNames = map[string]string{
	"^GSPC": "S&P 500",
	"^DJI":  "Dow Jones Industrial Average",
	"^IXIC": "NASDAQ Composite",
}

// Client is the low-ceiling fallback provider backed by Stooq's CSV
// endpoints. Quotes are derived from the daily close history, so the
// data lags the primary provider but survives its outages. Movers and
// search have no Stooq equivalent.
type Client struct {
	baseURL string
	http    *xhttp.Client
	now     func() time.Time
}

type Option func(*Client)

func New(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http:    xhttp.NewClient(xhttp.WithTimeout(10 * time.Second)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func (c *Client) Name() string { return "stooq" }

// mapSymbol converts a canonical symbol to Stooq's code. Plain US
// equities take a ".us" suffix.
func mapSymbol(symbol string) string {
	if mapped, ok := symbolMap[symbol]; ok {
		return mapped
	}
	return strings.ToLower(symbol) + ".us"
}

func (c *Client) fetchCSV(ctx context.Context, path string, params map[string][]string) ([][]string, error) {
	var body []byte
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + path,
		QueryParams: params,
	}, &body)
	if err != nil {
		var se *xhttp.StatusError
		if errors.As(err, &se) {
			return nil, &market.HTTPError{Provider: c.Name(), Status: se.Status}
		}
		return nil, fmt.Errorf("stooq %s: %w", path, err)
	}

	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("stooq csv: %w", err)
	}
	return records, nil
}

// history returns the last ~3 weeks of daily closes, oldest first.
func (c *Client) history(ctx context.Context, symbol string) ([]models.ChartPoint, error) {
	to := c.now()
	from := to.AddDate(0, 0, -21)
	records, err := c.fetchCSV(ctx, "/q/d/l/", map[string][]string{
		"s":  {mapSymbol(symbol)},
		"i":  {"d"},
		"d1": {from.Format("20060102")},
		"d2": {to.Format("20060102")},
	})
	if err != nil {
		return nil, err
	}
	return parseDaily(records), nil
}

// parseDaily maps "Date,Open,High,Low,Close,Volume" rows into chart
// points, skipping the header and malformed rows.
func parseDaily(records [][]string) []models.ChartPoint {
	points := make([]models.ChartPoint, 0, len(records))
	for i, row := range records {
		if i == 0 || len(row) < 5 {
			continue
		}
		closePrice, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			continue
		}
		points = append(points, models.ChartPoint{Date: row[0], Price: closePrice})
	}
	return points
}

func (c *Client) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	points, err := c.history(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(points) < 2 {
		return nil, market.ErrNoData
	}

	last := points[len(points)-1]
	prev := points[len(points)-2]
	change := last.Price - prev.Price
	var percent float64
	if prev.Price != 0 {
		percent = change / prev.Price * 100
	}

	return &models.Quote{
		Symbol:        symbol,
		Price:         last.Price,
		Change:        change,
		ChangePercent: percent,
		FetchedAt:     c.now(),
	}, nil
}

// BulkQuotes issues per-symbol history lookups; failed symbols are
// omitted rather than failing the batch.
func (c *Client) BulkQuotes(ctx context.Context, symbols []string) ([]models.Quote, error) {
	out := make([]models.Quote, 0, len(symbols))
	var lastErr error
	for _, symbol := range symbols {
		q, err := c.Quote(ctx, symbol)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, *q)
	}
	if len(out) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return out, nil
}

func (c *Client) Indices(ctx context.Context) ([]models.MarketIndex, error) {
	out := make([]models.MarketIndex, 0, len(symbolMap))
	var lastErr error
	for _, symbol := range []string{"^GSPC", "^DJI", "^IXIC"} {
		q, err := c.Quote(ctx, symbol)
		if err != nil {
			lastErr = err
			continue
		}
		out = append(out, models.MarketIndex{
			Symbol:        symbol,
			Name:          indexNames[symbol],
			Price:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
		})
	}
	if len(out) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, market.ErrNoData
	}
	return out, nil
}

func (c *Client) Movers(ctx context.Context, category models.MoverCategory) ([]models.MoverEntry, error) {
	return nil, market.ErrUnsupported
}

func (c *Client) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	return nil, market.ErrUnsupported
}

func (c *Client) Chart(ctx context.Context, symbol, rng, interval string) ([]models.ChartPoint, error) {
	points, err := c.history(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(points) < 2 {
		return []models.ChartPoint{}, nil
	}
	return points, nil
}
