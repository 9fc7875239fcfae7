package stooq

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"MarketPulse/internal/domain/market"
)

const dailyCSV = `Date,Open,High,Low,Close,Volume
2025-03-03,148.0,151.0,147.5,150.0,1000000
2025-03-04,150.0,153.0,149.0,152.0,1100000
2025-03-05,152.0,155.5,151.0,155.0,1200000
`

func TestQuoteDerivedFromHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("s"); got != "aapl.us" {
			t.Fatalf("unexpected symbol code %q", got)
		}
		fmt.Fprint(w, dailyCSV)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	q, err := c.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Price != 155.0 {
		t.Fatalf("price = %v, want 155", q.Price)
	}
	if math.Abs(q.Change-3.0) > 1e-9 {
		t.Fatalf("change = %v, want 3", q.Change)
	}
	wantPct := 3.0 / 152.0 * 100
	if math.Abs(q.ChangePercent-wantPct) > 1e-9 {
		t.Fatalf("percent = %v, want %v", q.ChangePercent, wantPct)
	}
}

func TestQuoteTooLittleHistory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Date,Open,High,Low,Close,Volume\n2025-03-05,1,1,1,1,10\n")
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	_, err := c.Quote(context.Background(), "AAPL")
	if !errors.Is(err, market.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestBulkQuotesOmitsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("s") == "bad.us" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, dailyCSV)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	quotes, err := c.BulkQuotes(context.Background(), []string{"AAPL", "BAD", "MSFT"})
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("expected 2 quotes, got %d", len(quotes))
	}
}

func TestIndicesMappedSymbols(t *testing.T) {
	var codes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		codes = append(codes, r.URL.Query().Get("s"))
		fmt.Fprint(w, dailyCSV)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	indices, err := c.Indices(context.Background())
	if err != nil {
		t.Fatalf("indices: %v", err)
	}
	if len(indices) != 3 {
		t.Fatalf("expected 3 indices, got %d", len(indices))
	}
	want := map[string]bool{"^spx": true, "^dji": true, "^ndq": true}
	for _, code := range codes {
		if !want[code] {
			t.Fatalf("unexpected stooq code %q", code)
		}
	}
}

func TestUnsupportedCapabilities(t *testing.T) {
	c := New()
	if _, err := c.Movers(context.Background(), "gainers"); !errors.Is(err, market.ErrUnsupported) {
		t.Fatalf("movers: expected ErrUnsupported, got %v", err)
	}
	if _, err := c.Search(context.Background(), "apple"); !errors.Is(err, market.ErrUnsupported) {
		t.Fatalf("search: expected ErrUnsupported, got %v", err)
	}
}

func TestChartParsesDaily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, dailyCSV)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))
	points, err := c.Chart(context.Background(), "AAPL", "1mo", "1d")
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}
	if points[0].Date != "2025-03-03" || points[2].Price != 155.0 {
		t.Fatalf("unexpected points %+v", points)
	}
}
