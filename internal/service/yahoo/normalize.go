package yahoo

import (
	"math"
	"time"

	"MarketPulse/internal/domain/models"
)

// epsilon separates "truly flat" from "field absent": a derived value
// is accepted only if its magnitude exceeds this.
const epsilon = 1e-9

// triple is one candidate (price, change, percent) reading.
type triple struct {
	price, change, percent float64
}

// extractor attempts one way of reading price/change/percent from the
// raw quote. The extractors run in order and the first usable reading
// wins.
type extractor func(q *rawQuote) (triple, bool)

var extractors = []extractor{
	// Primary regular-market fields.
	func(q *rawQuote) (triple, bool) {
		t := triple{q.RegularMarketPrice, q.RegularMarketChange, q.RegularMarketChangePercent}
		return t, usable(t)
	},
	// Post-market session fields.
	func(q *rawQuote) (triple, bool) {
		t := triple{q.PostMarketPrice, q.PostMarketChange, q.PostMarketChangePercent}
		return t, usable(t)
	},
	// Pre-market session fields.
	func(q *rawQuote) (triple, bool) {
		t := triple{q.PreMarketPrice, q.PreMarketChange, q.PreMarketChangePercent}
		return t, usable(t)
	},
	// Derived from (change, previousClose).
	func(q *rawQuote) (triple, bool) {
		if math.Abs(q.RegularMarketChange) <= epsilon || q.RegularMarketPreviousClose <= epsilon {
			return triple{}, false
		}
		price := q.RegularMarketPreviousClose + q.RegularMarketChange
		return triple{price, q.RegularMarketChange, q.RegularMarketChange / q.RegularMarketPreviousClose * 100}, true
	},
	// Derived from (currentPrice, previousClose).
	func(q *rawQuote) (triple, bool) {
		if q.RegularMarketPrice <= epsilon || q.RegularMarketPreviousClose <= epsilon {
			return triple{}, false
		}
		change := q.RegularMarketPrice - q.RegularMarketPreviousClose
		if math.Abs(change) <= epsilon {
			return triple{}, false
		}
		return triple{q.RegularMarketPrice, change, change / q.RegularMarketPreviousClose * 100}, true
	},
	// Derived from the bid/ask midpoint vs previousClose.
	func(q *rawQuote) (triple, bool) {
		if q.Bid <= epsilon || q.Ask <= epsilon || q.RegularMarketPreviousClose <= epsilon {
			return triple{}, false
		}
		mid := (q.Bid + q.Ask) / 2
		change := mid - q.RegularMarketPreviousClose
		if math.Abs(change) <= epsilon {
			return triple{}, false
		}
		return triple{mid, change, change / q.RegularMarketPreviousClose * 100}, true
	},
}

func usable(t triple) bool {
	return t.price > epsilon && math.Abs(t.change) > epsilon
}

// normalizeQuote maps an upstream quote into the canonical model. If
// every extractor fails, the raw regular-market values are kept as-is
// rather than failing the quote.
func normalizeQuote(q *rawQuote, fetched time.Time) models.Quote {
	t := triple{q.RegularMarketPrice, q.RegularMarketChange, q.RegularMarketChangePercent}
	for _, ex := range extractors {
		if cand, ok := ex(q); ok {
			t = cand
			break
		}
	}

	name := q.ShortName
	if name == "" {
		name = q.LongName
	}

	return models.Quote{
		Symbol:        q.Symbol,
		Name:          name,
		Price:         t.price,
		Change:        t.change,
		ChangePercent: t.percent,
		Volume:        q.RegularMarketVolume,
		MarketCap:     q.MarketCap,
		FetchedAt:     fetched,
	}
}
