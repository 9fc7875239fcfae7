package models

import "time"

// Quote is a single instrument's last-known trade state. Immutable
// once returned; a newer fetch supersedes it rather than mutating it.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume,omitempty"`
	MarketCap     float64   `json:"marketCap,omitempty"`
	Sector        string    `json:"sector,omitempty"`
	FetchedAt     time.Time `json:"fetchedAt"`
}

// MarketIndex is a benchmark index snapshot.
type MarketIndex struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// MoverCategory identifies a screener list.
type MoverCategory string

const (
	MoverGainers MoverCategory = "gainers"
	MoverLosers  MoverCategory = "losers"
	MoverActives MoverCategory = "actives"
)

// MoverCategories lists every screener category in display order.
var MoverCategories = []MoverCategory{MoverGainers, MoverLosers, MoverActives}

// MoverEntry is a quote tagged with the screener category it came from.
type MoverEntry struct {
	Quote
	Category MoverCategory `json:"category"`
}

// ChartPoint is one historical close. Date is day-granularity.
type ChartPoint struct {
	Date  string  `json:"date"`
	Price float64 `json:"price"`
}

// SectorStock is one displayed constituent of a sector tile.
type SectorStock struct {
	Symbol        string  `json:"symbol"`
	ChangePercent float64 `json:"changePercent"`
}

// SectorSummary is an aggregate over a fixed symbol group. Recomputed
// on every aggregation pass, never persisted.
type SectorSummary struct {
	Name          string        `json:"name"`
	ChangePercent float64       `json:"changePercent"`
	MarketCap     float64       `json:"marketCap"`
	Stocks        []SectorStock `json:"stocks"`
}

// SearchResult is one symbol-search hit.
type SearchResult struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange,omitempty"`
	Type     string `json:"type,omitempty"`
}

// DataSource labels where a response payload came from.
type DataSource string

const (
	SourceFresh      DataSource = "fresh"
	SourceCache      DataSource = "cache"
	SourceStaleCache DataSource = "stale-cache"
)

// UnifiedSnapshot is the composite served to the dashboard.
type UnifiedSnapshot struct {
	Indices    []MarketIndex                  `json:"indices"`
	Movers     map[MoverCategory][]MoverEntry `json:"movers"`
	Sectors    []SectorSummary                `json:"sectors"`
	MarketOpen bool                           `json:"marketOpen"`
	Timestamp  time.Time                      `json:"timestamp"`
	Source     DataSource                     `json:"source"`
	Degraded   bool                           `json:"degraded,omitempty"`
	Error      string                         `json:"error,omitempty"`
}

// Section names one independently refreshable part of the snapshot.
type Section string

const (
	SectionHeatmap Section = "heatmap"
	SectionIndices Section = "indices"
	SectionMovers  Section = "movers"
)
