package market

import (
	"context"

	"MarketPulse/internal/domain/models"
)

// Provider is one upstream data source behind the uniform capability
// interface. A provider that cannot serve a capability returns
// ErrUnsupported and the orchestrator moves on to the next one.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
	BulkQuotes(ctx context.Context, symbols []string) ([]models.Quote, error)
	Indices(ctx context.Context) ([]models.MarketIndex, error)
	Movers(ctx context.Context, category models.MoverCategory) ([]models.MoverEntry, error)
	Search(ctx context.Context, query string) ([]models.SearchResult, error)
	Chart(ctx context.Context, symbol, rng, interval string) ([]models.ChartPoint, error)
}

// Descriptor is the static configuration of one data source. Fixed at
// startup; never mutated.
type Descriptor struct {
	Provider  Provider
	Priority  int // lower = tried first
	RateLimit int // calls per minute; 0 disables the provider
}

// Metrics records orchestration outcomes.
type Metrics interface {
	RecordAttempt(provider, capability, outcome string)
	RecordCacheTier(tier string)
	RecordStaleServed(capability string)
	RecordRefreshDuration(kind string, seconds float64)
	RecordSnapshotAge(seconds float64)
}
