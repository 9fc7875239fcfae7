package di

import (
	"fmt"

	"MarketPulse/internal/domain/market"
	"MarketPulse/internal/handler/api"
	"MarketPulse/internal/service/ratelimit"
	"MarketPulse/internal/service/snapshot"
	"MarketPulse/internal/service/stooq"
	"MarketPulse/internal/service/stream"
	"MarketPulse/internal/service/yahoo"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
	"MarketPulse/pkg/metrics"
	"MarketPulse/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates the Prometheus metrics recorder.
func ProvideMetrics() market.Metrics {
	return metrics.New()
}

// ProvideLimiter creates the shared sliding-window rate limiter.
func ProvideLimiter() *ratelimit.Limiter {
	return ratelimit.New()
}

// ProvideDescriptors builds one provider client per enabled config
// entry. Unknown provider names are a startup error, not a silent skip.
func ProvideDescriptors(cfg *config.Config) ([]market.Descriptor, error) {
	out := make([]market.Descriptor, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}

		var p market.Provider
		switch pc.Name {
		case "yahoo":
			var opts []yahoo.Option
			if pc.BaseURL != "" {
				opts = append(opts, yahoo.WithBaseURL(pc.BaseURL))
			}
			p = yahoo.New(opts...)
		case "stooq":
			var opts []stooq.Option
			if pc.BaseURL != "" {
				opts = append(opts, stooq.WithBaseURL(pc.BaseURL))
			}
			p = stooq.New(opts...)
		default:
			return nil, fmt.Errorf("unknown provider %q", pc.Name)
		}

		out = append(out, market.Descriptor{
			Provider:  p,
			Priority:  pc.Priority,
			RateLimit: pc.RateLimit,
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled providers")
	}
	return out, nil
}

// ProvideOrchestrator creates the fallback orchestrator.
func ProvideOrchestrator(cfg *config.Config, descriptors []market.Descriptor, limiter *ratelimit.Limiter, m market.Metrics, logger *applogger.Logger) *usecase.Orchestrator {
	return usecase.NewOrchestrator(cfg, descriptors, limiter, m, logger)
}

// ProvideSectorEngine creates the heatmap aggregation engine.
func ProvideSectorEngine(cfg *config.Config, orch *usecase.Orchestrator, m market.Metrics, logger *applogger.Logger) *usecase.SectorEngine {
	return usecase.NewSectorEngine(cfg, orch, m, logger)
}

// ProvideSnapshotStore creates the Redis warm store, or nil when
// disabled.
func ProvideSnapshotStore(cfg *config.Config) (*snapshot.Store, error) {
	if !cfg.Snapshot.Redis.Enabled {
		return nil, nil
	}
	store, err := snapshot.New(snapshot.Config{
		Addr:     cfg.Snapshot.Redis.Addr,
		Password: cfg.Snapshot.Redis.Password,
		DB:       cfg.Snapshot.Redis.DB,
		TTL:      cfg.Snapshot.Redis.TTL,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	return store, nil
}

// ProvideComposer creates the unified composer. The warm store is
// optional; a disabled one must stay a nil interface.
func ProvideComposer(cfg *config.Config, orch *usecase.Orchestrator, sectors *usecase.SectorEngine, warm *snapshot.Store, m market.Metrics, logger *applogger.Logger) (*usecase.Composer, error) {
	if warm == nil {
		return usecase.NewComposer(cfg, orch, sectors, nil, m, logger)
	}
	return usecase.NewComposer(cfg, orch, sectors, warm, m, logger)
}

// ProvideHub creates the websocket stream hub.
func ProvideHub(logger *applogger.Logger) *stream.Hub {
	return stream.NewHub(logger)
}

// ProvideScheduler creates the interval refresh scheduler.
func ProvideScheduler(cfg *config.Config, composer *usecase.Composer, hub *stream.Hub, logger *applogger.Logger) *usecase.Scheduler {
	return usecase.NewScheduler(composer, hub, cfg.Scheduler.Interval, logger)
}

// ProvideHandler creates the market HTTP handler.
func ProvideHandler(logger *applogger.Logger, composer *usecase.Composer, orch *usecase.Orchestrator, sectors *usecase.SectorEngine, hub *stream.Hub) xhttp.Handler {
	return api.NewMarketHandler(logger, composer, orch, sectors, hub)
}

// ProvideApp creates the application server.
func ProvideApp(cfg *config.Config, logger *applogger.Logger, handler xhttp.Handler, scheduler *usecase.Scheduler, hub *stream.Hub, warm *snapshot.Store) *server.App {
	return server.New(cfg, logger, handler, scheduler, hub, warm)
}
