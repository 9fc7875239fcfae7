package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"MarketPulse/internal/service/snapshot"
	"MarketPulse/internal/service/stream"
	"MarketPulse/internal/usecase"
	"MarketPulse/pkg/config"
	xhttp "MarketPulse/pkg/http"
	applogger "MarketPulse/pkg/logger"
)

// App encapsulates the application lifecycle: the HTTP server, the
// refresh scheduler, the stream hub, and the optional warm store.
type App struct {
	cfg       *config.Config
	logger    *applogger.Logger
	handler   xhttp.Handler
	scheduler *usecase.Scheduler
	hub       *stream.Hub
	warm      *snapshot.Store

	httpServer *xhttp.Server
}

func New(
	cfg *config.Config,
	logger *applogger.Logger,
	handler xhttp.Handler,
	scheduler *usecase.Scheduler,
	hub *stream.Hub,
	warm *snapshot.Store,
) *App {
	return &App{
		cfg:       cfg,
		logger:    logger,
		handler:   handler,
		scheduler: scheduler,
		hub:       hub,
		warm:      warm,
	}
}

// Run starts everything and blocks until an interrupt arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)

	if a.cfg.Scheduler.Enabled {
		a.scheduler.Start(ctx)
	}

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		return err
	}
	a.logger.Info("serving market data",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.Bool("scheduler", a.cfg.Scheduler.Enabled))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops components in dependency order: no new refreshes, no
// subscribers, then drain HTTP, then release the warm store.
func (a *App) shutdown(ctx context.Context) error {
	if a.cfg.Scheduler.Enabled {
		a.scheduler.Stop()
	}

	a.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
	}

	if a.warm != nil {
		if err := a.warm.Close(); err != nil {
			a.logger.Warn("snapshot store close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
