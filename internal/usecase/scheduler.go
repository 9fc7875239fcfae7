package usecase

import (
	"context"
	"sync"
	"time"

	"MarketPulse/pkg/logger"
)

// publisher receives each refreshed composite. Satisfied by the
// websocket stream hub.
type publisher interface {
	Publish(v any)
}

// Scheduler refreshes the composite on a fixed interval and republishes
// it to stream subscribers. It replaces ad hoc timer chains with an
// explicit start/stop lifecycle so shutdown and tests stay
// deterministic.
type Scheduler struct {
	composer *Composer
	hub      publisher
	interval time.Duration
	logger   *logger.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(composer *Composer, hub publisher, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		composer: composer,
		hub:      hub,
		interval: interval,
		logger:   log,
	}
}

// Start launches the refresh loop. The first refresh runs immediately
// so subscribers and the warm store are primed without waiting a full
// interval. Calling Start twice is a no-op until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	done := make(chan struct{})
	s.done = done

	s.logger.Info("scheduler started", logger.Duration("interval", s.interval))

	go s.run(ctx, done)
}

// Stop halts the loop and waits for an in-progress refresh to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	snap := s.composer.Full(ctx, true)
	if snap.Degraded {
		s.logger.Warn("scheduled refresh degraded", logger.String("error", snap.Error))
	}
	if s.hub != nil {
		s.hub.Publish(snap)
	}
}
