package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SyncEnqueuer schedules sync runs for every published setting
type SyncEnqueuer interface {
	EnqueuePublished(ctx context.Context) (int, error)
}

// Ticker processes one batch of queued work
type Ticker interface {
	Tick(ctx context.Context) error
}

// TickFunc adapts a function to Ticker
type TickFunc func(ctx context.Context) error

func (f TickFunc) Tick(ctx context.Context) error { return f(ctx) }

// Scheduler is the periodic trigger: sync runs on one interval, queue ticks on another
type Scheduler struct {
	syncs        SyncEnqueuer
	ticker       Ticker
	syncInterval time.Duration
	tickInterval time.Duration
	log          zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(syncs SyncEnqueuer, ticker Ticker, syncInterval, tickInterval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		syncs:        syncs,
		ticker:       ticker,
		syncInterval: syncInterval,
		tickInterval: tickInterval,
		log:          log,
	}
}

// Start launches both loops. A sync pass runs right away.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.RunNow(ctx)
		s.loop(ctx, s.syncInterval, func(ctx context.Context) { s.RunNow(ctx) })
	}()
	go func() {
		defer s.wg.Done()
		s.loop(ctx, s.tickInterval, s.tick)
	}()

	s.log.Info().
		Dur("sync_interval", s.syncInterval).
		Dur("tick_interval", s.tickInterval).
		Msg("Scheduler started")
}

// Stop cancels both loops and waits for the current pass to finish
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.log.Info().Msg("Scheduler stopped")
}

// RunNow enqueues a sync run for every published setting
func (s *Scheduler) RunNow(ctx context.Context) {
	n, err := s.syncs.EnqueuePublished(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to enqueue sync runs")
		return
	}
	s.log.Debug().Int("settings", n).Msg("Enqueued sync runs")
}

func (s *Scheduler) tick(ctx context.Context) {
	if err := s.ticker.Tick(ctx); err != nil && ctx.Err() == nil {
		s.log.Error().Err(err).Msg("Queue tick failed")
	}
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}
