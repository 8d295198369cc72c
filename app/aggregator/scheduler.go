package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Batcher runs one aggregation batch.
type Batcher interface {
	Batch(ctx context.Context, refresh bool) Summary
}

// Scheduler runs a batch at startup and then at every interval. Batches run on
// a single goroutine and never overlap: a tick that arrives while a batch is
// running is dropped by the ticker.
type Scheduler struct {
	batcher  Batcher
	interval time.Duration
	timeout  time.Duration
	trigger  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewScheduler(batcher Batcher, interval time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		batcher:  batcher,
		interval: interval,
		timeout:  30 * time.Minute,
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.run("startup")

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.run("interval")
			case <-s.trigger:
				s.run("manual")
			}
		}
	}()

	slog.Info("Scheduler started", "interval", s.interval.String())
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	slog.Info("Scheduler stopped")
}

// Trigger asks for a batch as soon as the current one, if any, completes. It
// reports false when a request is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Scheduler) run(reason string) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	slog.Debug("Running scheduled batch", "reason", reason)
	s.batcher.Batch(ctx, false)
}
