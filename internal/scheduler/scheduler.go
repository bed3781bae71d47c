// Package scheduler refreshes cached user tokens in the background.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"docgate/internal/provider"
	"docgate/internal/upstream"
	"docgate/pkg/logging"
)

// DefaultInterval is the time between sweeps.
const DefaultInterval = 5 * time.Minute

// Refresher refreshes the record under a store key when its status calls for it.
type Refresher interface {
	Refresh(ctx context.Context, key string) (provider.Outcome, error)
}

// KeyLister lists the live user keys of the store.
type KeyLister interface {
	Keys() []string
}

// Sweeper evicts expired entries.
type Sweeper interface {
	SweepExpired() (int, error)
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Checked   int
	Refreshed int
	Failed    int
	Skipped   int
	Evicted   int
	// Swept is the number of entries removed by the expiry sweep.
	Swept    int
	Duration time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithReportHook registers fn to be called after every sweep.
func WithReportHook(fn func(SweepReport)) Option {
	return func(s *Scheduler) {
		s.onReport = fn
	}
}

// Scheduler periodically refreshes tokens that are about to expire, or have expired
// but can still be refreshed.
type Scheduler struct {
	refresher Refresher
	keys      KeyLister
	sweeper   Sweeper
	interval  time.Duration
	onReport  func(SweepReport)

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// New creates a scheduler. It does nothing until Start is called.
func New(refresher Refresher, keys KeyLister, sweeper Sweeper, opts ...Option) *Scheduler {
	s := &Scheduler{
		refresher: refresher,
		keys:      keys,
		sweeper:   sweeper,
		interval:  DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs one sweep immediately and then one per interval until Stop is called
// or ctx is cancelled. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	logging.Info("Scheduler", "Starting token refresh scheduler (interval %v)", s.interval)

	go func() {
		defer close(done)

		s.RunOnce(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.RunOnce(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the scheduler and waits for an in-progress sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	<-done
	logging.Info("Scheduler", "Token refresh scheduler stopped")
}

// RunOnce performs a single sweep over every user key.
func (s *Scheduler) RunOnce(ctx context.Context) SweepReport {
	start := time.Now()
	var report SweepReport

	for _, key := range s.keys.Keys() {
		if ctx.Err() != nil {
			break
		}
		report.Checked++

		outcome, err := s.refresher.Refresh(ctx, key)
		switch outcome {
		case provider.OutcomeRefreshed:
			report.Refreshed++
		case provider.OutcomeSkipped:
			report.Skipped++
		case provider.OutcomeEvicted:
			report.Failed++
			report.Evicted++
		case provider.OutcomeFailed:
			report.Failed++
		}
		switch {
		case err == nil, errors.Is(err, provider.ErrRefreshFailed):
		case upstream.IsTransient(err):
			logging.Warn("Scheduler", "Refresh of %s failed, will retry next sweep: %v", logging.TruncateKey(key), err)
		default:
			logging.Error("Scheduler", err, "Refresh of %s failed", logging.TruncateKey(key))
		}
	}

	swept, err := s.sweeper.SweepExpired()
	if err != nil {
		logging.Error("Scheduler", err, "Expiry sweep failed")
	}
	report.Swept = swept
	report.Duration = time.Since(start)

	if report.Refreshed+report.Failed+report.Skipped+report.Swept > 0 {
		logging.Info("Scheduler", "Sweep done: checked=%d refreshed=%d failed=%d skipped=%d evicted=%d swept=%d",
			report.Checked, report.Refreshed, report.Failed, report.Skipped, report.Evicted, report.Swept)
	} else {
		logging.Debug("Scheduler", "Sweep done: checked=%d, nothing to do", report.Checked)
	}

	if s.onReport != nil {
		s.onReport(report)
	}
	return report
}
