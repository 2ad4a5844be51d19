// Package scheduler runs sync cycles on a timer and on demand, never more than one at a time.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scottteague/indentr/internal/replication"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const defaultInterval = 10 * time.Minute

var (
	// ErrCycleInFlight is returned by Trigger while another cycle is running.
	ErrCycleInFlight = errors.New("scheduler: sync cycle already in flight")

	errMissingSyncer = errors.New("scheduler: syncer dependency required")
)

// Syncer runs one sync cycle.
type Syncer interface {
	SyncOnce(ctx context.Context) replication.Result
}

// Publisher receives the result of every finished cycle.
type Publisher interface {
	Publish(result replication.Result)
}

// Config describes a Scheduler.
type Config struct {
	Syncer    Syncer
	Interval  time.Duration
	Publisher Publisher
	Logger    *zap.Logger
}

// Scheduler serializes periodic and manual sync cycles.
type Scheduler struct {
	syncer    Syncer
	interval  time.Duration
	publisher Publisher
	logger    *zap.Logger

	guard    *semaphore.Weighted
	inFlight atomic.Bool

	mu   sync.RWMutex
	last *replication.Result
}

// New constructs a Scheduler, defaulting the interval to ten minutes.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Syncer == nil {
		return nil, errMissingSyncer
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		syncer:    cfg.Syncer,
		interval:  interval,
		publisher: cfg.Publisher,
		logger:    logger,
		guard:     semaphore.NewWeighted(1),
	}, nil
}

// Run performs an initial cycle and then one cycle per interval until ctx is done.
// Ticks that land while a manual cycle is running are dropped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("sync scheduler started", zap.Duration("interval", s.interval))
	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Trigger runs a cycle immediately unless one is already running.
func (s *Scheduler) Trigger(ctx context.Context) (replication.Result, error) {
	return s.runCycle(ctx)
}

// LastResult returns the most recent cycle result, if any cycle finished.
func (s *Scheduler) LastResult() (replication.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return replication.Result{}, false
	}
	return *s.last, true
}

// InFlight reports whether a cycle is running.
func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runCycle(ctx); errors.Is(err, ErrCycleInFlight) {
		s.logger.Debug("periodic sync skipped; cycle in flight")
	}
}

func (s *Scheduler) runCycle(ctx context.Context) (replication.Result, error) {
	if !s.guard.TryAcquire(1) {
		return replication.Result{}, ErrCycleInFlight
	}
	s.inFlight.Store(true)
	defer func() {
		s.inFlight.Store(false)
		s.guard.Release(1)
	}()

	result := s.syncer.SyncOnce(ctx)

	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.Publish(result)
	}
	return result, nil
}
