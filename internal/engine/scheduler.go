package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CycleScheduler runs the engine's evolution cycle on a fixed interval.
//
// It provides lifecycle management (Start/Stop) with graceful shutdown.
// All public methods are thread-safe; the running state is protected by
// a mutex to prevent races during Start/Stop.
type CycleScheduler struct {
	// interval is the time between evolution cycles
	interval time.Duration

	// runTimeout bounds a single cycle run
	runTimeout time.Duration

	// engine runs the actual cycle
	engine *Engine

	// mu protects running and stopCh from concurrent access
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}

	logger *zap.Logger
}

// SchedulerOption configures a CycleScheduler.
type SchedulerOption func(*CycleScheduler)

// WithInterval sets the time between evolution cycles.
// If not set, defaults to 5 minutes.
func WithInterval(interval time.Duration) SchedulerOption {
	return func(s *CycleScheduler) {
		s.interval = interval
	}
}

// WithRunTimeout bounds a single cycle run.
// If not set, defaults to 2 minutes.
func WithRunTimeout(timeout time.Duration) SchedulerOption {
	return func(s *CycleScheduler) {
		s.runTimeout = timeout
	}
}

// NewCycleScheduler creates a scheduler for the engine's evolution
// cycle. It does not start automatically; call Start().
func NewCycleScheduler(engine *Engine, logger *zap.Logger, opts ...SchedulerOption) (*CycleScheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &CycleScheduler{
		interval:   5 * time.Minute,
		runTimeout: 2 * time.Minute,
		engine:     engine,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start begins the background cycle loop. Calling Start on an already
// running scheduler returns an error without starting a second
// goroutine.
func (s *CycleScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	// Fresh stop channel for this run.
	s.stopCh = make(chan struct{})
	s.running = true

	s.logger.Info("evolution scheduler started",
		zap.Duration("interval", s.interval),
	)

	go s.run()
	return nil
}

// Stop gracefully stops the scheduler. Stopping an already stopped
// scheduler is a no-op.
func (s *CycleScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Debug("scheduler stop called but not running")
		return nil
	}

	s.logger.Info("stopping evolution scheduler")
	s.running = false
	close(s.stopCh)
	return nil
}

// run is the scheduler loop. Each cycle is independent; a cycle that
// panics is logged and the loop continues.
func (s *CycleScheduler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler goroutine panicked, recovering",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.logger.Debug("scheduler goroutine started")
	defer s.logger.Debug("scheduler goroutine stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeRunCycle()
		case <-s.stopCh:
			s.logger.Debug("scheduler received stop signal")
			return
		}
	}
}

// safeRunCycle wraps one cycle with panic recovery so a single bad run
// cannot crash the scheduler.
func (s *CycleScheduler) safeRunCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("evolution cycle panicked, continuing scheduler",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	s.engine.RunEvolutionCycle(ctx)
}
