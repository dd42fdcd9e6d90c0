// Package scheduler runs named one-shot and recurring jobs. A name is unique
// while its job is pending or registered, so duplicate requests collapse into
// one job.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is the work a scheduled entry runs. The context is cancelled by Stop.
type Job func(ctx context.Context)

type entry struct {
	timer  *time.Timer
	cancel context.CancelFunc
}

// Scheduler owns the timers and goroutines of its jobs.
type Scheduler struct {
	ctx    context.Context
	stop   context.CancelFunc
	logger *zap.Logger

	mu      sync.Mutex
	jobs    map[string]*entry
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Scheduler. A nil logger discards output.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		stop:   cancel,
		logger: logger.Named("scheduler"),
		jobs:   make(map[string]*entry),
	}
}

// After runs fn once after delay. It reports false when a job with the same
// name is already pending or the scheduler is stopped.
func (s *Scheduler) After(name string, delay time.Duration, fn Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, exists := s.jobs[name]; exists {
		s.logger.Debug("duplicate job rejected", zap.String("job", name))
		return false
	}

	e := &entry{}
	s.wg.Add(1)
	e.timer = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		if s.jobs[name] != e {
			s.mu.Unlock()
			return
		}
		delete(s.jobs, name)
		s.mu.Unlock()

		if s.ctx.Err() != nil {
			return
		}
		s.run(name, fn)
	})
	s.jobs[name] = e
	s.logger.Debug("job scheduled", zap.String("job", name), zap.Duration("delay", delay))
	return true
}

// Every runs fn every interval until cancelled or stopped. The first run
// happens one interval after registration. Runs of the same job never
// overlap.
func (s *Scheduler) Every(name string, interval time.Duration, fn Job) bool {
	if interval <= 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if _, exists := s.jobs[name]; exists {
		s.logger.Debug("duplicate job rejected", zap.String("job", name))
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.jobs[name] = &entry{cancel: cancel}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(name, func(context.Context) { fn(ctx) })
			}
		}
	}()
	s.logger.Info("recurring job registered", zap.String("job", name), zap.Duration("interval", interval))
	return true
}

// Pending reports whether a job with name is waiting to fire or registered
// as recurring.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[name]
	return ok
}

// Cancel removes the job with name. Cancelling an unknown name is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[name]
	if !ok {
		return
	}
	delete(s.jobs, name)
	if e.timer != nil && e.timer.Stop() {
		s.wg.Done()
	}
	if e.cancel != nil {
		e.cancel()
	}
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.stop()
	for name, e := range s.jobs {
		if e.timer != nil && e.timer.Stop() {
			s.wg.Done()
		}
		delete(s.jobs, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) run(name string, fn Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", zap.String("job", name), zap.Any("panic", r))
		}
	}()
	start := time.Now()
	fn(s.ctx)
	s.logger.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
}
