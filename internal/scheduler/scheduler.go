// Package scheduler runs the helpdesk's timed work on a single cron
// instance: the delayed closure of suppression tickets and the
// periodic sweeps (idle-session eviction).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler wraps a cron runner with one-shot and recurring jobs.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	count  int
	logger *slog.Logger
}

// New creates a scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Start begins the cron runner. Blocks until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("scheduler started")

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// After runs fn once, d from now, then removes the job. The entry ID
// is handed to the closure through a channel because cron assigns it
// only after registration.
func (s *Scheduler) After(d time.Duration, fn func()) error {
	if d < time.Second {
		d = time.Second
	}

	idCh := make(chan cron.EntryID, 1)
	var once sync.Once
	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", d), func() {
		once.Do(func() {
			fn()
			s.cron.Remove(<-idCh)
			s.mu.Lock()
			s.count--
			s.mu.Unlock()
		})
	})
	if err != nil {
		return fmt.Errorf("scheduler: one-shot: %w", err)
	}
	idCh <- id

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.logger.Info("one-shot scheduled", "in", d)
	return nil
}

// Every registers a recurring job. The schedule is a standard cron
// expression (5 fields) or a predefined one like @every 1m.
func (s *Scheduler) Every(schedule string, fn func()) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(schedule, fn)
	if err != nil {
		return 0, fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	s.logger.Info("job registered", "schedule", schedule)
	return id, nil
}

// Remove drops a recurring job.
func (s *Scheduler) Remove(id cron.EntryID) {
	s.cron.Remove(id)
	s.mu.Lock()
	s.count--
	s.mu.Unlock()
}

// JobCount returns the number of live jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
