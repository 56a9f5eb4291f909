// Package scheduler runs the periodic mirror sync jobs from cron
// expressions in the service configuration.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is called when a scheduled job fires.
type JobFunc func(ctx context.Context) error

// jobTimeout bounds one scheduled run.
const jobTimeout = 5 * time.Minute

// Scheduler manages the in-process cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	mu     sync.Mutex
	names  []string
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob schedules a named job with a standard 5-field cron expression.
// Runs are serialized per job by the cron runner; a run's failure is
// logged and does not unschedule the job.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	if schedule == "" {
		return fmt.Errorf("scheduler: empty schedule for %s", name)
	}

	_, err := s.cron.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		if err := fn(runCtx); err != nil {
			log.Printf("[Scheduler] WARNING: job %s failed: %v", name, err)
			return
		}
		log.Printf("[Scheduler] Job %s completed", name)
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for %s: %w", schedule, name, err)
	}

	s.mu.Lock()
	s.names = append(s.names, name)
	s.mu.Unlock()
	return nil
}

// JobCount returns the number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Printf("[Scheduler] Started with %d jobs", len(s.names))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("[Scheduler] Stopped")
}
