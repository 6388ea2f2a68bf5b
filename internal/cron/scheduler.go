package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// entry pairs a registered job with the mutex that keeps its runs from
// overlapping.
type entry struct {
	job     Job
	running sync.Mutex
}

// Scheduler runs the maintenance jobs on their cron schedules. A tick
// that arrives while the previous run of the same job is still going is
// skipped, not queued, so a slow sweep cannot pile up behind itself.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	byName map[string]*entry
	order  []*entry
	logger *slog.Logger
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		byName: make(map[string]*entry),
		logger: logger,
	}
}

// RegisterJob adds a job. Job names must be unique; the name is the
// logging and dedup key.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.byName[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}

	e := &entry{job: j}
	s.byName[name] = e
	s.order = append(s.order, e)
	return nil
}

// Start validates every schedule expression and begins ticking. The
// context handed to job runs is canceled by Stop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser))

	for _, e := range s.order {
		e := e
		_, err := s.cron.AddFunc(e.job.Schedule(), func() {
			s.runOnce(ctx, e)
		})
		if err != nil {
			cancel()
			return fmt.Errorf("cron: invalid schedule for job %q: %w", e.job.Name(), err)
		}
	}

	s.cron.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.order))
	return nil
}

// runOnce executes one tick of a job, skipping it when the previous tick
// still holds the job's lock.
func (s *Scheduler) runOnce(ctx context.Context, e *entry) {
	if !e.running.TryLock() {
		s.logger.Warn("cron: job still running, skipping tick", "job", e.job.Name())
		return
	}
	defer e.running.Unlock()

	s.logger.Debug("cron: job started", "job", e.job.Name())
	if err := e.job.Run(ctx); err != nil {
		s.logger.Error("cron: job failed", "job", e.job.Name(), "error", err)
		return
	}
	s.logger.Debug("cron: job completed", "job", e.job.Name())
}

// Stop cancels the job context and waits for in-flight runs to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
