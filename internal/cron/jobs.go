package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// EpisodeSource is the subset of the archivist needed by the retention
// sweep. Defined here to avoid a circular dependency on the archivist
// package.
type EpisodeSource interface {
	RolloverDue(ctx context.Context) ([]memory.EpisodeSummary, error)
}

// Vectorizer converts an expired episode into vector records and marks
// it archived.
type Vectorizer interface {
	Vectorize(ctx context.Context, ep memory.EpisodeSummary) error
}

// RetentionSweepJob finds episodes past the retention window that have
// no vector record yet and vectorizes them. Vectorization is deferred to
// this sweep so the embedding backend's availability never blocks a
// working-set rollover.
type RetentionSweepJob struct {
	Source       EpisodeSource
	Vectorizer   Vectorizer
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	ScheduleExpr string // empty = default "0 * * * *"
}

// Compile-time interface check.
var _ Job = (*RetentionSweepJob)(nil)

// Name implements Job.
func (j *RetentionSweepJob) Name() string { return "retention_sweep" }

// Schedule implements Job.
func (j *RetentionSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "0 * * * *"
}

// Run vectorizes every episode due for rollover. A failure on one
// episode does not stop the sweep; the episode stays unarchived and is
// retried on the next tick.
func (j *RetentionSweepJob) Run(ctx context.Context) error {
	j.Metrics.SweepRun()

	due, err := j.Source.RolloverDue(ctx)
	if err != nil {
		return fmt.Errorf("cron: retention sweep: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	var failed int
	for _, ep := range due {
		if ctx.Err() != nil {
			return fmt.Errorf("cron: retention sweep cancelled: %w", ctx.Err())
		}
		if err := j.Vectorizer.Vectorize(ctx, ep); err != nil {
			failed++
			j.Logger.Warn("cron: episode vectorization failed, will retry next sweep",
				"episode", ep.ID,
				"error", err,
			)
		}
	}

	j.Logger.Info("cron: retention sweep done",
		"due", len(due),
		"failed", failed,
	)
	if failed == len(due) {
		return errors.New("cron: retention sweep vectorized nothing")
	}
	return nil
}

// PendingFlusher retries archive blocks held after a failed rollover.
type PendingFlusher interface {
	FlushPending(ctx context.Context) error
	PendingBlocks() int
}

// PendingFlushJob retries turn blocks whose archival failed at excision
// time. Held blocks are the no-loss backstop: turns leave the working
// set only through a committed episode, so this job drains the holding
// area as soon as the episode store recovers.
type PendingFlushJob struct {
	Sets         PendingFlusher
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*PendingFlushJob)(nil)

// Name implements Job.
func (j *PendingFlushJob) Name() string { return "pending_flush" }

// Schedule implements Job.
func (j *PendingFlushJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run flushes held blocks. A quiet no-op when nothing is pending.
func (j *PendingFlushJob) Run(ctx context.Context) error {
	if j.Sets.PendingBlocks() == 0 {
		return nil
	}
	if err := j.Sets.FlushPending(ctx); err != nil {
		return fmt.Errorf("cron: pending flush: %w", err)
	}
	j.Logger.Info("cron: flushed held archive blocks")
	return nil
}
