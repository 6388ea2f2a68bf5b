// Package cron schedules the subsystem's periodic maintenance: the
// retention sweep that vectorizes aged episodes and the retry loop for
// archive blocks held after a failed commit.
package cron

import "context"

// Job is one periodic maintenance task.
type Job interface {
	// Name identifies the job in logs and must be unique per scheduler.
	Name() string

	// Schedule returns a 5-field cron expression (e.g., "*/5 * * * *").
	Schedule() string

	// Run executes one tick. Long-running jobs should honor ctx
	// cancellation so shutdown is not held up.
	Run(ctx context.Context) error
}
