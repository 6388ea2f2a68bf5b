package cron

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memory"
)

// stubSource serves a fixed rollover batch.
type stubSource struct {
	due []memory.EpisodeSummary
	err error
}

func (s *stubSource) RolloverDue(context.Context) ([]memory.EpisodeSummary, error) {
	return s.due, s.err
}

// recordingVectorizer tracks which episodes were vectorized and can fail
// selectively.
type recordingVectorizer struct {
	seen    []string
	failIDs map[string]bool
}

func (v *recordingVectorizer) Vectorize(_ context.Context, ep memory.EpisodeSummary) error {
	v.seen = append(v.seen, ep.ID)
	if v.failIDs[ep.ID] {
		return errors.New("embedder down")
	}
	return nil
}

func dueEpisode(id string) memory.EpisodeSummary {
	return memory.EpisodeSummary{
		ID:        id,
		SessionID: "s1",
		FirstSeq:  1,
		LastSeq:   2,
		CreatedAt: time.Now().UTC().Add(-31 * 24 * time.Hour),
	}
}

func TestRetentionSweepJob_Name(t *testing.T) {
	t.Parallel()
	j := &RetentionSweepJob{Logger: slog.Default()}
	if j.Name() != "retention_sweep" {
		t.Errorf("name = %q, want %q", j.Name(), "retention_sweep")
	}
}

func TestRetentionSweepJob_Schedule(t *testing.T) {
	t.Parallel()
	j := &RetentionSweepJob{Logger: slog.Default()}
	if j.Schedule() != "0 * * * *" {
		t.Errorf("schedule = %q, want %q", j.Schedule(), "0 * * * *")
	}
	j.ScheduleExpr = "*/30 * * * *"
	if j.Schedule() != "*/30 * * * *" {
		t.Errorf("schedule = %q, want override", j.Schedule())
	}
}

func TestRetentionSweepJob_Run(t *testing.T) {
	t.Parallel()

	vec := &recordingVectorizer{}
	j := &RetentionSweepJob{
		Source:     &stubSource{due: []memory.EpisodeSummary{dueEpisode("ep-a"), dueEpisode("ep-b")}},
		Vectorizer: vec,
		Logger:     slog.Default(),
	}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(vec.seen) != 2 {
		t.Fatalf("vectorized %d episodes, want 2", len(vec.seen))
	}
}

func TestRetentionSweepJob_PartialFailureContinues(t *testing.T) {
	t.Parallel()

	vec := &recordingVectorizer{failIDs: map[string]bool{"ep-a": true}}
	j := &RetentionSweepJob{
		Source:     &stubSource{due: []memory.EpisodeSummary{dueEpisode("ep-a"), dueEpisode("ep-b")}},
		Vectorizer: vec,
		Logger:     slog.Default(),
	}

	// One failure must not abort the sweep or fail the run.
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(vec.seen) != 2 {
		t.Fatalf("vectorized %d episodes, want 2 attempts", len(vec.seen))
	}
}

func TestRetentionSweepJob_TotalFailureReported(t *testing.T) {
	t.Parallel()

	vec := &recordingVectorizer{failIDs: map[string]bool{"ep-a": true}}
	j := &RetentionSweepJob{
		Source:     &stubSource{due: []memory.EpisodeSummary{dueEpisode("ep-a")}},
		Vectorizer: vec,
		Logger:     slog.Default(),
	}

	if err := j.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with every vectorization failing")
	}
}

func TestRetentionSweepJob_SourceError(t *testing.T) {
	t.Parallel()

	j := &RetentionSweepJob{
		Source:     &stubSource{err: errors.New("store down")},
		Vectorizer: &recordingVectorizer{},
		Logger:     slog.Default(),
	}

	if err := j.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with a failing source")
	}
}

// stubFlusher implements PendingFlusher.
type stubFlusher struct {
	pending int
	flushed bool
	err     error
}

func (f *stubFlusher) FlushPending(context.Context) error {
	f.flushed = true
	return f.err
}
func (f *stubFlusher) PendingBlocks() int { return f.pending }

func TestPendingFlushJob_NoopWhenEmpty(t *testing.T) {
	t.Parallel()

	flusher := &stubFlusher{pending: 0}
	j := &PendingFlushJob{Sets: flusher, Logger: slog.Default()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if flusher.flushed {
		t.Error("FlushPending called with nothing pending")
	}
}

func TestPendingFlushJob_Flushes(t *testing.T) {
	t.Parallel()

	flusher := &stubFlusher{pending: 2}
	j := &PendingFlushJob{Sets: flusher, Logger: slog.Default()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !flusher.flushed {
		t.Error("FlushPending not called")
	}
}

func TestPendingFlushJob_PropagatesError(t *testing.T) {
	t.Parallel()

	flusher := &stubFlusher{pending: 1, err: errors.New("store still down")}
	j := &PendingFlushJob{Sets: flusher, Logger: slog.Default()}

	if err := j.Run(context.Background()); err == nil {
		t.Fatal("Run() succeeded with a failing flush")
	}
}
