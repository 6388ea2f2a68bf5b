// Package archivist compresses excised turn blocks into episode
// summaries, commits them to the episode store, and drives the
// retention-window handoff into the vector index.
package archivist

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// Config holds the archivist's tuning knobs.
type Config struct {
	// SummaryTokenCap bounds the summary text length. A summarization
	// callback that overshoots it is truncated, never failed.
	SummaryTokenCap int

	// Retention is how long an episode stays summary-only before the
	// sweep creates its vector record.
	Retention time.Duration

	// HeuristicTopics is the number of frequent-token topics extracted
	// in degraded mode.
	HeuristicTopics int

	// CommitMaxElapsed bounds the backoff retry loop of a single commit.
	CommitMaxElapsed time.Duration
}

func (c Config) withDefaults() Config {
	if c.SummaryTokenCap == 0 {
		c.SummaryTokenCap = 300
	}
	if c.Retention == 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.HeuristicTopics == 0 {
		c.HeuristicTopics = 5
	}
	if c.CommitMaxElapsed == 0 {
		c.CommitMaxElapsed = 15 * time.Second
	}
	return c
}

// Archivist owns the turns → episode summary transformation and is the
// only writer to the episode store.
type Archivist struct {
	store      memory.EpisodeStore
	summarizer memory.Summarizer // nil means heuristic-only
	estimator  memory.TokenEstimator
	heuristic  *HeuristicSummarizer
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates an archivist. A nil summarizer puts it permanently in
// degraded (heuristic) mode, which is valid for offline operation.
func New(store memory.EpisodeStore, summarizer memory.Summarizer, estimator memory.TokenEstimator, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Archivist {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Archivist{
		store:      store,
		summarizer: summarizer,
		estimator:  estimator,
		heuristic:  &HeuristicSummarizer{TopN: cfg.HeuristicTopics},
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
	}
}

// Summarize compresses a contiguous run of excised turns into an episode
// summary. A summarization-callback failure is non-fatal: the heuristic
// fallback runs instead, so the excised turns are never lost just because
// the smart summarizer is down.
func (a *Archivist) Summarize(ctx context.Context, sessionID string, turns []memory.Turn) (memory.EpisodeSummary, error) {
	if len(turns) == 0 {
		return memory.EpisodeSummary{}, fmt.Errorf("archivist: empty turn block (session %s)", sessionID)
	}

	result, err := a.summarize(ctx, turns)
	if err != nil {
		a.logger.Warn("summarizer unavailable, using heuristic fallback",
			"session", sessionID,
			"error", err,
		)
		result, _ = a.heuristic.Summarize(ctx, turns)
	}

	first, last := turns[0], turns[len(turns)-1]
	ep := memory.EpisodeSummary{
		ID:        memory.EpisodeID(sessionID, first.Seq, last.Seq),
		SessionID: sessionID,
		FirstSeq:  first.Seq,
		LastSeq:   last.Seq,
		StartTime: first.Timestamp,
		EndTime:   last.Timestamp,
		Summary:   memory.TruncateToTokens(a.estimator, result.Summary, a.cfg.SummaryTokenCap),
		Topics:    result.Topics,
		Affect:    result.Affect,
		Decisions: result.Decisions,
		CreatedAt: time.Now().UTC(),
	}
	return ep, nil
}

func (a *Archivist) summarize(ctx context.Context, turns []memory.Turn) (memory.SummaryResult, error) {
	if a.summarizer == nil {
		return memory.SummaryResult{}, memory.ErrSummarizerUnavailable
	}
	result, err := a.summarizer.Summarize(ctx, turns)
	if err != nil {
		return memory.SummaryResult{}, fmt.Errorf("%w: %w", memory.ErrSummarizerUnavailable, err)
	}
	return result, nil
}

// Commit persists an episode summary, retrying transient store failures
// with exponential backoff. Idempotent: the deterministic episode ID
// dedups a retried commit of the same turn range.
func (a *Archivist) Commit(ctx context.Context, ep memory.EpisodeSummary) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = a.cfg.CommitMaxElapsed

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		if attempts > 1 {
			a.metrics.RolloverRetry()
		}
		return a.store.Commit(ctx, ep)
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("%w: episode %s after %d attempts: %w",
			memory.ErrCommitFailed, ep.ID, attempts, err)
	}

	a.logger.Info("episode committed",
		"episode", ep.ID,
		"session", ep.SessionID,
		"turns", ep.LastSeq-ep.FirstSeq+1,
	)
	return nil
}

// Archive is the size-trigger entry point: summarize an excised block and
// commit the result. Implements the workingset.Archiver contract.
func (a *Archivist) Archive(ctx context.Context, sessionID string, turns []memory.Turn) (memory.EpisodeSummary, error) {
	ep, err := a.Summarize(ctx, sessionID, turns)
	if err != nil {
		return memory.EpisodeSummary{}, err
	}
	if err := a.Commit(ctx, ep); err != nil {
		return memory.EpisodeSummary{}, err
	}
	return ep, nil
}

// RolloverDue returns episodes that have aged past the retention window
// without a vector record. The periodic sweep hands these to Vectorize.
func (a *Archivist) RolloverDue(ctx context.Context) ([]memory.EpisodeSummary, error) {
	cutoff := time.Now().UTC().Add(-a.cfg.Retention)
	due, err := a.store.Unarchived(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("archivist: scan retention window: %w", err)
	}
	return due, nil
}

// Vectorizer writes episode embeddings into the vector index at
// retention-window expiry.
type Vectorizer struct {
	index    memory.VectorIndex
	embedder memory.Embedder
	store    memory.EpisodeStore
	scorer   memory.ResonanceScorer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewVectorizer creates a vectorizer. scorer may be nil, in which case
// memory.DefaultResonance is used.
func NewVectorizer(index memory.VectorIndex, embedder memory.Embedder, store memory.EpisodeStore, scorer memory.ResonanceScorer, logger *slog.Logger, m *metrics.Metrics) *Vectorizer {
	if scorer == nil {
		scorer = memory.DefaultResonance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vectorizer{
		index:    index,
		embedder: embedder,
		store:    store,
		scorer:   scorer,
		logger:   logger,
		metrics:  m,
	}
}

// Vectorize creates the episode's vector record, one extra record per
// recorded decision (durable facts), and marks the episode archived. The
// summary itself stays readable: archival supersedes, it never deletes.
// Deterministic vector IDs make a retried vectorization idempotent.
func (v *Vectorizer) Vectorize(ctx context.Context, ep memory.EpisodeSummary) error {
	embedding, err := v.embedder.Embed(ctx, ep.Summary)
	if err != nil {
		return fmt.Errorf("%w: embed episode %s: %w", memory.ErrBackendUnreachable, ep.ID, err)
	}

	resonance := v.scorer(ep)
	now := time.Now().UTC()

	rec := memory.VectorRecord{
		ID:        memory.VectorID(ep.ID, ""),
		EpisodeID: ep.ID,
		Embedding: embedding,
		Topics:    ep.Topics,
		Affect:    ep.Affect,
		Resonance: resonance,
		CreatedAt: now,
	}
	if err := v.index.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("%w: index episode %s: %w", memory.ErrBackendUnreachable, ep.ID, err)
	}
	v.metrics.VectorRecord()

	for _, decision := range ep.Decisions {
		factEmbedding, err := v.embedder.Embed(ctx, decision)
		if err != nil {
			return fmt.Errorf("%w: embed fact of episode %s: %w", memory.ErrBackendUnreachable, ep.ID, err)
		}
		factRec := memory.VectorRecord{
			ID:        memory.VectorID(ep.ID, decision),
			EpisodeID: ep.ID,
			Fact:      decision,
			Embedding: factEmbedding,
			Topics:    ep.Topics,
			Affect:    ep.Affect,
			Resonance: resonance,
			CreatedAt: now,
		}
		if err := v.index.Upsert(ctx, factRec); err != nil {
			return fmt.Errorf("%w: index fact of episode %s: %w", memory.ErrBackendUnreachable, ep.ID, err)
		}
		v.metrics.VectorRecord()
	}

	if err := v.store.MarkArchived(ctx, ep.ID); err != nil {
		return fmt.Errorf("archivist: mark episode %s archived: %w", ep.ID, err)
	}

	v.logger.Info("episode vectorized",
		"episode", ep.ID,
		"facts", len(ep.Decisions),
		"resonance", resonance,
	)
	return nil
}
