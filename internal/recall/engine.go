package recall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/metrics"
)

// Snapshotter provides read-only access to a session's working set.
// Implemented by the workingset manager.
type Snapshotter interface {
	Snapshot(sessionID string) []memory.Turn
}

// Engine answers "what context is relevant right now" queries. It has
// read-only access to the working set, episode store, and vector index;
// it never mutates any of them, so cancellation can never leave partial
// writes behind.
type Engine struct {
	sessions  Snapshotter
	episodes  memory.EpisodeStore
	index     memory.VectorIndex // nil disables the vector tiers
	embedder  memory.Embedder    // nil disables the vector tiers
	estimator memory.TokenEstimator
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// New creates a recall engine. index and embedder may be nil, which
// permanently degrades retrieval to the working-set and recent tiers.
func New(sessions Snapshotter, episodes memory.EpisodeStore, index memory.VectorIndex, embedder memory.Embedder, estimator memory.TokenEstimator, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions:  sessions,
		episodes:  episodes,
		index:     index,
		embedder:  embedder,
		estimator: estimator,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		metrics:   m,
		tracer:    otel.Tracer("mnemo/recall"),
	}
}

// BuildContext assembles a context window for the session under a hard
// token budget. It never fails: backend trouble degrades the result and
// is recorded in the manifest, not returned as an error. The vector
// backend is called under a deadline and the whole assembly honors the
// caller's cancellation.
//
// The budget has one floor: the most recent turn is always kept, so when
// a single turn's estimate exceeds the whole budget the result overshoots
// it by that turn (flagged via Manifest.WorkingSetTruncated).
func (e *Engine) BuildContext(ctx context.Context, sessionID, query string, budget SizeBudget) AssembledContext {
	ctx, span := e.tracer.Start(ctx, "recall.BuildContext",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("budget.tokens", budget.MaxTokens),
			attribute.Bool("query.empty", query == ""),
		))
	defer span.End()

	e.metrics.RecallRequest()

	asm := &assembly{
		engine:   e,
		manifest: Manifest{Budget: budget.MaxTokens},
		included: make(map[string]bool),
	}

	remaining := asm.addWorkingSet(sessionID, budget.MaxTokens)

	recentBudget := int(float64(remaining) * e.cfg.RecentShare)
	semanticBudget := int(float64(remaining) * e.cfg.SemanticShare)
	affectBudget := remaining - recentBudget - semanticBudget

	// Lower tiers absorb a higher tier's leftover, never vice versa.
	semanticBudget += asm.addRecent(ctx, recentBudget)
	affectBudget += asm.addSemantic(ctx, query, semanticBudget)
	asm.addAffect(ctx, query, affectBudget)

	asm.manifest.TotalTokens = asm.total
	if asm.manifest.Degraded {
		e.metrics.RecallDegraded()
		span.SetAttributes(attribute.String("degraded", asm.manifest.DegradedReason))
	}
	e.metrics.RecallTokens(asm.total)

	return AssembledContext{Blocks: asm.blocks, Manifest: asm.manifest}
}

// assembly accumulates blocks and the manifest for one BuildContext call.
type assembly struct {
	engine   *Engine
	blocks   []Block
	manifest Manifest
	total    int
	included map[string]bool // episode IDs already contributing
}

// addWorkingSet adds the full live snapshot at critical priority. If the
// snapshot alone exceeds the entire budget, it is truncated to the most
// recent turns, never omitted. Returns the budget left for lower tiers.
func (a *assembly) addWorkingSet(sessionID string, budget int) int {
	e := a.engine
	turns := e.sessions.Snapshot(sessionID)

	report := TierReport{Tier: TierWorkingSet, Budget: budget}
	if len(turns) == 0 {
		report.Skip = "empty working set"
		a.manifest.Tiers = append(a.manifest.Tiers, report)
		return budget
	}

	wsTokens := memory.EstimateTurns(e.estimator, turns)
	if wsTokens > budget {
		// Keep the most recent suffix that fits.
		start := 0
		for start < len(turns)-1 && wsTokens > budget {
			wsTokens -= memory.EstimateTurn(e.estimator, turns[start])
			start++
		}
		turns = turns[start:]
		a.manifest.WorkingSetTruncated = true
		e.logger.Warn("working set exceeds entire budget, truncating",
			"session", sessionID,
			"kept_turns", len(turns),
		)
	}

	for _, t := range turns {
		tokens := memory.EstimateTurn(e.estimator, t)
		a.blocks = append(a.blocks, Block{
			Tier:   TierWorkingSet,
			Source: sessionID,
			Text:   fmt.Sprintf("%s: %s", t.Role, t.Text),
			Tokens: tokens,
		})
		report.Items++
		report.Tokens += tokens
		a.total += tokens
	}
	a.manifest.Tiers = append(a.manifest.Tiers, report)

	left := budget - report.Tokens
	if left < 0 {
		left = 0
	}
	return left
}

// addRecent fills the high tier with episode summaries from the recency
// window, newest first. Returns the tier's unused budget.
func (a *assembly) addRecent(ctx context.Context, budget int) int {
	e := a.engine
	report := TierReport{Tier: TierRecent, Budget: budget}
	defer func() { a.manifest.Tiers = append(a.manifest.Tiers, report) }()

	if budget <= 0 {
		report.Skip = "no budget"
		return 0
	}

	since := time.Now().UTC().Add(-e.cfg.RecentWindow)
	eps, err := e.episodes.Recent(ctx, since, e.cfg.RecentMaxItems)
	if err != nil {
		report.Skip = "episode store error"
		e.logger.Warn("recent summaries unavailable", "error", err)
		return budget
	}
	if len(eps) == 0 {
		report.Skip = "no recent episodes"
		return budget
	}

	for _, ep := range eps {
		text := formatEpisode(ep)
		tokens := e.estimator.Estimate(text)
		if report.Tokens+tokens > budget {
			break
		}
		a.blocks = append(a.blocks, Block{
			Tier:   TierRecent,
			Source: ep.ID,
			Text:   text,
			Tokens: tokens,
		})
		a.included[ep.ID] = true
		report.Items++
		report.Tokens += tokens
		a.total += tokens
	}
	return budget - report.Tokens
}

// addSemantic fills the medium tier via similarity search. Skipped by
// design on an empty query; skipped with degradation on backend trouble.
// Returns the tier's unused budget.
func (a *assembly) addSemantic(ctx context.Context, query string, budget int) int {
	e := a.engine
	report := TierReport{Tier: TierSemantic, Budget: budget}
	defer func() { a.manifest.Tiers = append(a.manifest.Tiers, report) }()

	if budget <= 0 {
		report.Skip = "no budget"
		return 0
	}
	if query == "" {
		report.Skip = "empty query"
		return budget
	}
	if e.index == nil || e.embedder == nil {
		report.Skip = "no vector backend"
		return budget
	}

	results, err := e.search(ctx, query, memory.SearchFilter{
		MinSimilarity: e.cfg.MinSimilarity,
	}, e.cfg.SemanticTopK)
	if err != nil {
		a.degrade(&report, err)
		return budget
	}

	a.fill(ctx, &report, results, budget)
	return budget - report.Tokens
}

// addAffect fills the low tier with resonance-ranked results, included
// only if space remains after the higher tiers.
func (a *assembly) addAffect(ctx context.Context, query string, budget int) {
	e := a.engine
	report := TierReport{Tier: TierAffect, Budget: budget}
	defer func() { a.manifest.Tiers = append(a.manifest.Tiers, report) }()

	if budget <= 0 {
		report.Skip = "no budget"
		return
	}
	if query == "" {
		report.Skip = "empty query"
		return
	}
	if e.index == nil || e.embedder == nil {
		report.Skip = "no vector backend"
		return
	}
	if a.manifest.Degraded {
		// The backend already failed this call; don't hit it again.
		report.Skip = "backend degraded"
		return
	}

	results, err := e.search(ctx, query, memory.SearchFilter{
		MinResonance: e.cfg.MinResonance,
		ByResonance:  true,
	}, e.cfg.AffectTopK)
	if err != nil {
		a.degrade(&report, err)
		return
	}

	a.fill(ctx, &report, results, budget)
}

// fill adds scored records to the assembly until the tier budget is
// exhausted, resolving each record back to its episode text and skipping
// episodes that already contributed to a higher tier.
func (a *assembly) fill(ctx context.Context, report *TierReport, results []memory.ScoredRecord, budget int) {
	e := a.engine
	for _, res := range results {
		if a.included[res.Record.EpisodeID] {
			continue
		}

		text := res.Record.Fact
		if text == "" {
			ep, err := e.episodes.Get(ctx, res.Record.EpisodeID)
			if err != nil {
				e.logger.Warn("vector record references missing episode",
					"vector", res.Record.ID,
					"episode", res.Record.EpisodeID,
				)
				continue
			}
			text = formatEpisode(ep)
		}

		tokens := e.estimator.Estimate(text)
		if report.Tokens+tokens > budget {
			break
		}
		a.blocks = append(a.blocks, Block{
			Tier:   report.Tier,
			Source: res.Record.ID,
			Text:   text,
			Tokens: tokens,
		})
		a.included[res.Record.EpisodeID] = true
		report.Items++
		report.Tokens += tokens
		a.total += tokens
	}
	e.metrics.TierContribution(string(report.Tier), report.Items)
}

// degrade records a backend failure in the manifest.
func (a *assembly) degrade(report *TierReport, err error) {
	reason := "backend unreachable"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "backend timeout"
	} else if errors.Is(err, context.Canceled) {
		reason = "canceled"
	}
	report.Skip = reason
	a.manifest.Degraded = true
	a.manifest.DegradedReason = reason
	a.engine.logger.Warn("vector tier degraded", "tier", report.Tier, "error", err)
}

// search embeds the query and searches the index under the configured
// backend deadline.
func (e *Engine) search(ctx context.Context, query string, filter memory.SearchFilter, topK int) ([]memory.ScoredRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.BackendTimeout)
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "recall.search",
		trace.WithAttributes(attribute.Bool("by_resonance", filter.ByResonance)))
	defer span.End()

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", memory.ErrBackendUnreachable, err)
	}
	results, err := e.index.Search(ctx, embedding, filter, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrBackendUnreachable, err)
	}
	return results, nil
}

// formatEpisode renders a summary block for prompt inclusion.
func formatEpisode(ep memory.EpisodeSummary) string {
	return fmt.Sprintf("[%s] %s", ep.EndTime.Format("2006-01-02"), ep.Summary)
}
