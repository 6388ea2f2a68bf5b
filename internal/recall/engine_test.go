package recall_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memory"
	"github.com/mnemo-ai/mnemo/internal/recall"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubSessions serves a fixed snapshot for every session.
type stubSessions struct {
	turns []memory.Turn
}

func (s *stubSessions) Snapshot(string) []memory.Turn { return s.turns }

// failIndex simulates an unreachable vector backend.
type failIndex struct{}

func (failIndex) Upsert(context.Context, memory.VectorRecord) error { return errors.New("down") }
func (failIndex) Search(context.Context, []float32, memory.SearchFilter, int) ([]memory.ScoredRecord, error) {
	return nil, errors.New("connection refused")
}

// hangingIndex blocks until the caller's deadline or cancellation fires.
type hangingIndex struct{}

func (hangingIndex) Upsert(context.Context, memory.VectorRecord) error { return nil }
func (hangingIndex) Search(ctx context.Context, _ []float32, _ memory.SearchFilter, _ int) ([]memory.ScoredRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// constEmbedder returns the same unit vector for every input, so every
// indexed record matches every query with similarity 1.
type constEmbedder struct{}

func (constEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type failEmbedder struct{}

func (failEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedder down")
}

func mkTurns(n int) []memory.Turn {
	turns := make([]memory.Turn, n)
	for i := range turns {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAgent
		}
		turns[i] = memory.Turn{
			Role:      role,
			Text:      fmt.Sprintf("turn %d with some filler words", i+1),
			Timestamp: time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
			Seq:       uint64(i + 1),
		}
	}
	return turns
}

func mkEpisode(id string, endedAgo time.Duration, summary string) memory.EpisodeSummary {
	end := time.Now().UTC().Add(-endedAgo)
	return memory.EpisodeSummary{
		ID:        id,
		SessionID: "s1",
		FirstSeq:  1,
		LastSeq:   4,
		StartTime: end.Add(-time.Hour),
		EndTime:   end,
		Summary:   summary,
		CreatedAt: end,
	}
}

func commitAll(t *testing.T, store memory.EpisodeStore, eps ...memory.EpisodeSummary) {
	t.Helper()
	for _, ep := range eps {
		if err := store.Commit(context.Background(), ep); err != nil {
			t.Fatalf("Commit(%s) error: %v", ep.ID, err)
		}
	}
}

func newEngine(sessions recall.Snapshotter, store memory.EpisodeStore, index memory.VectorIndex, emb memory.Embedder, cfg recall.Config) *recall.Engine {
	return recall.New(sessions, store, index, emb, memory.NewCharEstimator(4), cfg, testLogger(), nil)
}

func tierReport(t *testing.T, m recall.Manifest, tier recall.Tier) recall.TierReport {
	t.Helper()
	for _, r := range m.Tiers {
		if r.Tier == tier {
			return r
		}
	}
	t.Fatalf("manifest has no report for tier %q", tier)
	return recall.TierReport{}
}

func TestEngine_BudgetRespected(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	commitAll(t, store,
		mkEpisode("ep-a", time.Hour, "talked about the garden for a while and planned spring planting"),
		mkEpisode("ep-b", 2*time.Hour, "debugged the irrigation controller and ordered a replacement valve"),
		mkEpisode("ep-c", 3*time.Hour, "long discussion about tomato varieties and soil amendments"),
	)

	eng := newEngine(&stubSessions{turns: mkTurns(6)}, store, nil, nil, recall.Config{})
	out := eng.BuildContext(context.Background(), "s1", "garden", recall.SizeBudget{MaxTokens: 120})

	if out.Manifest.TotalTokens > 120 {
		t.Fatalf("TotalTokens = %d, exceeds budget 120", out.Manifest.TotalTokens)
	}
	sum := 0
	for _, b := range out.Blocks {
		sum += b.Tokens
	}
	if sum != out.Manifest.TotalTokens {
		t.Errorf("block tokens sum %d != manifest total %d", sum, out.Manifest.TotalTokens)
	}
}

func TestEngine_TierPrecedence(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	commitAll(t, store, mkEpisode("ep-recent", time.Hour, "recent episode summary text"))

	index := memory.NewInMemoryVectorIndex()
	old := mkEpisode("ep-old", 40*24*time.Hour, "an old but highly relevant episode!")
	commitAll(t, store, old)
	rec := memory.VectorRecord{
		ID:        memory.VectorID(old.ID, ""),
		EpisodeID: old.ID,
		Embedding: []float32{1, 0, 0},
		Resonance: 0.9,
		CreatedAt: old.CreatedAt,
	}
	if err := index.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	eng := newEngine(&stubSessions{turns: mkTurns(4)}, store, index, constEmbedder{}, recall.Config{})
	out := eng.BuildContext(context.Background(), "s1", "relevant", recall.SizeBudget{MaxTokens: 500})

	// Blocks must arrive in strict tier order.
	order := map[recall.Tier]int{
		recall.TierWorkingSet: 0,
		recall.TierRecent:     1,
		recall.TierSemantic:   2,
		recall.TierAffect:     3,
	}
	last := -1
	for i, b := range out.Blocks {
		if order[b.Tier] < last {
			t.Fatalf("block %d tier %q out of order", i, b.Tier)
		}
		last = order[b.Tier]
	}

	ws := tierReport(t, out.Manifest, recall.TierWorkingSet)
	if ws.Items != 4 {
		t.Errorf("working set contributed %d items, want 4", ws.Items)
	}
	sem := tierReport(t, out.Manifest, recall.TierSemantic)
	if sem.Items != 1 {
		t.Errorf("semantic tier contributed %d items, want 1", sem.Items)
	}
	// ep-old already contributed via the semantic tier; the affect tier
	// must not duplicate it.
	aff := tierReport(t, out.Manifest, recall.TierAffect)
	if aff.Items != 0 {
		t.Errorf("affect tier duplicated an episode, items = %d", aff.Items)
	}
}

func TestEngine_EmptyQuerySkipsVectorTiers(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	commitAll(t, store, mkEpisode("ep-a", time.Hour, "a recent summary"))

	eng := newEngine(&stubSessions{turns: mkTurns(2)}, store, memory.NewInMemoryVectorIndex(), constEmbedder{}, recall.Config{})
	out := eng.BuildContext(context.Background(), "s1", "", recall.SizeBudget{MaxTokens: 500})

	if out.Manifest.Degraded {
		t.Fatal("empty query marked the result degraded")
	}
	for _, tier := range []recall.Tier{recall.TierSemantic, recall.TierAffect} {
		r := tierReport(t, out.Manifest, tier)
		if r.Skip != "empty query" {
			t.Errorf("tier %q skip = %q, want %q", tier, r.Skip, "empty query")
		}
		if r.Items != 0 {
			t.Errorf("tier %q contributed %d items on empty query", tier, r.Items)
		}
	}
	ws := tierReport(t, out.Manifest, recall.TierWorkingSet)
	if ws.Items != 2 {
		t.Errorf("working set contributed %d items, want 2", ws.Items)
	}
}

func TestEngine_BackendFailureDegrades(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	commitAll(t, store, mkEpisode("ep-a", time.Hour, "a recent summary"))

	eng := newEngine(&stubSessions{turns: mkTurns(2)}, store, failIndex{}, constEmbedder{}, recall.Config{})
	out := eng.BuildContext(context.Background(), "s1", "anything", recall.SizeBudget{MaxTokens: 500})

	if !out.Manifest.Degraded {
		t.Fatal("backend failure did not mark the result degraded")
	}
	if out.Manifest.DegradedReason != "backend unreachable" {
		t.Errorf("DegradedReason = %q, want %q", out.Manifest.DegradedReason, "backend unreachable")
	}
	// The higher tiers still delivered.
	if n := tierReport(t, out.Manifest, recall.TierWorkingSet).Items; n != 2 {
		t.Errorf("working set contributed %d items, want 2", n)
	}
	if n := tierReport(t, out.Manifest, recall.TierRecent).Items; n != 1 {
		t.Errorf("recent tier contributed %d items, want 1", n)
	}
	// The affect tier must not hammer a backend that just failed.
	if skip := tierReport(t, out.Manifest, recall.TierAffect).Skip; skip != "backend degraded" {
		t.Errorf("affect tier skip = %q, want %q", skip, "backend degraded")
	}
}

func TestEngine_BackendTimeoutDegrades(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	eng := newEngine(&stubSessions{turns: mkTurns(2)}, store, hangingIndex{}, constEmbedder{}, recall.Config{
		BackendTimeout: 30 * time.Millisecond,
	})

	start := time.Now()
	out := eng.BuildContext(context.Background(), "s1", "anything", recall.SizeBudget{MaxTokens: 500})

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("BuildContext blocked for %v on a hung backend", elapsed)
	}
	if !out.Manifest.Degraded {
		t.Fatal("hung backend did not mark the result degraded")
	}
	if out.Manifest.DegradedReason != "backend timeout" {
		t.Errorf("DegradedReason = %q, want %q", out.Manifest.DegradedReason, "backend timeout")
	}
	if n := tierReport(t, out.Manifest, recall.TierWorkingSet).Items; n != 2 {
		t.Errorf("working set contributed %d items, want 2", n)
	}
}

func TestEngine_CallerCancellation(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	eng := newEngine(&stubSessions{turns: mkTurns(2)}, store, hangingIndex{}, constEmbedder{}, recall.Config{
		BackendTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	out := eng.BuildContext(ctx, "s1", "anything", recall.SizeBudget{MaxTokens: 500})

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("BuildContext ignored cancellation for %v", elapsed)
	}
	if !out.Manifest.Degraded {
		t.Fatal("canceled call did not mark the result degraded")
	}
	if out.Manifest.DegradedReason != "canceled" {
		t.Errorf("DegradedReason = %q, want %q", out.Manifest.DegradedReason, "canceled")
	}
}

func TestEngine_EmbedderFailureDegrades(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	eng := newEngine(&stubSessions{turns: mkTurns(2)}, store, memory.NewInMemoryVectorIndex(), failEmbedder{}, recall.Config{})
	out := eng.BuildContext(context.Background(), "s1", "anything", recall.SizeBudget{MaxTokens: 500})

	if !out.Manifest.Degraded {
		t.Fatal("embedder failure did not mark the result degraded")
	}
}

func TestEngine_WorkingSetTruncatedWhenOverBudget(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	eng := newEngine(&stubSessions{turns: mkTurns(40)}, store, nil, nil, recall.Config{})
	out := eng.BuildContext(context.Background(), "s1", "", recall.SizeBudget{MaxTokens: 60})

	if !out.Manifest.WorkingSetTruncated {
		t.Fatal("working set over budget was not marked truncated")
	}
	ws := tierReport(t, out.Manifest, recall.TierWorkingSet)
	if ws.Items == 0 {
		t.Fatal("truncation dropped the entire working set")
	}
	if ws.Items >= 40 {
		t.Fatalf("truncation kept all %d turns", ws.Items)
	}
	// Most recent turns survive, oldest are cut.
	lastBlock := out.Blocks[len(out.Blocks)-1]
	if lastBlock.Source != "s1" {
		t.Errorf("last block source = %q, want session ID", lastBlock.Source)
	}
	wantTail := "turn 40 with some filler words"
	if got := lastBlock.Text; got != "agent: "+wantTail {
		t.Errorf("last block = %q, want most recent turn", got)
	}
}

func TestEngine_SingleOversizedTurnKept(t *testing.T) {
	t.Parallel()

	// The most recent turn survives truncation even when it alone blows
	// the budget; the overshoot is flagged, not hidden.
	huge := memory.Turn{
		Role:      memory.RoleUser,
		Text:      strings.Repeat("word ", 400),
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Seq:       1,
	}
	eng := newEngine(&stubSessions{turns: []memory.Turn{huge}}, memory.NewInMemoryEpisodeStore(), nil, nil, recall.Config{})
	out := eng.BuildContext(context.Background(), "s1", "", recall.SizeBudget{MaxTokens: 20})

	if n := tierReport(t, out.Manifest, recall.TierWorkingSet).Items; n != 1 {
		t.Fatalf("working set contributed %d items, want the oversized turn kept", n)
	}
	if !out.Manifest.WorkingSetTruncated {
		t.Error("overshoot not flagged as truncation")
	}
	if out.Manifest.TotalTokens <= out.Manifest.Budget {
		t.Errorf("TotalTokens = %d within budget %d, expected the documented overshoot",
			out.Manifest.TotalTokens, out.Manifest.Budget)
	}
}

func TestEngine_LeftoverFlowsDownward(t *testing.T) {
	t.Parallel()

	// No recent episodes, so the recent tier's whole share should flow
	// down to the semantic tier.
	store := memory.NewInMemoryEpisodeStore()
	old := mkEpisode("ep-old", 40*24*time.Hour, "an old episode with a fairly long summary body to eat tokens")
	commitAll(t, store, old)

	index := memory.NewInMemoryVectorIndex()
	rec := memory.VectorRecord{
		ID:        memory.VectorID(old.ID, ""),
		EpisodeID: old.ID,
		Embedding: []float32{1, 0, 0},
		Resonance: 0.1,
		CreatedAt: old.CreatedAt,
	}
	if err := index.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	eng := newEngine(&stubSessions{}, store, index, constEmbedder{}, recall.Config{
		RecentWindow: time.Hour,
	})
	out := eng.BuildContext(context.Background(), "s1", "query", recall.SizeBudget{MaxTokens: 100})

	recent := tierReport(t, out.Manifest, recall.TierRecent)
	if recent.Items != 0 {
		t.Fatalf("recent tier contributed %d items, want 0", recent.Items)
	}
	sem := tierReport(t, out.Manifest, recall.TierSemantic)
	if sem.Budget <= recent.Budget {
		t.Errorf("semantic budget %d did not absorb recent leftover (recent budget %d)", sem.Budget, recent.Budget)
	}
	if sem.Items != 1 {
		t.Errorf("semantic tier contributed %d items, want 1", sem.Items)
	}
}

func TestEngine_FactRecordUsedVerbatim(t *testing.T) {
	t.Parallel()

	store := memory.NewInMemoryEpisodeStore()
	old := mkEpisode("ep-old", 40*24*time.Hour, "episode summary")
	commitAll(t, store, old)

	fact := "user's cat is named Miso"
	index := memory.NewInMemoryVectorIndex()
	rec := memory.VectorRecord{
		ID:        memory.VectorID(old.ID, fact),
		EpisodeID: old.ID,
		Embedding: []float32{1, 0, 0},
		Fact:      fact,
		CreatedAt: old.CreatedAt,
	}
	if err := index.Upsert(context.Background(), rec); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	eng := newEngine(&stubSessions{}, store, index, constEmbedder{}, recall.Config{})
	out := eng.BuildContext(context.Background(), "s1", "cat name", recall.SizeBudget{MaxTokens: 200})

	found := false
	for _, b := range out.Blocks {
		if b.Tier == recall.TierSemantic && b.Text == fact {
			found = true
		}
	}
	if !found {
		t.Errorf("fact record text not included verbatim, blocks: %v", out.TextBlocks())
	}
}
