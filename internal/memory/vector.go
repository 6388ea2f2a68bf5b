package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VectorRecord is an embedding plus metadata enabling similarity search
// over archived episodes. Records are never mutated, only superseded by
// re-embedding on model upgrade.
type VectorRecord struct {
	ID        string    `json:"id"`
	EpisodeID string    `json:"episode_id"`
	Embedding []float32 `json:"embedding"`
	Topics    []string  `json:"topics,omitempty"`
	Affect    string    `json:"affect,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Fact is set for fine-grained durable-fact records; empty for the
	// 1:1 episode record.
	Fact string `json:"fact,omitempty"`

	// Resonance is a scalar affective-salience weight in [0,1] used for
	// affect-weighted ranking.
	Resonance float64 `json:"resonance"`
}

// VectorID derives the deterministic record identifier for an episode or
// one of its durable facts. Deterministic IDs keep the retention sweep
// idempotent under retry.
func VectorID(episodeID, fact string) string {
	name := episodeID
	if fact != "" {
		name = episodeID + "/" + fact
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// ScoredRecord is a search result with its ranking score.
type ScoredRecord struct {
	Record VectorRecord `json:"record"`
	Score  float64      `json:"score"`
}

// SearchFilter constrains a vector index search.
type SearchFilter struct {
	// MinSimilarity discards results below this cosine similarity.
	MinSimilarity float64

	// MinResonance discards results below this resonance weight.
	MinResonance float64

	// ByResonance ranks by resonance-weighted similarity instead of raw
	// similarity, surfacing episodes with a similar emotional register
	// even if topically distinct.
	ByResonance bool
}

// VectorIndex is the pluggable similarity-search backend. Upsert with an
// existing ID replaces the record.
type VectorIndex interface {
	Upsert(ctx context.Context, rec VectorRecord) error
	Search(ctx context.Context, embedding []float32, filter SearchFilter, topK int) ([]ScoredRecord, error)
}

// Embedder converts text to a fixed-dimension embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ResonanceScorer maps an episode to an affective-salience weight in
// [0,1]. The formula is deliberately pluggable; DefaultResonance is a
// heuristic, not a contract.
type ResonanceScorer func(ep EpisodeSummary) float64

// DefaultResonance scores an episode by affect-tag presence and emphatic
// punctuation density in the summary text.
func DefaultResonance(ep EpisodeSummary) float64 {
	score := 0.0
	if ep.Affect != "" && ep.Affect != "unknown" && ep.Affect != "neutral" {
		score += 0.5
	}
	if len(ep.Summary) > 0 {
		emphatic := strings.Count(ep.Summary, "!") + strings.Count(ep.Summary, "?")
		density := float64(emphatic) / float64(len(ep.Summary))
		// 1 emphatic mark per 100 chars saturates this component.
		score += min(density*100, 1.0) * 0.3
	}
	if len(ep.Decisions) > 0 {
		score += 0.2
	}
	return min(score, 1.0)
}
