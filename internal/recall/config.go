// Package recall implements the budget-constrained context assembly over
// the live working set, recent episode summaries, and the vector index.
package recall

import "time"

// Config holds the recall engine's tuning knobs. All thresholds are
// externally configurable; none are compiled constants.
type Config struct {
	// RecentWindow bounds the recent-summaries tier by episode end time.
	RecentWindow time.Duration

	// RecentMaxItems caps the number of recent summaries considered.
	RecentMaxItems int

	// SemanticTopK caps the semantic similarity tier.
	SemanticTopK int

	// MinSimilarity discards semantic results below this score; results
	// under the threshold are discarded, never padded in.
	MinSimilarity float64

	// AffectTopK caps the affect-continuity tier.
	AffectTopK int

	// MinResonance discards affect results below this resonance weight.
	MinResonance float64

	// BackendTimeout bounds each vector-backend call. A backend that
	// misses the deadline is treated as unreachable, not waited on.
	BackendTimeout time.Duration

	// RecentShare, SemanticShare, and AffectShare split the budget left
	// after the working set between the lower tiers. Lower tiers absorb
	// a higher tier's leftover, never the reverse.
	RecentShare   float64
	SemanticShare float64
	AffectShare   float64
}

func (c Config) withDefaults() Config {
	if c.RecentWindow == 0 {
		c.RecentWindow = 7 * 24 * time.Hour
	}
	if c.RecentMaxItems == 0 {
		c.RecentMaxItems = 5
	}
	if c.SemanticTopK == 0 {
		c.SemanticTopK = 3
	}
	if c.MinSimilarity == 0 {
		c.MinSimilarity = 0.7
	}
	if c.AffectTopK == 0 {
		c.AffectTopK = 2
	}
	if c.MinResonance == 0 {
		c.MinResonance = 0.6
	}
	if c.BackendTimeout == 0 {
		c.BackendTimeout = 1500 * time.Millisecond
	}
	if c.RecentShare == 0 {
		c.RecentShare = 0.5
	}
	if c.SemanticShare == 0 {
		c.SemanticShare = 0.3
	}
	if c.AffectShare == 0 {
		c.AffectShare = 0.2
	}
	return c
}

// SizeBudget is the hard ceiling on an assembled context, measured in
// estimated tokens.
type SizeBudget struct {
	MaxTokens int
}
