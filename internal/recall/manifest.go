package recall

// Tier identifies a context-assembly priority tier. Assembly order is
// fixed: working set (critical), recent summaries (high), semantic
// (medium), affect (low). Recency and liveness always outrank semantic
// cleverness.
type Tier string

const (
	TierWorkingSet Tier = "working_set"
	TierRecent     Tier = "recent_summaries"
	TierSemantic   Tier = "semantic"
	TierAffect     Tier = "affect"
)

// Block is one text unit of an assembled context. The caller splices
// blocks into whatever prompt format it uses; the engine is agnostic to
// prompt formatting.
type Block struct {
	Tier   Tier   `json:"tier"`
	Source string `json:"source"` // session ID, episode ID, or vector ID
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// TierReport records one tier's contribution for observability.
type TierReport struct {
	Tier   Tier   `json:"tier"`
	Items  int    `json:"items"`
	Tokens int    `json:"tokens"`
	Budget int    `json:"budget"`
	Skip   string `json:"skip,omitempty"` // why the tier contributed nothing
}

// Manifest is the assembly report returned with every context.
type Manifest struct {
	Tiers       []TierReport `json:"tiers"`
	TotalTokens int          `json:"total_tokens"`
	Budget      int          `json:"budget"`

	// WorkingSetTruncated is set when the working set alone exceeded the
	// whole budget and was cut to the most recent turns. Documented
	// lossy behavior, not a silent bug. Truncation never drops the final
	// turn, so a single oversized turn can push TotalTokens past Budget.
	WorkingSetTruncated bool `json:"working_set_truncated,omitempty"`

	// Degraded is set when the vector tiers were skipped for a reason
	// other than an empty query (backend unreachable or timed out).
	Degraded       bool   `json:"degraded,omitempty"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// AssembledContext is the output of BuildContext.
type AssembledContext struct {
	Blocks   []Block  `json:"blocks"`
	Manifest Manifest `json:"manifest"`
}

// TextBlocks returns the block texts in assembly order.
func (c AssembledContext) TextBlocks() []string {
	texts := make([]string, len(c.Blocks))
	for i := range c.Blocks {
		texts[i] = c.Blocks[i].Text
	}
	return texts
}
