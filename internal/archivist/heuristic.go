package archivist

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/mnemo-ai/mnemo/internal/memory"
)

// stopwords excluded from heuristic topic extraction.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "but": {}, "by": {}, "can": {}, "do": {}, "for": {},
	"from": {}, "had": {}, "has": {}, "have": {}, "i": {}, "if": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "me": {}, "my": {},
	"no": {}, "not": {}, "of": {}, "on": {}, "or": {}, "so": {},
	"that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "will": {}, "with": {}, "you": {}, "your": {},
}

// HeuristicSummarizer is the degraded-mode fallback when the external
// summarization callback is unavailable: topics are the top-N frequent
// non-stopword tokens, the affect summary is "unknown", and the summary
// text is a bounded extract of the first and last exchanges.
type HeuristicSummarizer struct {
	// TopN caps the number of extracted topics.
	TopN int
}

// Compile-time interface check.
var _ memory.Summarizer = (*HeuristicSummarizer)(nil)

// Summarize never fails; it is the floor the archivist can always reach.
func (h *HeuristicSummarizer) Summarize(_ context.Context, turns []memory.Turn) (memory.SummaryResult, error) {
	return memory.SummaryResult{
		Summary: extractSummary(turns),
		Topics:  topTokens(turns, h.topN()),
		Affect:  "unknown",
	}, nil
}

func (h *HeuristicSummarizer) topN() int {
	if h.TopN <= 0 {
		return 5
	}
	return h.TopN
}

// extractSummary joins the opening and closing exchanges of the block.
func extractSummary(turns []memory.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var parts []string
	parts = append(parts, string(turns[0].Role)+": "+turns[0].Text)
	if len(turns) > 1 {
		last := turns[len(turns)-1]
		parts = append(parts, string(last.Role)+": "+last.Text)
	}
	if len(turns) > 2 {
		parts = append(parts, "("+strconv.Itoa(len(turns)-2)+" turns elided)")
	}
	return strings.Join(parts, " … ")
}

// topTokens returns the n most frequent non-stopword tokens across the
// block, ties broken alphabetically for determinism.
func topTokens(turns []memory.Turn, n int) []string {
	counts := make(map[string]int)
	for i := range turns {
		for _, word := range strings.Fields(strings.ToLower(turns[i].Text)) {
			word = strings.Trim(word, ".,;:!?\"'()[]")
			if len(word) < 3 {
				continue
			}
			if _, skip := stopwords[word]; skip {
				continue
			}
			counts[word]++
		}
	}

	tokens := make([]string, 0, len(counts))
	for word := range counts {
		tokens = append(tokens, word)
	}
	sort.Slice(tokens, func(a, b int) bool {
		if counts[tokens[a]] != counts[tokens[b]] {
			return counts[tokens[a]] > counts[tokens[b]]
		}
		return tokens[a] < tokens[b]
	})

	if len(tokens) > n {
		tokens = tokens[:n]
	}
	return tokens
}
