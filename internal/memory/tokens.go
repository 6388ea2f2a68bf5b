package memory

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates the token count of a string. The working set
// ceiling, the summary length cap, and the recall budget are all measured
// through this interface.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator estimates tokens using a characters-per-token ratio.
// A ratio of ~4 works well for English text.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator creates a CharEstimator with the given ratio.
// If charsPerToken is <= 0, defaults to 4.0.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate returns the estimated token count for the given text.
func (e *CharEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := float64(len(text)) / e.CharsPerToken
	// Always round up to avoid underestimation.
	return int(tokens) + 1
}

// TiktokenEstimator counts tokens with a real BPE encoding. More accurate
// than CharEstimator at the cost of a dictionary load on construction.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding (e.g. "cl100k_base").
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("memory: load encoding %q: %w", encoding, err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

// Estimate returns the exact BPE token count for the given text.
func (e *TiktokenEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

// turnOverhead is the per-turn formatting cost (role marker, separators).
const turnOverhead = 4

// EstimateTurn returns the estimated token cost of a single turn,
// including formatting overhead.
func EstimateTurn(estimator TokenEstimator, t Turn) int {
	total := turnOverhead + estimator.Estimate(t.Text)
	if t.AffectTag != "" {
		total += estimator.Estimate(t.AffectTag)
	}
	return total
}

// EstimateTurns returns the total estimated token cost of a run of turns.
func EstimateTurns(estimator TokenEstimator, turns []Turn) int {
	total := 0
	for i := range turns {
		total += EstimateTurn(estimator, turns[i])
	}
	return total
}

// TruncateToTokens deterministically trims text at word boundaries until
// its estimate fits within maxTokens. Used to enforce the summary length
// cap when a summarization callback overshoots it.
func TruncateToTokens(estimator TokenEstimator, text string, maxTokens int) string {
	if maxTokens <= 0 || estimator.Estimate(text) <= maxTokens {
		return text
	}

	words := strings.Fields(text)
	for len(words) > 0 {
		words = words[:len(words)-1]
		candidate := strings.Join(words, " ")
		if estimator.Estimate(candidate) <= maxTokens {
			return candidate
		}
	}
	return ""
}
