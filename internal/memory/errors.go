package memory

import "errors"

// Error taxonomy for the memory subsystem. Anything that could lose a
// conversational turn is fatal and surfaced to the caller; anything that
// only degrades retrieval quality is recovered locally and annotated in
// the recall manifest.
var (
	// ErrOutOfOrderTurn indicates a caller bug: the appended turn's
	// sequence number is not strictly greater than the last stored one.
	// Not retried automatically.
	ErrOutOfOrderTurn = errors.New("memory: out-of-order turn")

	// ErrJournalWrite indicates the write-through journal rejected an
	// append. The turn is NOT committed; the caller decides between
	// retry and accepting ephemeral loss.
	ErrJournalWrite = errors.New("memory: journal write failed")

	// ErrSummarizerUnavailable indicates the summarization callback
	// failed. Non-fatal: the archivist falls back to a heuristic summary.
	ErrSummarizerUnavailable = errors.New("memory: summarizer unavailable")

	// ErrCommitFailed indicates an episode commit exhausted its retries.
	// The excised turns are held in memory until a later retry succeeds.
	ErrCommitFailed = errors.New("memory: episode commit failed")

	// ErrBackendUnreachable indicates the vector backend did not respond.
	// Non-fatal for retrieval: semantic and affect tiers are skipped.
	ErrBackendUnreachable = errors.New("memory: vector backend unreachable")

	// ErrEpisodeNotFound indicates the requested episode does not exist.
	ErrEpisodeNotFound = errors.New("memory: episode not found")
)
