package memory

import (
	"context"
	"fmt"
	"time"
)

// EpisodeSummary is a compressed record derived from a contiguous run of
// excised turns. Summaries are kept indefinitely: once the retention
// window expires they are superseded by a vector record, never deleted.
type EpisodeSummary struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	FirstSeq  uint64    `json:"first_seq"`
	LastSeq   uint64    `json:"last_seq"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Summary   string    `json:"summary"`
	Topics    []string  `json:"topics,omitempty"`
	Affect    string    `json:"affect,omitempty"`
	Decisions []string  `json:"decisions,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Archived is set once a vector record exists for this episode.
	Archived bool `json:"archived"`
}

// EpisodeID derives the deterministic identifier for an episode covering
// the given turn range. Recomputing the same range always yields the same
// ID, which is what makes Commit idempotent under retry.
func EpisodeID(sessionID string, firstSeq, lastSeq uint64) string {
	return fmt.Sprintf("ep-%s-%d-%d", sessionID, firstSeq, lastSeq)
}

// Validate checks the structural invariants of an episode summary.
func (e EpisodeSummary) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("memory: episode has no ID")
	}
	if e.SessionID == "" {
		return fmt.Errorf("memory: episode %s has no session", e.ID)
	}
	if e.LastSeq < e.FirstSeq {
		return fmt.Errorf("memory: episode %s has inverted turn range %d-%d", e.ID, e.FirstSeq, e.LastSeq)
	}
	return nil
}

// EpisodeStore is the append-only store of episode summaries, shared by
// all sessions. Implementations must be safe for concurrent use; the
// index-append operation is isolated per commit, not per store, so two
// sessions rolling over concurrently never serialize against each other
// beyond a single row write.
type EpisodeStore interface {
	// Commit persists a summary. Committing the same episode ID twice
	// must leave exactly one stored record.
	Commit(ctx context.Context, ep EpisodeSummary) error

	// Get returns the episode with the given ID, or ErrEpisodeNotFound.
	Get(ctx context.Context, id string) (EpisodeSummary, error)

	// Recent returns episodes whose end time is at or after since,
	// newest first, capped at limit.
	Recent(ctx context.Context, since time.Time, limit int) ([]EpisodeSummary, error)

	// Unarchived returns episodes created before cutoff that have no
	// vector record yet. Candidates for the retention sweep.
	Unarchived(ctx context.Context, cutoff time.Time) ([]EpisodeSummary, error)

	// MarkArchived records that a vector record now exists for the episode.
	MarkArchived(ctx context.Context, id string) error

	// BySession returns all episodes for a session ordered by first
	// sequence number.
	BySession(ctx context.Context, sessionID string) ([]EpisodeSummary, error)
}

// SummarySearcher is an optional EpisodeStore capability: keyword search
// over summary text and topics, best match first. It complements the
// vector index with exact-term retrieval that needs no embedding backend.
type SummarySearcher interface {
	SearchSummaries(ctx context.Context, query string, limit int) ([]EpisodeSummary, error)
}

// Summarizer produces a condensed summary of a run of turns. The concrete
// implementation typically calls an LLM; it must tolerate being
// unavailable, in which case the archivist degrades to a heuristic.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn) (SummaryResult, error)
}

// SummaryResult is the output of a summarization callback.
type SummaryResult struct {
	Summary   string
	Topics    []string
	Affect    string
	Decisions []string
}
