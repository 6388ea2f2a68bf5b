// Package workingset implements the live, size-bounded buffer of recent
// turns for a session, backed by a write-through journal. When the buffer
// would exceed its ceiling, the oldest contiguous block of whole exchanges
// is excised and handed back to the caller for archival; data is never
// dropped silently.
package workingset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mnemo-ai/mnemo/internal/memory"
)

// Config holds the working-set size ceiling.
type Config struct {
	// MaxTurns is the turn-count ceiling.
	MaxTurns int

	// MaxTokens is the estimated-token ceiling.
	MaxTokens int

	// ExciseTarget is the fraction of the ceiling to reduce to on
	// overflow. Excising below the ceiling (rather than to exactly 100%)
	// avoids re-excising on every subsequent append.
	ExciseTarget float64
}

func (c Config) withDefaults() Config {
	if c.MaxTurns == 0 {
		c.MaxTurns = 200
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 8192
	}
	if c.ExciseTarget <= 0 || c.ExciseTarget >= 1 {
		c.ExciseTarget = 0.75
	}
	return c
}

// Set is the working set for a single session. Mutations are serialized:
// a second concurrent appender blocks on the set's lock rather than
// failing (see DESIGN.md).
type Set struct {
	mu        sync.Mutex
	sessionID string
	startedAt time.Time
	tick      uint64
	turns     []memory.Turn
	tokens    int

	journal   memory.Journal
	estimator memory.TokenEstimator
	cfg       Config
	logger    *slog.Logger
}

// New creates an empty working set for the session.
func New(sessionID string, journal memory.Journal, estimator memory.TokenEstimator, cfg Config, logger *slog.Logger) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		sessionID: sessionID,
		startedAt: time.Now().UTC(),
		journal:   journal,
		estimator: estimator,
		cfg:       cfg.withDefaults(),
		logger:    logger.With("session", sessionID),
	}
}

// Restore creates a working set preloaded with journaled turns. The turns
// are not re-journaled. Oversized restored buffers are trimmed by the
// first subsequent Append.
func Restore(sessionID string, turns []memory.Turn, journal memory.Journal, estimator memory.TokenEstimator, cfg Config, logger *slog.Logger) *Set {
	s := New(sessionID, journal, estimator, cfg, logger)
	s.turns = append(s.turns, turns...)
	s.tokens = memory.EstimateTurns(estimator, turns)
	s.tick = uint64(len(turns))
	return s
}

// SessionID returns the session this set belongs to.
func (s *Set) SessionID() string { return s.sessionID }

// StartedAt returns the session start time.
func (s *Set) StartedAt() time.Time { return s.startedAt }

// Append validates and admits a turn. The turn is journaled before the
// buffer is mutated; a journal failure means the append is not committed.
//
// If admitting the turn pushes the buffer over its ceiling, the oldest
// contiguous block of whole exchanges is excised and returned for handoff
// to the archivist. Ceiling pressure never rejects an append.
func (s *Set) Append(ctx context.Context, t memory.Turn) ([]memory.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := t.Validate(); err != nil {
		return nil, err
	}
	if n := len(s.turns); n > 0 && t.Seq <= s.turns[n-1].Seq {
		return nil, fmt.Errorf("%w: seq %d after %d (session %s)",
			memory.ErrOutOfOrderTurn, t.Seq, s.turns[n-1].Seq, s.sessionID)
	}

	if err := s.journal.AppendTurn(ctx, s.sessionID, t); err != nil {
		return nil, fmt.Errorf("%w: %w", memory.ErrJournalWrite, err)
	}

	s.turns = append(s.turns, t)
	s.tokens += memory.EstimateTurn(s.estimator, t)
	s.tick++

	if len(s.turns) <= s.cfg.MaxTurns && s.tokens <= s.cfg.MaxTokens {
		return nil, nil
	}

	excised := s.excise()
	if len(excised) > 0 {
		s.logger.Debug("working set excised",
			"turns", len(excised),
			"first_seq", excised[0].Seq,
			"last_seq", excised[len(excised)-1].Seq,
		)
	}
	return excised, nil
}

// excise removes the oldest contiguous block of whole exchanges until the
// buffer is at or under ExciseTarget of both ceilings. The cut never
// splits a user/agent pair, and a dangling unreplied user turn is carried
// forward rather than excised. Caller holds the lock.
func (s *Set) excise() []memory.Turn {
	targetTurns := int(float64(s.cfg.MaxTurns) * s.cfg.ExciseTarget)
	targetTokens := int(float64(s.cfg.MaxTokens) * s.cfg.ExciseTarget)

	cut := 0
	remaining := s.tokens
	for cut < len(s.turns)-1 {
		if len(s.turns)-cut <= targetTurns && remaining <= targetTokens {
			break
		}
		remaining -= memory.EstimateTurn(s.estimator, s.turns[cut])
		cut++
	}

	// Pull the cut back so the excised prefix never ends mid-exchange.
	// System notes ride with the turn they follow, so the check looks
	// through them: if the last non-note turn before the cut is a user
	// turn, its reply is beyond the cut (or never arrived) and the whole
	// tail from that turn on is carried forward.
	for cut > 0 {
		last := cut - 1
		for last >= 0 && s.turns[last].Role == memory.RoleSystemNote {
			last--
		}
		if last < 0 || s.turns[last].Role != memory.RoleUser {
			break
		}
		cut = last
	}
	if cut == 0 {
		// All candidates are dangling; tolerate the overflow until a
		// pair completes or the session ends.
		return nil
	}

	excised := make([]memory.Turn, cut)
	copy(excised, s.turns[:cut])
	s.turns = append(s.turns[:0], s.turns[cut:]...)
	s.tokens = memory.EstimateTurns(s.estimator, s.turns)
	return excised
}

// Snapshot returns a read-only copy of the current buffer.
func (s *Set) Snapshot() []memory.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]memory.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Clear excises everything remaining, even under the ceiling and even
// unpaired, and returns it for final archival. Used at session end.
func (s *Set) Clear() []memory.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	excised := s.turns
	s.turns = nil
	s.tokens = 0
	return excised
}

// Len returns the number of buffered turns.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// Tokens returns the estimated token size of the buffer.
func (s *Set) Tokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens
}

// Tick returns the number of appends this session has seen.
func (s *Set) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}
