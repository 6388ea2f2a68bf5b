package memory

import (
	"context"
	"sort"
	"sync"
)

// journalEntry pairs a turn with its excision mark.
type journalEntry struct {
	turn    Turn
	excised bool
}

// InMemoryJournal is a thread-safe, in-memory implementation of Journal.
// It offers the write-through contract without durability; the SQLite
// module provides the persistent equivalent.
type InMemoryJournal struct {
	mu       sync.RWMutex
	sessions map[string][]journalEntry
}

// NewInMemoryJournal creates a new empty journal.
func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{
		sessions: make(map[string][]journalEntry),
	}
}

// Compile-time interface check.
var _ Journal = (*InMemoryJournal)(nil)

// AppendTurn persists a turn for the session.
func (j *InMemoryJournal) AppendTurn(_ context.Context, sessionID string, t Turn) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sessions[sessionID] = append(j.sessions[sessionID], journalEntry{turn: t})
	return nil
}

// MarkExcised marks all turns up to and including throughSeq as archived.
func (j *InMemoryJournal) MarkExcised(_ context.Context, sessionID string, throughSeq uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries := j.sessions[sessionID]
	for i := range entries {
		if entries[i].turn.Seq <= throughSeq {
			entries[i].excised = true
		}
	}
	return nil
}

// Replay returns the session's live turns in sequence order.
func (j *InMemoryJournal) Replay(_ context.Context, sessionID string) ([]Turn, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var turns []Turn
	for _, e := range j.sessions[sessionID] {
		if !e.excised {
			turns = append(turns, e.turn)
		}
	}
	sort.Slice(turns, func(a, b int) bool { return turns[a].Seq < turns[b].Seq })
	return turns, nil
}

// Sessions returns the IDs of all sessions with live turns.
func (j *InMemoryJournal) Sessions(_ context.Context) ([]string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var ids []string
	for id, entries := range j.sessions {
		for _, e := range entries {
			if !e.excised {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}
