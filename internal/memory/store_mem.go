package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemoryEpisodeStore is a thread-safe, in-memory implementation of
// EpisodeStore. The SQLite module provides the persistent equivalent.
type InMemoryEpisodeStore struct {
	mu       sync.RWMutex
	episodes map[string]EpisodeSummary
}

// NewInMemoryEpisodeStore creates a new empty episode store.
func NewInMemoryEpisodeStore() *InMemoryEpisodeStore {
	return &InMemoryEpisodeStore{
		episodes: make(map[string]EpisodeSummary),
	}
}

// Compile-time interface check.
var _ EpisodeStore = (*InMemoryEpisodeStore)(nil)

// Commit persists a summary. Committing the same episode ID twice leaves
// exactly one stored record; the Archived flag of an existing record is
// preserved so a retried commit never un-archives an episode.
func (s *InMemoryEpisodeStore) Commit(_ context.Context, ep EpisodeSummary) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.episodes[ep.ID]; ok && existing.Archived {
		ep.Archived = true
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	s.episodes[ep.ID] = ep
	return nil
}

// Get returns the episode with the given ID.
func (s *InMemoryEpisodeStore) Get(_ context.Context, id string) (EpisodeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.episodes[id]
	if !ok {
		return EpisodeSummary{}, ErrEpisodeNotFound
	}
	return ep, nil
}

// Recent returns episodes ending at or after since, newest first.
func (s *InMemoryEpisodeStore) Recent(_ context.Context, since time.Time, limit int) ([]EpisodeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []EpisodeSummary
	for _, ep := range s.episodes {
		if !ep.EndTime.Before(since) {
			result = append(result, ep)
		}
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].EndTime.After(result[b].EndTime)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Unarchived returns episodes created before cutoff with no vector record.
func (s *InMemoryEpisodeStore) Unarchived(_ context.Context, cutoff time.Time) ([]EpisodeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []EpisodeSummary
	for _, ep := range s.episodes {
		if !ep.Archived && ep.CreatedAt.Before(cutoff) {
			result = append(result, ep)
		}
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].CreatedAt.Before(result[b].CreatedAt)
	})
	return result, nil
}

// MarkArchived records that a vector record now exists for the episode.
func (s *InMemoryEpisodeStore) MarkArchived(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.episodes[id]
	if !ok {
		return ErrEpisodeNotFound
	}
	ep.Archived = true
	s.episodes[id] = ep
	return nil
}

// BySession returns all episodes for a session ordered by first sequence.
func (s *InMemoryEpisodeStore) BySession(_ context.Context, sessionID string) ([]EpisodeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []EpisodeSummary
	for _, ep := range s.episodes {
		if ep.SessionID == sessionID {
			result = append(result, ep)
		}
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].FirstSeq < result[b].FirstSeq
	})
	return result, nil
}

var _ SummarySearcher = (*InMemoryEpisodeStore)(nil)

// SearchSummaries returns episodes whose summary or topics contain every
// term of the query, newest first. The SQLite module answers the same
// question with an FTS5 rank; here a substring scan stands in.
func (s *InMemoryEpisodeStore) SearchSummaries(_ context.Context, query string, limit int) ([]EpisodeSummary, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []EpisodeSummary
	for _, ep := range s.episodes {
		haystack := strings.ToLower(ep.Summary + " " + strings.Join(ep.Topics, " "))
		matched := true
		for _, term := range terms {
			if !strings.Contains(haystack, term) {
				matched = false
				break
			}
		}
		if matched {
			result = append(result, ep)
		}
	}
	sort.Slice(result, func(a, b int) bool {
		return result[a].EndTime.After(result[b].EndTime)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
