package memory

import (
	"context"
	"math"
	"sort"
	"sync"
)

// InMemoryVectorIndex is a thread-safe, in-memory implementation of
// VectorIndex using exact cosine similarity. Suitable for tests and small
// deployments; the chromem module provides an embedded vector database.
type InMemoryVectorIndex struct {
	mu      sync.RWMutex
	records map[string]VectorRecord
}

// NewInMemoryVectorIndex creates a new empty index.
func NewInMemoryVectorIndex() *InMemoryVectorIndex {
	return &InMemoryVectorIndex{
		records: make(map[string]VectorRecord),
	}
}

// Compile-time interface check.
var _ VectorIndex = (*InMemoryVectorIndex)(nil)

// Upsert stores a record, replacing any existing record with the same ID.
func (x *InMemoryVectorIndex) Upsert(_ context.Context, rec VectorRecord) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.records[rec.ID] = rec
	return nil
}

// Search returns the top-K records ranked per the filter.
func (x *InMemoryVectorIndex) Search(_ context.Context, embedding []float32, filter SearchFilter, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var results []ScoredRecord
	for _, rec := range x.records {
		sim := CosineSimilarity(embedding, rec.Embedding)
		if sim < filter.MinSimilarity {
			continue
		}
		if rec.Resonance < filter.MinResonance {
			continue
		}

		score := sim
		if filter.ByResonance {
			score = rec.Resonance * sim
		}
		results = append(results, ScoredRecord{Record: rec, Score: score})
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len returns the total number of stored records.
func (x *InMemoryVectorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// CosineSimilarity computes the cosine similarity of two vectors.
// Returns 0 for mismatched dimensions or zero-magnitude vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
