// Package chromem implements the vector index on chromem-go, a pure Go
// embedded vector database. With a persistence path the index survives
// restarts; without one it behaves like the in-memory index but with
// chromem's query engine.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/mnemo-ai/mnemo/internal/memory"
)

const collectionName = "episodes"

// Compile-time interface guard.
var _ memory.VectorIndex = (*Index)(nil)

// Index stores episode and fact records in a single chromem collection.
type Index struct {
	db  *chromem.DB
	col *chromem.Collection
}

// New creates an index. A non-empty path persists the collection to disk
// and reloads it on the next call.
func New(path string) (*Index, error) {
	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("chromem: open %s: %w", path, err)
		}
	}

	// Embeddings are always provided by the caller, so no embedding
	// function is attached to the collection.
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %s: %w", collectionName, err)
	}

	return &Index{db: db, col: col}, nil
}

// Upsert stores a record. chromem keys documents by ID, so re-adding the
// same record replaces it.
func (x *Index) Upsert(ctx context.Context, rec memory.VectorRecord) error {
	topics, err := json.Marshal(rec.Topics)
	if err != nil {
		return fmt.Errorf("chromem: marshal topics: %w", err)
	}

	content := rec.Fact
	if content == "" {
		content = rec.EpisodeID
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   content,
		Embedding: rec.Embedding,
		Metadata: map[string]string{
			"episode_id": rec.EpisodeID,
			"fact":       rec.Fact,
			"topics":     string(topics),
			"affect":     rec.Affect,
			"resonance":  strconv.FormatFloat(rec.Resonance, 'f', -1, 64),
			"created_at": rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chromem: add document %s: %w", rec.ID, err)
	}
	return nil
}

// Search returns the top-K records ranked per the filter.
func (x *Index) Search(ctx context.Context, embedding []float32, filter memory.SearchFilter, topK int) ([]memory.ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}

	// chromem rejects nResults above the collection size; clamp and
	// over-fetch so post-filtering still has topK candidates to keep.
	want := topK * 4
	if n := x.col.Count(); want > n {
		want = n
	}
	if want == 0 {
		return nil, nil
	}

	raw, err := x.col.QueryEmbedding(ctx, embedding, want, nil, nil)
	if err != nil {
		if isInsufficientDocsError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	var results []memory.ScoredRecord
	for _, res := range raw {
		sim := float64(res.Similarity)
		if sim < filter.MinSimilarity {
			continue
		}

		rec, err := documentRecord(res)
		if err != nil {
			return nil, err
		}
		if rec.Resonance < filter.MinResonance {
			continue
		}

		score := sim
		if filter.ByResonance {
			score = rec.Resonance * sim
		}
		results = append(results, memory.ScoredRecord{Record: rec, Score: score})
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len returns the number of stored records.
func (x *Index) Len() int {
	return x.col.Count()
}

func documentRecord(res chromem.Result) (memory.VectorRecord, error) {
	rec := memory.VectorRecord{
		ID:        res.ID,
		EpisodeID: res.Metadata["episode_id"],
		Fact:      res.Metadata["fact"],
		Affect:    res.Metadata["affect"],
		Embedding: res.Embedding,
	}

	if raw := res.Metadata["topics"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Topics); err != nil {
			return memory.VectorRecord{}, fmt.Errorf("chromem: unmarshal topics of %s: %w", res.ID, err)
		}
	}
	if raw := res.Metadata["resonance"]; raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return memory.VectorRecord{}, fmt.Errorf("chromem: parse resonance of %s: %w", res.ID, err)
		}
		rec.Resonance = v
	}
	if raw := res.Metadata["created_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return memory.VectorRecord{}, fmt.Errorf("chromem: parse created_at of %s: %w", res.ID, err)
		}
		rec.CreatedAt = t
	}
	return rec, nil
}

// isInsufficientDocsError reports whether the query failed only because
// the collection holds fewer documents than requested.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
