// Package vectorstore provides nearest-neighbor retrieval over chunk
// embeddings (§4.3). The package defines the Store contract and ships two
// implementations: an in-memory exact-scan store (the required default) and
// an optional Postgres/pgvector-backed store for callers who want
// persistence.
package vectorstore

import (
	"context"
	"math"

	"github.com/prism/prism/pkg/chunk"
)

// SearchOptions filters and bounds a similarity search.
type SearchOptions struct {
	Limit        int
	Language     string // optional: exact match
	PathPrefix   string // optional: chunk.Path must start with this
	MinRelevance float64
}

// SearchResult pairs a Chunk with its cosine similarity to the query,
// always in [-1, 1].
type SearchResult struct {
	Chunk chunk.Chunk
	Score float64
}

// Stats summarizes a store's contents.
type Stats struct {
	ChunkCount int
	Dimension  int
}

// Store is the contract of §4.3. Insert/InsertBatch are upserts keyed by
// chunk ID; InsertBatch is atomic across the batch (all-or-nothing).
// Implementations must allow multiple concurrent readers with writes
// serialized (§5).
type Store interface {
	Insert(ctx context.Context, c chunk.Chunk, e chunk.Embedding) error
	InsertBatch(ctx context.Context, chunks []chunk.Chunk, embeddings []chunk.Embedding) error
	Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]SearchResult, error)
	Get(ctx context.Context, id string) (chunk.Chunk, bool, error)
	// GetEmbedding returns the stored vector for id, feeding ScoringService's
	// SemanticScorer lookup (§4.4).
	GetEmbedding(ctx context.Context, id string) ([]float32, bool, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}

// CosineSimilarity computes the cosine similarity of a and b. Per §3/§4.3,
// a zero-magnitude vector on either side yields 0, never NaN.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
