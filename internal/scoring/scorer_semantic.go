package scoring

import (
	"context"

	"github.com/prism/prism/internal/vectorstore"
	"github.com/prism/prism/pkg/chunk"
)

// SemanticScorer scores cosine similarity of the chunk's embedding against
// the query embedding. Since chunk.Chunk carries no embedding field,
// SemanticScorer is constructed with an embedding lookup function (typically
// bound to the VectorStore) that resolves the chunk's vector by ID.
type SemanticScorer struct {
	weight  float64
	lookup  func(chunkID string) ([]float32, bool)
}

// NewSemanticScorer builds a semantic scorer. lookup resolves a chunk's
// stored embedding vector; it is typically backed by a VectorStore.
func NewSemanticScorer(weight float64, lookup func(chunkID string) ([]float32, bool)) *SemanticScorer {
	return &SemanticScorer{weight: weight, lookup: lookup}
}

func (s *SemanticScorer) Name() string    { return "semantic" }
func (s *SemanticScorer) Weight() float64 { return s.weight }

func (s *SemanticScorer) Calculate(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error) {
	if s.lookup == nil || len(q.Vector) == 0 {
		return 0, nil
	}
	vec, ok := s.lookup(c.ID)
	if !ok {
		return 0, nil
	}
	// Cosine similarity is in [-1, 1]; the service clamps into [0, 1] per
	// the RelevanceScore invariant, so negative similarity scores as 0.
	return vectorstore.CosineSimilarity(vec, q.Vector), nil
}
