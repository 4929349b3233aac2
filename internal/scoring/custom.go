package scoring

import (
	"context"

	"github.com/prism/prism/pkg/chunk"
)

// CustomScorer is the open-extension variant of §11's closed-set-plus-custom
// design: a user-registered scorer identified by name, carrying a plain
// callable instead of a dedicated type.
type CustomScorer struct {
	name   string
	weight float64
	fn     func(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error)
}

// NewCustomScorer wraps fn as a named, weighted Scorer.
func NewCustomScorer(name string, weight float64, fn func(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error)) *CustomScorer {
	return &CustomScorer{name: name, weight: weight, fn: fn}
}

func (s *CustomScorer) Name() string    { return s.name }
func (s *CustomScorer) Weight() float64 { return s.weight }

func (s *CustomScorer) Calculate(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error) {
	return s.fn(ctx, c, q, sc)
}

// DefaultWeights are the §4.4 canonical scorer weights, summing to 1.0.
var DefaultWeights = map[string]float64{
	"semantic":      0.40,
	"fileProximity": 0.20,
	"symbolMatch":   0.25,
	"recency":       0.10,
	"frequency":     0.05,
}

// RegisterDefaultScorers registers the five canonical scorers at their
// default weights. embeddingLookup resolves a chunk's stored embedding
// (typically backed by a vectorstore.Store); tracker supplies recency and
// frequency signals.
func RegisterDefaultScorers(ctx context.Context, svc *Service, embeddingLookup func(chunkID string) ([]float32, bool), tracker *UsageTracker) error {
	scorers := []Scorer{
		NewSemanticScorer(DefaultWeights["semantic"], embeddingLookup),
		NewFileProximityScorer(DefaultWeights["fileProximity"]),
		NewSymbolMatchScorer(DefaultWeights["symbolMatch"]),
		NewRecencyScorer(DefaultWeights["recency"], tracker.LastAccess),
		NewFrequencyScorer(DefaultWeights["frequency"], tracker.Count),
	}
	for _, sc := range scorers {
		if err := svc.RegisterScorer(ctx, sc); err != nil {
			return err
		}
	}
	return nil
}
