package scoring

import (
	"context"
	"math"

	"github.com/prism/prism/pkg/chunk"
)

// frequencyNormalizationCeiling is the usage count treated as "maximally
// frequent" for normalization purposes; counts above it still clamp to 1.0.
const frequencyNormalizationCeiling = 100

// FrequencyScorer scores the normalized log of a chunk's usage count.
// Usage counts are session-volatile and supplied by the caller, since
// chunk.Chunk carries no usage-count field.
type FrequencyScorer struct {
	weight    float64
	usageFunc func(chunkID string) int
}

func NewFrequencyScorer(weight float64, usageFunc func(chunkID string) int) *FrequencyScorer {
	return &FrequencyScorer{weight: weight, usageFunc: usageFunc}
}

func (s *FrequencyScorer) Name() string    { return "frequency" }
func (s *FrequencyScorer) Weight() float64 { return s.weight }

func (s *FrequencyScorer) Calculate(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error) {
	if s.usageFunc == nil {
		return 0, nil
	}
	count := s.usageFunc(c.ID)
	if count <= 0 {
		return 0, nil
	}
	normalized := math.Log(float64(count)+1) / math.Log(float64(frequencyNormalizationCeiling)+1)
	if normalized > 1 {
		normalized = 1
	}
	return normalized, nil
}
