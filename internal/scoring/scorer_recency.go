package scoring

import (
	"context"
	"math"
	"time"

	"github.com/prism/prism/pkg/chunk"
)

const recencyHalfLife = 30 * 24 * time.Hour

// RecencyScorer scores the exponential decay of time since a chunk was last
// accessed, with a 30-day half-life. Last-access timestamps are supplied by
// the caller via lastAccess, since chunk.Chunk itself carries no access log.
type RecencyScorer struct {
	weight     float64
	lastAccess func(chunkID string) (time.Time, bool)
	now        func() time.Time
}

func NewRecencyScorer(weight float64, lastAccess func(chunkID string) (time.Time, bool)) *RecencyScorer {
	return &RecencyScorer{weight: weight, lastAccess: lastAccess, now: time.Now}
}

func (s *RecencyScorer) Name() string    { return "recency" }
func (s *RecencyScorer) Weight() float64 { return s.weight }

func (s *RecencyScorer) Calculate(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error) {
	if s.lastAccess == nil {
		return 0, nil
	}
	accessed, ok := s.lastAccess(c.ID)
	if !ok {
		return 0, nil
	}
	now := s.now()
	if accessed.After(now) {
		return 1, nil
	}
	elapsed := now.Sub(accessed)
	decay := math.Pow(0.5, float64(elapsed)/float64(recencyHalfLife))
	return decay, nil
}
