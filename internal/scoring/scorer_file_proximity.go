package scoring

import (
	"context"
	"strings"

	"github.com/prism/prism/pkg/chunk"
)

// FileProximityScorer scores a chunk by path-hierarchy distance from
// context.CurrentFile: 1.0 for the same file, 0.8 for the same directory,
// decaying with the number of diverging path segments beyond that.
type FileProximityScorer struct {
	weight float64
}

func NewFileProximityScorer(weight float64) *FileProximityScorer {
	return &FileProximityScorer{weight: weight}
}

func (s *FileProximityScorer) Name() string    { return "fileProximity" }
func (s *FileProximityScorer) Weight() float64 { return s.weight }

func (s *FileProximityScorer) Calculate(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error) {
	if sc.CurrentFile == "" {
		return 0, nil
	}
	if c.Path == sc.CurrentFile {
		return 1.0, nil
	}
	if c.Dir() == dirOf(sc.CurrentFile) {
		return 0.8, nil
	}

	a := strings.Split(dirOf(sc.CurrentFile), "/")
	b := strings.Split(c.Dir(), "/")
	common := 0
	for common < len(a) && common < len(b) && a[common] == b[common] {
		common++
	}
	divergence := (len(a) - common) + (len(b) - common)
	if divergence <= 0 {
		return 0.8, nil
	}

	// Exponential decay per extra diverging segment, floored at 0.
	score := 0.8
	for i := 0; i < divergence; i++ {
		score *= 0.6
	}
	if score < 0 {
		score = 0
	}
	return score, nil
}

func dirOf(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[:i]
	}
	return ""
}
