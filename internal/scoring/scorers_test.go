package scoring

import (
	"context"
	"testing"
	"time"

	"github.com/prism/prism/pkg/chunk"
)

func TestFileProximityScorer(t *testing.T) {
	s := NewFileProximityScorer(1)
	ctx := context.Background()

	same := chunk.Chunk{ID: "a", Path: "internal/foo/bar.go"}
	sameDir := chunk.Chunk{ID: "b", Path: "internal/foo/baz.go"}
	farDir := chunk.Chunk{ID: "c", Path: "cmd/other/main.go"}

	sc := chunk.ScoringContext{CurrentFile: "internal/foo/bar.go"}

	if got, _ := s.Calculate(ctx, same, chunk.QueryEmbedding{}, sc); got != 1.0 {
		t.Errorf("same file = %v, want 1.0", got)
	}
	if got, _ := s.Calculate(ctx, sameDir, chunk.QueryEmbedding{}, sc); got != 0.8 {
		t.Errorf("same dir = %v, want 0.8", got)
	}
	if got, _ := s.Calculate(ctx, farDir, chunk.QueryEmbedding{}, sc); got >= 0.8 {
		t.Errorf("far dir = %v, want < 0.8", got)
	}
}

func TestSymbolMatchScorer(t *testing.T) {
	s := NewSymbolMatchScorer(1)
	ctx := context.Background()

	c := chunk.Chunk{ID: "a", Symbols: []string{"AuthenticateUser", "parseToken"}}
	q := chunk.QueryEmbedding{Query: "how does AuthenticateUser work"}

	got, err := s.Calculate(ctx, c, q, chunk.ScoringContext{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got <= 0 {
		t.Errorf("expected a positive match score for an exact symbol hit, got %v", got)
	}

	noSymbols := chunk.Chunk{ID: "b"}
	got, err = s.Calculate(ctx, noSymbols, q, chunk.ScoringContext{})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if got != 0 {
		t.Errorf("chunk with no symbols should score 0, got %v", got)
	}
}

func TestRecencyScorerDecay(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := map[string]time.Time{
		"recent": fixedNow.Add(-time.Hour),
		"old":    fixedNow.Add(-60 * 24 * time.Hour),
	}
	s := NewRecencyScorer(1, func(id string) (time.Time, bool) {
		ts, ok := tracker[id]
		return ts, ok
	})
	s.now = func() time.Time { return fixedNow }

	recentScore, _ := s.Calculate(context.Background(), chunk.Chunk{ID: "recent"}, chunk.QueryEmbedding{}, chunk.ScoringContext{})
	oldScore, _ := s.Calculate(context.Background(), chunk.Chunk{ID: "old"}, chunk.QueryEmbedding{}, chunk.ScoringContext{})

	if recentScore <= oldScore {
		t.Fatalf("recent score %v should exceed old score %v", recentScore, oldScore)
	}
	// two half-lives (60 days / 30 day half-life) => ~0.25
	if oldScore > 0.3 || oldScore < 0.2 {
		t.Errorf("old score = %v, want ~0.25", oldScore)
	}
}

func TestFrequencyScorerNormalizes(t *testing.T) {
	s := NewFrequencyScorer(1, func(id string) int {
		if id == "popular" {
			return 1000
		}
		return 1
	})

	popular, _ := s.Calculate(context.Background(), chunk.Chunk{ID: "popular"}, chunk.QueryEmbedding{}, chunk.ScoringContext{})
	rare, _ := s.Calculate(context.Background(), chunk.Chunk{ID: "rare"}, chunk.QueryEmbedding{}, chunk.ScoringContext{})

	if popular <= rare {
		t.Fatalf("popular score %v should exceed rare score %v", popular, rare)
	}
	if popular > 1 {
		t.Errorf("popular score = %v, must be clamped to <= 1", popular)
	}
}
