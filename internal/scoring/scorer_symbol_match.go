package scoring

import (
	"context"
	"regexp"

	"github.com/sahilm/fuzzy"

	"github.com/prism/prism/pkg/chunk"
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

// SymbolMatchScorer scores the best fuzzy match between the query's tokens
// and a chunk's declared symbols, using sahilm/fuzzy's subsequence matching.
// It does not compute a Levenshtein (edit) distance.
type SymbolMatchScorer struct {
	weight float64
}

func NewSymbolMatchScorer(weight float64) *SymbolMatchScorer {
	return &SymbolMatchScorer{weight: weight}
}

func (s *SymbolMatchScorer) Name() string    { return "symbolMatch" }
func (s *SymbolMatchScorer) Weight() float64 { return s.weight }

func (s *SymbolMatchScorer) Calculate(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error) {
	if len(c.Symbols) == 0 {
		return 0, nil
	}
	tokens := tokenPattern.FindAllString(q.Query, -1)
	if len(tokens) == 0 {
		return 0, nil
	}

	source := symbolSource(c.Symbols)
	best := 0.0
	for _, tok := range tokens {
		matches := fuzzy.FindFrom(tok, source)
		if len(matches) == 0 {
			continue
		}
		// fuzzy.Match.Score is unbounded; normalize against the token's own
		// length so an exact match on a short token scores near 1.0.
		normalized := float64(matches[0].Score) / float64(len(tok)*2)
		if normalized > best {
			best = normalized
		}
	}
	if best > 1 {
		best = 1
	}
	return best, nil
}

type symbolSource []string

func (s symbolSource) String(i int) string { return s[i] }
func (s symbolSource) Len() int             { return len(s) }
