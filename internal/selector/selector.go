// Package selector implements the ChunkSelector of §4.6: a greedy,
// score-density, budget-constrained selection with a slack window for
// high-value chunks and a post-hoc directory-diversity adjustment.
package selector

import (
	"sort"

	"github.com/prism/prism/internal/intent"
	"github.com/prism/prism/internal/tokencount"
	"github.com/prism/prism/pkg/chunk"
)

// slackFactor is the 10% overshoot window of §4.6.
const slackFactor = 1.10

// highValueThreshold is the score.total above which a chunk may use the
// slack window.
const highValueThreshold = 0.8

// diversityThreshold triggers the post-selection directory-diversity swap
// when more than this fraction of selected chunks share a parent directory.
const diversityThreshold = 0.6

// Selection is the result of selectWithinBudget.
type Selection struct {
	Selected    []chunk.ScoredChunk
	TotalTokens int
	Dropped     []chunk.ScoredChunk
}

// Selector implements the contract of §4.6.
type Selector struct {
	counter tokencount.Counter
}

func New() Selector {
	return Selector{counter: tokencount.New()}
}

type candidate struct {
	sc      chunk.ScoredChunk
	tokens  int
	density float64
}

// SelectWithinBudget runs the greedy score-density algorithm. scope drives
// whether the directory-diversity adjustment applies (project/global only).
func (s Selector) SelectWithinBudget(scored []chunk.ScoredChunk, budget int, scope intent.Scope) Selection {
	if len(scored) == 0 || budget <= 0 {
		return Selection{Dropped: append([]chunk.ScoredChunk(nil), scored...)}
	}

	candidates := make([]candidate, len(scored))
	for i, sc := range scored {
		tokens := s.counter.EstimateCode(sc.Chunk.Content)
		density := sc.Score.Total
		if tokens > 0 {
			density = sc.Score.Total / float64(max(1, tokens))
		}
		candidates[i] = candidate{sc: sc, tokens: tokens, density: density}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].density != candidates[j].density {
			return candidates[i].density > candidates[j].density
		}
		if candidates[i].sc.Score.Total != candidates[j].sc.Score.Total {
			return candidates[i].sc.Score.Total > candidates[j].sc.Score.Total
		}
		if candidates[i].tokens != candidates[j].tokens {
			return candidates[i].tokens < candidates[j].tokens
		}
		return candidates[i].sc.Chunk.ID < candidates[j].sc.Chunk.ID
	})

	slackBudget := int(float64(budget) * slackFactor)
	usedSlack := false

	var selected, dropped []candidate
	total := 0

	for _, c := range candidates {
		if total+c.tokens <= budget {
			selected = append(selected, c)
			total += c.tokens
			continue
		}
		if !usedSlack && c.sc.Score.Total > highValueThreshold && total+c.tokens <= slackBudget {
			selected = append(selected, c)
			total += c.tokens
			usedSlack = true
			continue
		}
		dropped = append(dropped, c)
	}

	if scope == intent.ScopeProject || scope == intent.ScopeGlobal {
		selected, dropped, total = applyDiversityAdjustment(selected, dropped, total, slackBudget)
	}

	return Selection{
		Selected:    toScoredChunks(selected),
		TotalTokens: total,
		Dropped:     toScoredChunks(dropped),
	}
}

func applyDiversityAdjustment(selected, dropped []candidate, total, slackBudget int) ([]candidate, []candidate, int) {
	for {
		if len(selected) == 0 {
			return selected, dropped, total
		}

		counts := make(map[string]int)
		for _, c := range selected {
			counts[c.sc.Chunk.Dir()]++
		}
		dominant, dominantCount := "", 0
		for dir, n := range counts {
			if n > dominantCount {
				dominant, dominantCount = dir, n
			}
		}
		if float64(dominantCount)/float64(len(selected)) <= diversityThreshold {
			return selected, dropped, total
		}

		// lowest-density selected chunk in the dominant directory
		lowIdx := -1
		for i, c := range selected {
			if c.sc.Chunk.Dir() != dominant {
				continue
			}
			if lowIdx == -1 || c.density < selected[lowIdx].density {
				lowIdx = i
			}
		}
		// highest-density dropped chunk from a different directory
		highIdx := -1
		for i, c := range dropped {
			if c.sc.Chunk.Dir() == dominant {
				continue
			}
			if highIdx == -1 || c.density > dropped[highIdx].density {
				highIdx = i
			}
		}
		if lowIdx == -1 || highIdx == -1 {
			return selected, dropped, total
		}

		newTotal := total - selected[lowIdx].tokens + dropped[highIdx].tokens
		if newTotal > slackBudget {
			return selected, dropped, total
		}

		swapOut := selected[lowIdx]
		swapIn := dropped[highIdx]
		selected[lowIdx] = swapIn
		dropped[highIdx] = swapOut
		total = newTotal
	}
}

func toScoredChunks(cs []candidate) []chunk.ScoredChunk {
	out := make([]chunk.ScoredChunk, len(cs))
	for i, c := range cs {
		out[i] = c.sc
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
