// Package optimizer implements the TokenOptimizer of §4.8: the six-phase
// pipeline (intent detection, scoring, budget allocation, selection,
// compression, reconstruction) that turns a query and a candidate chunk set
// into a budget-bounded prompt.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/prism/prism/internal/compressor"
	"github.com/prism/prism/internal/embedding"
	"github.com/prism/prism/internal/intent"
	"github.com/prism/prism/internal/metrics"
	"github.com/prism/prism/internal/prismerr"
	"github.com/prism/prism/internal/scoring"
	"github.com/prism/prism/internal/selector"
	"github.com/prism/prism/internal/tokencount"
	"github.com/prism/prism/pkg/chunk"
)

const (
	defaultResponseReservePct = 0.20
	defaultHistoryPct         = 0.10
	defaultSystemPreamblePct  = 0.05

	defaultSystemPreamble = "You are PRISM, a code-intelligence assistant. Use the supplied context chunks to answer precisely."
)

// chunkSlack is the §4.8 step-5 retally slack: the sum of compressed tokens
// may exceed chunks budget by up to 10% before a chunk is dropped.
const chunkSlack = 1.10

// Config tunes the budget-split percentages and system preamble; zero
// values fall back to the §6 defaults.
type Config struct {
	ResponseReservePct float64
	HistoryPct         float64
	SystemPreamblePct  float64
	SystemPreamble     string
	Logger             zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.ResponseReservePct <= 0 {
		c.ResponseReservePct = defaultResponseReservePct
	}
	if c.HistoryPct <= 0 {
		c.HistoryPct = defaultHistoryPct
	}
	if c.SystemPreamblePct <= 0 {
		c.SystemPreamblePct = defaultSystemPreamblePct
	}
	if c.SystemPreamble == "" {
		c.SystemPreamble = defaultSystemPreamble
	}
}

// Request bundles a single ReconstructPrompt call's inputs. QueryEmbedding
// is optional: when nil, the TokenOptimizer obtains one lazily via its
// EmbeddingClient (§4.8 phase 2).
type Request struct {
	Query           string
	CandidateChunks []chunk.Chunk
	Budget          int
	Context         chunk.ScoringContext
	History         []string // newest-first
	QueryEmbedding  []float32
}

// TokenOptimizer implements the contract of §4.8.
type TokenOptimizer struct {
	intentDetector  intent.Detector
	scoringService  *scoring.Service
	selector        selector.Selector
	compressor      compressor.Compressor
	embeddingClient *embedding.Client
	sink            metrics.Sink
	counter         tokencount.Counter
	cfg             Config
}

// New wires the six pipeline collaborators together.
func New(
	intentDetector intent.Detector,
	scoringService *scoring.Service,
	sel selector.Selector,
	comp compressor.Compressor,
	embeddingClient *embedding.Client,
	sink metrics.Sink,
	cfg Config,
) *TokenOptimizer {
	cfg.applyDefaults()
	return &TokenOptimizer{
		intentDetector:  intentDetector,
		scoringService:  scoringService,
		selector:        sel,
		compressor:      comp,
		embeddingClient: embeddingClient,
		sink:            sink,
		counter:         tokencount.New(),
		cfg:             cfg,
	}
}

// budgetSplit is the per-section allocation of phase 3.
type budgetSplit struct {
	systemPreamble int
	history        int
	chunks         int
	response       int
}

// ReconstructPrompt runs the full six-phase pipeline. No partial results are
// returned: any phase failure surfaces as an OptimizerError tagged with the
// phase that failed.
func (o *TokenOptimizer) ReconstructPrompt(ctx context.Context, req Request) (chunk.OptimizedPrompt, error) {
	start := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return chunk.OptimizedPrompt{}, prismerr.InvalidQuery("query must not be empty")
	}
	if req.Budget <= 0 {
		return chunk.OptimizedPrompt{}, prismerr.InvalidQuery("budget must be positive")
	}

	// Phase 1: intent detection.
	if err := ctx.Err(); err != nil {
		return chunk.OptimizedPrompt{}, prismerr.Cancelled("cancelled before intent detection")
	}
	in := o.intentDetector.Detect(ctx, req.Query, req.Context)

	// Phase 2: score.
	queryVec := req.QueryEmbedding
	if queryVec == nil {
		if err := ctx.Err(); err != nil {
			return chunk.OptimizedPrompt{}, prismerr.Cancelled("cancelled before embedding")
		}
		vec, err := o.embeddingClient.Embed(ctx, req.Query)
		if err != nil {
			return chunk.OptimizedPrompt{}, prismerr.OptimizerError("embed", "failed to embed query", err)
		}
		queryVec = vec
	}
	qe := chunk.QueryEmbedding{Vector: queryVec, Query: req.Query, CreatedAt: start}

	scored, err := o.scoringService.ScoreBatch(ctx, req.CandidateChunks, qe, req.Context)
	if err != nil {
		return chunk.OptimizedPrompt{}, prismerr.OptimizerError("score", "failed to score candidates", err)
	}

	// Phase 3: budget allocation.
	split := o.allocateBudget(req.Budget, in)

	// Phase 4: select.
	if err := ctx.Err(); err != nil {
		return chunk.OptimizedPrompt{}, prismerr.Cancelled("cancelled before selection")
	}
	sel := o.selector.SelectWithinBudget(scored, split.chunks, in.Scope)

	// Phase 5: compress, then re-tally against the chunks-budget slack.
	compressed, err := o.compressAndRetally(sel.Selected, split.chunks, in.OptimizationOptions)
	if err != nil {
		return chunk.OptimizedPrompt{}, prismerr.OptimizerError("compress", "failed to compress selection", err)
	}

	// Phase 6: reconstruct.
	originalTokens := 0
	for _, c := range req.CandidateChunks {
		originalTokens += o.counter.EstimateCode(c.Content)
	}

	history := o.truncateHistory(req.History, split.history)
	prompt := o.buildPrompt(in, history, compressed, req.Query)
	optimizedTokens := o.counter.Estimate(prompt)

	ratio := 1.0
	if optimizedTokens > 0 {
		ratio = float64(originalTokens) / float64(optimizedTokens)
	}

	model := chooseModel(in.Complexity, originalTokens, optimizedTokens)

	result := chunk.OptimizedPrompt{
		Prompt:           prompt,
		OriginalTokens:   originalTokens,
		OptimizedTokens:  optimizedTokens,
		CompressionRatio: ratio,
		Selected:         compressed,
		Model:            model,
		Intent:           string(in.Kind),
		Reason: fmt.Sprintf("intent=%s scope=%s selected=%d/%d dropped=%d",
			in.Kind, in.Scope, len(compressed), len(req.CandidateChunks), len(sel.Dropped)),
	}

	o.sink.Record(ctx, metrics.SavingsEvent{
		Intent:           string(in.Kind),
		OriginalTokens:   originalTokens,
		OptimizedTokens:  optimizedTokens,
		CompressionRatio: ratio,
		Duration:         time.Since(start),
		Model:            model,
	})

	return result, nil
}

// allocateBudget computes {systemPreamble, history, chunks, response} per
// §4.8 phase 3: response reserve 20%, history 10% if needsHistory, system
// 5%. The system share is computed but not subtracted from the remainder
// and not used to size the preamble — the preamble is a small constant,
// already absorbed by the response reserve — so chunks = total - response -
// history.
func (o *TokenOptimizer) allocateBudget(total int, in intent.Intent) budgetSplit {
	response := int(float64(total) * o.cfg.ResponseReservePct)
	system := int(float64(total) * o.cfg.SystemPreamblePct)

	history := 0
	if in.NeedsHistory {
		history = int(float64(total) * o.cfg.HistoryPct)
	}

	chunks := total - response - history
	if chunks < 0 {
		chunks = 0
	}

	return budgetSplit{systemPreamble: system, history: history, chunks: chunks, response: response}
}

type compressedWithDensity struct {
	cc      chunk.CompressedChunk
	density float64
}

// compressAndRetally implements §4.8 phase 5: compress each selected chunk
// to perChunkTarget = ceil(chunksBudget/len(selected)); chunks whose
// compression fails entirely are dropped; if the retained sum still exceeds
// chunksBudget*1.10, the lowest-density compressed chunk is dropped and the
// sum re-tallied, repeating until within slack.
func (o *TokenOptimizer) compressAndRetally(selected []chunk.ScoredChunk, chunksBudget int, opts intent.OptimizationOptions) ([]chunk.CompressedChunk, error) {
	if len(selected) == 0 {
		return nil, nil
	}

	perChunkTarget := int(math.Ceil(float64(chunksBudget) / float64(len(selected))))
	if perChunkTarget < 1 {
		perChunkTarget = 1
	}

	compOpts := compressor.Options{
		PreserveImports:    opts.PreserveImports,
		PreserveTypes:      opts.PreserveTypes,
		PreserveSignatures: opts.PreserveSignatures,
	}

	items := make([]compressedWithDensity, 0, len(selected))
	for _, sc := range selected {
		cc := o.compressor.Compress(sc.Chunk, perChunkTarget, compOpts)
		if !cc.Success {
			continue
		}
		d := sc.Score.Total
		if cc.CompressedTokens > 0 {
			d = sc.Score.Total / float64(cc.CompressedTokens)
		}
		items = append(items, compressedWithDensity{cc: cc, density: d})
	}

	slackBudget := int(float64(chunksBudget) * chunkSlack)

	for {
		total := 0
		for _, it := range items {
			total += it.cc.CompressedTokens
		}
		if total <= slackBudget || len(items) == 0 {
			break
		}
		lowIdx := 0
		for i, it := range items {
			if it.density < items[lowIdx].density {
				lowIdx = i
			}
		}
		items = append(items[:lowIdx], items[lowIdx+1:]...)
	}

	out := make([]chunk.CompressedChunk, len(items))
	for i, it := range items {
		out[i] = it.cc
	}
	return out, nil
}

// truncateHistory keeps newest-first entries until the history budget is
// exhausted.
func (o *TokenOptimizer) truncateHistory(history []string, budget int) []string {
	if budget <= 0 {
		return nil
	}
	var kept []string
	used := 0
	for _, h := range history {
		t := o.counter.Estimate(h)
		if used+t > budget {
			break
		}
		kept = append(kept, h)
		used += t
	}
	return kept
}

func (o *TokenOptimizer) buildPrompt(in intent.Intent, history []string, selected []chunk.CompressedChunk, query string) string {
	var b strings.Builder

	b.WriteString(o.cfg.SystemPreamble)
	b.WriteString("\n\n")

	if len(history) > 0 {
		b.WriteString("## Conversation history\n")
		for _, h := range history {
			b.WriteString(h)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	for _, cc := range selected {
		b.WriteString(fmt.Sprintf("## %s:%d-%d\n", cc.Chunk.Path, cc.Chunk.StartLine, cc.Chunk.EndLine))
		b.WriteString(cc.Content)
		b.WriteString("\n\n")
	}

	b.WriteString("## Query\n")
	b.WriteString(query)

	return b.String()
}

// chooseModel implements the deterministic decision function of §4.8 phase
// 6: complexity>0.8 or a huge candidate set routes to a high-capacity
// model; a simple, small query may run against a local model; anything
// else gets the balanced default.
func chooseModel(complexity float64, estimatedInputTokens, optimizedTokens int) string {
	if complexity > 0.8 || estimatedInputTokens > 100_000 {
		return "high-capacity"
	}
	if complexity < 0.3 && optimizedTokens < 8_000 {
		return "local-if-available"
	}
	return "balanced"
}
