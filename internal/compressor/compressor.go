// Package compressor implements the AdaptiveCompressor of §4.7: four levels
// of language-aware, regex-based compression (not AST/tree-sitter-based, per
// the design's own tradeoff — see DESIGN.md), applied in strict order until
// the result fits the target token budget.
package compressor

import (
	"strings"

	"github.com/prism/prism/internal/tokencount"
	"github.com/prism/prism/pkg/chunk"
)

// slackFactor is the 10% overshoot window accepted at every level (§4.7).
const slackFactor = 1.10

// Options controls which chunk structures survive compression (§4.7).
type Options struct {
	PreserveImports    bool
	PreserveTypes      bool
	PreserveSignatures bool
}

// Compressor implements the contract of §4.7.
type Compressor struct {
	counter tokencount.Counter
}

func New() Compressor {
	return Compressor{counter: tokencount.New()}
}

// Compress reduces ch's content to fit targetTokens, descending through
// Light, Medium, Aggressive, Signature-only until it fits (with 10% slack)
// or every level has been tried.
func (c Compressor) Compress(ch chunk.Chunk, targetTokens int, opts Options) chunk.CompressedChunk {
	profile := profileFor(ch.Language)
	originalTokens := c.counter.EstimateCode(ch.Content)

	if originalTokens <= targetTokens {
		return chunk.CompressedChunk{
			Chunk:            ch,
			Level:            chunk.LevelLight,
			Content:          ch.Content,
			OriginalTokens:   originalTokens,
			CompressedTokens: originalTokens,
			CompressionRatio: 1.0,
			Success:          true,
		}
	}

	slackTarget := int(float64(targetTokens) * slackFactor)

	light := compressLight(ch.Content, profile)
	if strings.TrimSpace(light) != "" && c.fits(light, slackTarget) {
		return c.result(ch, chunk.LevelLight, light, originalTokens, true)
	}

	medium := compressMedium(light, profile)
	if strings.TrimSpace(medium) != "" && c.fits(medium, slackTarget) {
		return c.result(ch, chunk.LevelMedium, medium, originalTokens, true)
	}

	aggressive := compressAggressive(ch.Content, profile, opts)
	if strings.TrimSpace(aggressive) != "" && c.fits(aggressive, slackTarget) {
		return c.result(ch, chunk.LevelAggressive, aggressive, originalTokens, true)
	}

	sig := extractSignatureOnly(ch)
	if sig == "" {
		return chunk.CompressedChunk{
			Chunk:            ch,
			Level:            chunk.LevelSignatureOnly,
			Content:          "",
			OriginalTokens:   originalTokens,
			CompressedTokens: 0,
			CompressionRatio: 0,
			Success:          false,
		}
	}
	// Signature-only is always accepted once reached, even over target
	// (§4.7: "the 10% slack is not a failure condition").
	return c.result(ch, chunk.LevelSignatureOnly, sig, originalTokens, true)
}

func (c Compressor) fits(content string, slackTarget int) bool {
	return c.counter.EstimateCode(content) <= slackTarget
}

func (c Compressor) result(ch chunk.Chunk, level chunk.CompressionLevel, content string, originalTokens int, success bool) chunk.CompressedChunk {
	compressedTokens := c.counter.EstimateCode(content)
	ratio := 1.0
	if compressedTokens > 0 {
		ratio = float64(originalTokens) / float64(compressedTokens)
	}
	return chunk.CompressedChunk{
		Chunk:            ch,
		Level:            level,
		Content:          content,
		OriginalTokens:   originalTokens,
		CompressedTokens: compressedTokens,
		CompressionRatio: ratio,
		Success:          success,
	}
}

// CompressBatch compresses every chunk independently against the same
// target.
func (c Compressor) CompressBatch(chunks []chunk.Chunk, targetTokens int, opts Options) []chunk.CompressedChunk {
	out := make([]chunk.CompressedChunk, len(chunks))
	for i, ch := range chunks {
		out[i] = c.Compress(ch, targetTokens, opts)
	}
	return out
}

func extractSignatureOnly(ch chunk.Chunk) string {
	if strings.TrimSpace(ch.Signature) != "" {
		return strings.TrimSpace(ch.Signature)
	}
	for _, line := range strings.Split(ch.Content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || isCommentLine(trimmed) {
			continue
		}
		if strings.HasSuffix(trimmed, "{") || strings.HasSuffix(trimmed, ":") || strings.HasSuffix(trimmed, "=>") {
			return trimmed
		}
	}
	return ""
}

func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "*")
}
