// Package chunk defines the wire-level data model shared between PRISM's
// internal pipeline and any external caller (CLI, MCP server, indexer).
package chunk

import (
	"errors"
	"time"
)

// Chunk is the unit of retrieval: a contiguous, semantically meaningful
// slice of a source file together with its location and symbols. Chunks are
// produced by an external parser, never mutated after insertion, and are
// superseded by inserting a new Chunk with the same ID.
type Chunk struct {
	ID           string            `json:"id"`
	Path         string            `json:"path"`
	Content      string            `json:"content"`
	StartLine    int               `json:"start_line"`
	EndLine      int               `json:"end_line"`
	Language     string            `json:"language"`
	Symbols      []string          `json:"symbols"`
	Dependencies []string          `json:"dependencies"`
	Signature    string            `json:"signature,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Validate checks the invariants of §3: StartLine >= 1, EndLine >= StartLine,
// and non-empty content. Uniqueness of ID is a store-level invariant, not a
// per-chunk one, and is therefore not checked here.
func (c Chunk) Validate() error {
	if c.ID == "" {
		return errors.New("chunk: id is required")
	}
	if c.StartLine < 1 {
		return errors.New("chunk: startLine must be >= 1")
	}
	if c.EndLine < c.StartLine {
		return errors.New("chunk: endLine must be >= startLine")
	}
	if c.Content == "" {
		return errors.New("chunk: content must not be empty")
	}
	return nil
}

// Dir returns the chunk's parent directory, computed from Path using
// forward-slash conventions (§6: relative paths use forward slashes).
func (c Chunk) Dir() string {
	for i := len(c.Path) - 1; i >= 0; i-- {
		if c.Path[i] == '/' {
			return c.Path[:i]
		}
	}
	return ""
}

// Embedding is a fixed-dimension vector of real numbers associated with
// exactly one chunk by ID. Dimension is fixed per store.
type Embedding struct {
	ChunkID string
	Vector  []float32
}

// QueryEmbedding is a cache-key component: a vector, the original query
// text, and the creation timestamp.
type QueryEmbedding struct {
	Vector    []float32
	Query     string
	CreatedAt time.Time
}

// ScoringContext carries the situational signals a scorer may consult.
type ScoringContext struct {
	CurrentFile      string
	CurrentDirectory string
	RecentFiles      []string // most-recent first
	UserHistory      []string
	Timestamp        time.Time
}

// RelevanceScore is the weighted combination of participating feature
// scorers, always in [0,1].
type RelevanceScore struct {
	Total           float64
	Semantic        float64
	SymbolMatch     float64
	FileProximity   float64
	Recency         float64
	UsageFrequency  float64
	Metadata        map[string]float64
}

// ScoredChunk pairs a Chunk with its RelevanceScore and its rank within a
// batch (1-based, rank 1 is the highest score).
type ScoredChunk struct {
	Chunk Chunk
	Score RelevanceScore
	Rank  int
}

// CompressionLevel enumerates the adaptive compressor's strength tiers, in
// strictly increasing order of aggressiveness.
type CompressionLevel int

const (
	LevelLight CompressionLevel = iota
	LevelMedium
	LevelAggressive
	LevelSignatureOnly
)

func (l CompressionLevel) String() string {
	switch l {
	case LevelLight:
		return "light"
	case LevelMedium:
		return "medium"
	case LevelAggressive:
		return "aggressive"
	case LevelSignatureOnly:
		return "signature_only"
	default:
		return "unknown"
	}
}

// CompressedChunk is the result of running AdaptiveCompressor.Compress.
type CompressedChunk struct {
	Chunk             Chunk
	Level             CompressionLevel
	Content           string
	OriginalTokens    int
	CompressedTokens  int
	CompressionRatio  float64
	Success           bool
}

// OptimizedPrompt is the final artifact produced by the TokenOptimizer.
type OptimizedPrompt struct {
	Prompt           string
	OriginalTokens   int
	OptimizedTokens  int
	CompressionRatio float64
	Selected         []CompressedChunk
	Model            string
	Intent           string
	Reason           string
}

// BudgetState is the daily neuron quota's observable state.
type BudgetState struct {
	Used     float64
	ResetsAt time.Time
}
