// Package metrics defines the TokenOptimizer's savings-metrics sink (§6):
// an interface with a single Record method, plus a zerolog-backed default
// implementation in the teacher's structured-logging idiom.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SavingsEvent is emitted once per TokenOptimizer.ReconstructPrompt call.
type SavingsEvent struct {
	Intent           string
	OriginalTokens   int
	OptimizedTokens  int
	CompressionRatio float64
	Duration         time.Duration
	Model            string
}

// Sink receives SavingsEvents. Persistence format is outside this spec;
// implementations may log, aggregate, or forward elsewhere.
type Sink interface {
	Record(ctx context.Context, event SavingsEvent)
}

// LogSink is the default Sink: it logs each event at Info level via zerolog,
// matching the teacher's structured-logging idiom throughout cmd/api.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(ctx context.Context, event SavingsEvent) {
	saved := event.OriginalTokens - event.OptimizedTokens
	s.logger.Info().
		Str("intent", event.Intent).
		Int("original_tokens", event.OriginalTokens).
		Int("optimized_tokens", event.OptimizedTokens).
		Int("tokens_saved", saved).
		Float64("compression_ratio", event.CompressionRatio).
		Dur("duration", event.Duration).
		Str("model", event.Model).
		Msg("token optimization savings")
}

// AggregatingSink wraps another Sink and keeps a running, concurrency-safe
// tally of lifetime savings — useful for a /stats endpoint or tests.
type AggregatingSink struct {
	mu     sync.Mutex
	next   Sink
	count  int
	totalOriginal  int
	totalOptimized int
}

func NewAggregatingSink(next Sink) *AggregatingSink {
	return &AggregatingSink{next: next}
}

func (s *AggregatingSink) Record(ctx context.Context, event SavingsEvent) {
	s.mu.Lock()
	s.count++
	s.totalOriginal += event.OriginalTokens
	s.totalOptimized += event.OptimizedTokens
	s.mu.Unlock()

	if s.next != nil {
		s.next.Record(ctx, event)
	}
}

// Totals returns the lifetime count and token totals observed so far.
func (s *AggregatingSink) Totals() (count, originalTokens, optimizedTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, s.totalOriginal, s.totalOptimized
}
