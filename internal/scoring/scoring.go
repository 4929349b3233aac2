// Package scoring implements the ScoringService of §4.4: a registry of
// pluggable feature scorers aggregated into a weighted RelevanceScore, with
// bounded-parallel batch scoring and a TTL cache in front of the scorers.
package scoring

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/prism/prism/internal/prismerr"
	"github.com/prism/prism/pkg/chunk"
)

// Scorer is the polymorphic contract of §4.4: a named, weighted feature that
// scores a chunk against a query in [0, 1]. Implementations are registered
// into a Service by name; no inheritance is used, matching the closed-set
// (plus "custom") design of §11.
type Scorer interface {
	Name() string
	Weight() float64
	Calculate(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (float64, error)
}

// Initializer is an optional capability a Scorer may implement to receive a
// one-time setup call before first use.
type Initializer interface {
	Init(ctx context.Context) error
}

// Cleaner is an optional capability a Scorer may implement to release
// resources when unregistered.
type Cleaner interface {
	Cleanup()
}

// Config configures a Service.
type Config struct {
	Concurrency int           // bounded parallelism for scoreBatch, default 4
	CacheTTL    time.Duration // default 60s
	CacheCap    int           // default 10000, evict oldest 10% at capacity
	Logger      zerolog.Logger
}

// Service aggregates registered Scorers into RelevanceScores.
type Service struct {
	mu      sync.RWMutex
	scorers map[string]Scorer
	order   []string // insertion order, for deterministic metadata iteration

	concurrency int
	cache       *resultCache
	logger      zerolog.Logger

	metricsMu     sync.Mutex
	totalScored   int64
	totalCacheHit int64
	totalCacheReq int64
	avgPerChunk   time.Duration
	perScorerTime map[string]time.Duration
}

// New creates an empty Service; scorers must be registered before use.
func New(cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	if cfg.CacheCap <= 0 {
		cfg.CacheCap = 10_000
	}
	return &Service{
		scorers:       make(map[string]Scorer),
		concurrency:   cfg.Concurrency,
		cache:         newResultCache(cfg.CacheTTL, cfg.CacheCap),
		logger:        cfg.Logger,
		perScorerTime: make(map[string]time.Duration),
	}
}

// RegisterScorer adds or replaces a scorer by name. If it implements
// Initializer, Init is called immediately.
func (s *Service) RegisterScorer(ctx context.Context, sc Scorer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if init, ok := sc.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			return prismerr.Wrap(prismerr.KindScoringFailed, "init scorer "+sc.Name(), err)
		}
	}
	if _, exists := s.scorers[sc.Name()]; !exists {
		s.order = append(s.order, sc.Name())
	}
	s.scorers[sc.Name()] = sc
	return nil
}

// UnregisterScorer removes a scorer by name, calling Cleanup if implemented.
func (s *Service) UnregisterScorer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scorers[name]; ok {
		if cl, ok := sc.(Cleaner); ok {
			cl.Cleanup()
		}
		delete(s.scorers, name)
		for i, n := range s.order {
			if n == name {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *Service) snapshotScorers() []Scorer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Scorer, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.scorers[name])
	}
	return out
}

// CalculateRelevance runs every registered scorer against c and aggregates
// the weighted total per §3/§4.4. The cache is consulted first.
func (s *Service) CalculateRelevance(ctx context.Context, c chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) (chunk.RelevanceScore, error) {
	key := cacheKey(c.ID, q.Query, sc.CurrentFile, sc.CurrentDirectory)

	s.metricsMu.Lock()
	s.totalCacheReq++
	s.metricsMu.Unlock()

	if cached, ok := s.cache.get(key); ok {
		s.metricsMu.Lock()
		s.totalCacheHit++
		s.metricsMu.Unlock()
		return cached, nil
	}

	scorers := s.snapshotScorers()
	if len(scorers) == 0 {
		return chunk.RelevanceScore{}, prismerr.New(prismerr.KindScoringFailed, "no scorers registered")
	}

	start := time.Now()
	result := chunk.RelevanceScore{Metadata: make(map[string]float64)}
	var weightedSum, weightSum float64

	for _, scorer := range scorers {
		scStart := time.Now()
		val, err := scorer.Calculate(ctx, c, q, sc)
		elapsed := time.Since(scStart)
		s.recordScorerTime(scorer.Name(), elapsed)

		if err != nil {
			s.logger.Warn().Err(err).Str("scorer", scorer.Name()).Str("chunk", c.ID).Msg("scorer failed, treating as zero")
			val = 0
		}
		if val < 0 {
			val = 0
		}
		if val > 1 {
			val = 1
		}

		weight := scorer.Weight()
		weightedSum += val * weight
		weightSum += weight

		switch scorer.Name() {
		case "semantic":
			result.Semantic = val
		case "fileProximity":
			result.FileProximity = val
		case "symbolMatch":
			result.SymbolMatch = val
		case "recency":
			result.Recency = val
		case "frequency":
			result.UsageFrequency = val
		default:
			result.Metadata[scorer.Name()] = val
		}
	}

	if weightSum > 0 {
		result.Total = weightedSum / weightSum
	}
	if result.Total < 0 {
		result.Total = 0
	}
	if result.Total > 1 {
		result.Total = 1
	}

	s.cache.set(key, result)
	s.recordChunkScored(time.Since(start))

	return result, nil
}

// ScoreBatch scores every chunk concurrently (bounded by Service.concurrency)
// and returns results strictly sorted by total descending with rank 1..N.
func (s *Service) ScoreBatch(ctx context.Context, chunks []chunk.Chunk, q chunk.QueryEmbedding, sc chunk.ScoringContext) ([]chunk.ScoredChunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	scored := make([]chunk.ScoredChunk, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			score, err := s.CalculateRelevance(gctx, c, q, sc)
			if err != nil {
				return err
			}
			scored[i] = chunk.ScoredChunk{Chunk: c, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score.Total > scored[j].Score.Total
	})
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, nil
}

func (s *Service) recordScorerTime(name string, d time.Duration) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	s.perScorerTime[name] += d
}

func (s *Service) recordChunkScored(d time.Duration) {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	s.totalScored++
	// cumulative moving average (running mean over every scored chunk)
	if s.totalScored == 1 {
		s.avgPerChunk = d
	} else {
		s.avgPerChunk = s.avgPerChunk + (d-s.avgPerChunk)/time.Duration(s.totalScored)
	}
}

// Metrics is a point-in-time snapshot of service metrics (§4.4).
type Metrics struct {
	TotalChunksScored  int64
	AverageTimePerChunk time.Duration
	CacheHitRate       float64
	PerScorerTime      map[string]time.Duration
}

// Metrics returns the current metrics snapshot.
func (s *Service) Metrics() Metrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	hitRate := 0.0
	if s.totalCacheReq > 0 {
		hitRate = float64(s.totalCacheHit) / float64(s.totalCacheReq)
	}
	perScorer := make(map[string]time.Duration, len(s.perScorerTime))
	for k, v := range s.perScorerTime {
		perScorer[k] = v
	}
	return Metrics{
		TotalChunksScored:   s.totalScored,
		AverageTimePerChunk: s.avgPerChunk,
		CacheHitRate:        hitRate,
		PerScorerTime:       perScorer,
	}
}

// ClearCache empties the result cache, for tests and long-running hosts (§11).
func (s *Service) ClearCache() {
	s.cache.clear()
}
