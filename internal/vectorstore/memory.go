package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/prism/prism/internal/prismerr"
	"github.com/prism/prism/pkg/chunk"
)

type record struct {
	chunk     chunk.Chunk
	embedding []float32
}

// MemoryStore is the required exact-linear-scan Store implementation,
// acceptable per §4.3 up to ~100k chunks. Multiple concurrent readers are
// allowed; writes are serialized behind a single RWMutex, matching the
// teacher's pgxpool-backed Store which serializes writes through Postgres
// transactions instead.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*record
	dimension int

	// normCache memoizes each stored embedding's Euclidean norm, avoiding
	// recomputation on every search over a store that is searched far more
	// often than it is mutated.
	normCache *lru.Cache[string, float64]
}

// NewMemoryStore creates an empty MemoryStore. normCacheSize bounds the
// norm memoization cache; 0 selects a sensible default.
func NewMemoryStore(normCacheSize int) *MemoryStore {
	if normCacheSize <= 0 {
		normCacheSize = 50_000
	}
	cache, _ := lru.New[string, float64](normCacheSize)
	return &MemoryStore{
		records:   make(map[string]*record),
		normCache: cache,
	}
}

func (s *MemoryStore) Insert(ctx context.Context, c chunk.Chunk, e chunk.Embedding) error {
	if err := ctx.Err(); err != nil {
		return prismerr.Cancelled("insert cancelled")
	}
	if err := c.Validate(); err != nil {
		return prismerr.InvalidQuery(err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(c, e)
}

func (s *MemoryStore) insertLocked(c chunk.Chunk, e chunk.Embedding) error {
	if s.dimension == 0 && len(e.Vector) > 0 {
		s.dimension = len(e.Vector)
	}
	if len(e.Vector) > 0 && len(e.Vector) != s.dimension {
		return prismerr.InvalidQuery("embedding dimension mismatch")
	}
	s.records[c.ID] = &record{chunk: c, embedding: e.Vector}
	s.normCache.Remove(c.ID)
	return nil
}

func (s *MemoryStore) InsertBatch(ctx context.Context, chunks []chunk.Chunk, embeddings []chunk.Embedding) error {
	if err := ctx.Err(); err != nil {
		return prismerr.Cancelled("insertBatch cancelled")
	}
	if len(chunks) != len(embeddings) {
		return prismerr.InvalidQuery("chunks and embeddings must be the same length")
	}
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return prismerr.InvalidQuery(err.Error())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Atomic across the batch: validate the whole batch against the
	// store's dimension before mutating anything.
	dim := s.dimension
	for _, e := range embeddings {
		if len(e.Vector) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(e.Vector)
			continue
		}
		if len(e.Vector) != dim {
			return prismerr.InvalidQuery("embedding dimension mismatch in batch")
		}
	}

	for i := range chunks {
		if err := s.insertLocked(chunks[i], embeddings[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, prismerr.Cancelled("search cancelled")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(queryVector) != 0 && s.dimension != 0 && len(queryVector) != s.dimension {
		return nil, prismerr.InvalidQuery("query vector dimension mismatch")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = len(s.records)
	}

	qNorm := norm(queryVector)

	candidates := make([]SearchResult, 0, len(s.records))
	for id, rec := range s.records {
		if opts.Language != "" && rec.chunk.Language != opts.Language {
			continue
		}
		if opts.PathPrefix != "" && !strings.HasPrefix(rec.chunk.Path, opts.PathPrefix) {
			continue
		}
		score := s.cosineWithCache(id, rec.embedding, queryVector, qNorm)
		if score < opts.MinRelevance {
			continue
		}
		candidates = append(candidates, SearchResult{Chunk: rec.chunk, Score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Chunk.ID < candidates[j].Chunk.ID
	})

	if limit < len(candidates) {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// cosineWithCache computes cosine similarity using the memoized norm of the
// stored embedding when available, falling back to CosineSimilarity's own
// computation and populating the cache.
func (s *MemoryStore) cosineWithCache(id string, stored, query []float32, qNorm float64) float64 {
	if len(stored) != len(query) || len(stored) == 0 || qNorm == 0 {
		return CosineSimilarity(stored, query)
	}
	sNorm, ok := s.normCache.Get(id)
	if !ok {
		sNorm = norm(stored)
		s.normCache.Add(id, sNorm)
	}
	if sNorm == 0 {
		return 0
	}
	var dot float64
	for i := range stored {
		dot += float64(stored[i]) * float64(query[i])
	}
	return dot / (sNorm * qNorm)
}

func norm(v []float32) float64 {
	var sumSq float64
	for _, x := range v {
		xf := float64(x)
		sumSq += xf * xf
	}
	return math.Sqrt(sumSq)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (chunk.Chunk, bool, error) {
	if err := ctx.Err(); err != nil {
		return chunk.Chunk{}, false, prismerr.Cancelled("get cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return chunk.Chunk{}, false, nil
	}
	return rec.chunk, true, nil
}

func (s *MemoryStore) GetEmbedding(ctx context.Context, id string) ([]float32, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, prismerr.Cancelled("getEmbedding cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok || len(rec.embedding) == 0 {
		return nil, false, nil
	}
	return rec.embedding, true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return prismerr.Cancelled("delete cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	s.normCache.Remove(id)
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return prismerr.Cancelled("clear cancelled")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]*record)
	s.dimension = 0
	s.normCache.Purge()
	return nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, prismerr.Cancelled("stats cancelled")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{ChunkCount: len(s.records), Dimension: s.dimension}, nil
}

var _ Store = (*MemoryStore)(nil)
