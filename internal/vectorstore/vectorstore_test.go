package vectorstore

import (
	"context"
	"testing"

	"github.com/prism/prism/pkg/chunk"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero magnitude a", []float32{0, 0}, []float32{1, 1}, 0},
		{"zero magnitude b", []float32{1, 1}, []float32{0, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 2}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); got != tt.want {
				t.Errorf("CosineSimilarity(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func mustChunk(id string) chunk.Chunk {
	return chunk.Chunk{ID: id, Path: "pkg/" + id + ".go", Content: "content", StartLine: 1, EndLine: 2, Language: "go"}
}

func TestMemoryStoreInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	if err := s.Insert(ctx, mustChunk("a"), chunk.Embedding{Vector: []float32{1, 0}}); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := s.Insert(ctx, mustChunk("b"), chunk.Embedding{Vector: []float32{0, 1}}); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0}, SearchOptions{Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Chunk.ID != "a" {
		t.Errorf("top result = %s, want a", results[0].Chunk.ID)
	}
	if results[0].Score != 1 {
		t.Errorf("top score = %v, want 1", results[0].Score)
	}
}

func TestMemoryStoreDimensionMismatchRejected(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	if err := s.Insert(ctx, mustChunk("a"), chunk.Embedding{Vector: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := s.Insert(ctx, mustChunk("b"), chunk.Embedding{Vector: []float32{1, 0}}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestMemoryStoreInsertBatchAtomic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	chunks := []chunk.Chunk{mustChunk("a"), mustChunk("b")}
	embeds := []chunk.Embedding{{Vector: []float32{1, 0}}, {Vector: []float32{1, 0, 0}}}

	if err := s.InsertBatch(ctx, chunks, embeds); err == nil {
		t.Fatal("expected batch to fail on internal dimension mismatch")
	}
	stats, _ := s.Stats(ctx)
	if stats.ChunkCount != 0 {
		t.Fatalf("partial batch insert leaked %d records, want 0", stats.ChunkCount)
	}
}

func TestMemoryStoreGetDeleteClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	_ = s.Insert(ctx, mustChunk("a"), chunk.Embedding{Vector: []float32{1, 0}})

	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected missing chunk to report ok=false")
	}
	if c, ok, _ := s.Get(ctx, "a"); !ok || c.ID != "a" {
		t.Fatalf("Get(a) = %+v, %v", c, ok)
	}

	_ = s.Delete(ctx, "a")
	if _, ok, _ := s.Get(ctx, "a"); ok {
		t.Fatal("expected chunk to be gone after Delete")
	}

	_ = s.Insert(ctx, mustChunk("b"), chunk.Embedding{Vector: []float32{1, 0}})
	_ = s.Clear(ctx)
	stats, _ := s.Stats(ctx)
	if stats.ChunkCount != 0 || stats.Dimension != 0 {
		t.Fatalf("Stats after Clear = %+v, want zero value", stats)
	}
}

func TestMemoryStoreGetEmbedding(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	_ = s.Insert(ctx, mustChunk("a"), chunk.Embedding{Vector: []float32{1, 0, 0}})

	if _, ok, _ := s.GetEmbedding(ctx, "missing"); ok {
		t.Fatal("expected missing chunk to report ok=false")
	}
	vec, ok, err := s.GetEmbedding(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("GetEmbedding(a) = %v, %v, %v", vec, ok, err)
	}
	if len(vec) != 3 || vec[0] != 1 {
		t.Fatalf("GetEmbedding(a) = %v, want [1 0 0]", vec)
	}
}

func TestMemoryStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	go1 := chunk.Chunk{ID: "go1", Path: "pkg/a.go", Content: "x", StartLine: 1, EndLine: 1, Language: "go"}
	py1 := chunk.Chunk{ID: "py1", Path: "scripts/a.py", Content: "x", StartLine: 1, EndLine: 1, Language: "python"}
	_ = s.Insert(ctx, go1, chunk.Embedding{Vector: []float32{1, 0}})
	_ = s.Insert(ctx, py1, chunk.Embedding{Vector: []float32{1, 0}})

	results, err := s.Search(ctx, []float32{1, 0}, SearchOptions{Language: "go"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "go1" {
		t.Fatalf("language filter results = %+v", results)
	}

	results, err = s.Search(ctx, []float32{1, 0}, SearchOptions{PathPrefix: "scripts/"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Chunk.ID != "py1" {
		t.Fatalf("path prefix filter results = %+v", results)
	}
}
