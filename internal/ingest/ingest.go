// Package ingest provides the demo ingestion pipeline of §7: a
// godirwalk-based worker pool, adapted from the teacher's internal/indexer,
// that turns a directory tree into naive CodeChunks (one chunk per file,
// signature = first non-blank line) and pushes them through an
// EmbeddingClient into a VectorStore. It stands in for the out-of-scope
// tree-sitter/AST chunker, not a replacement for it.
package ingest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog"

	"github.com/prism/prism/internal/embedding"
	"github.com/prism/prism/internal/vectorstore"
	"github.com/prism/prism/pkg/chunk"
)

// FileSystemWalker abstracts directory traversal for testing.
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader abstracts file reads for testing.
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

type osWalker struct{}

func (osWalker) Walk(root string, options *godirwalk.Options) error { return godirwalk.Walk(root, options) }

type osFileReader struct{}

func (osFileReader) ReadFile(filename string) ([]byte, error) { return os.ReadFile(filename) }

// Ingester walks RepoRoot and indexes every non-skipped file into Store via
// Client.
type Ingester struct {
	Store      vectorstore.Store
	RepoRoot   string
	Client     *embedding.Client
	Walker     FileSystemWalker
	FileReader FileReader
	Logger     zerolog.Logger
}

// New builds an Ingester with the default os-backed walker and reader.
func New(store vectorstore.Store, repoRoot string, client *embedding.Client, logger zerolog.Logger) *Ingester {
	return &Ingester{
		Store:      store,
		RepoRoot:   repoRoot,
		Client:     client,
		Walker:     osWalker{},
		FileReader: osFileReader{},
		Logger:     logger,
	}
}

type workItem struct {
	path    string
	content string
}

// Run walks RepoRoot with a bounded worker pool (mirroring the teacher's
// indexer concurrency pattern), embedding and inserting each file's naive
// chunk as it is discovered.
func (ix *Ingester) Run(ctx context.Context) (int, error) {
	numWorkers := runtime.NumCPU()
	if numWorkers > 8 {
		numWorkers = 8
	}

	workChan := make(chan workItem, numWorkers*2)
	errorChan := make(chan error, 1)
	var indexed int64
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				if err := ix.processWorkItem(ctx, item); err != nil {
					select {
					case errorChan <- err:
					default:
						ix.Logger.Error().Err(err).Str("path", item.path).Msg("ingest worker error")
					}
					continue
				}
				mu.Lock()
				indexed++
				mu.Unlock()
			}
		}()
	}

	go func() {
		wg.Wait()
		close(errorChan)
	}()

	walkErr := ix.Walker.Walk(ix.RepoRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if shouldSkip(path) {
				return nil
			}
			b, err := ix.FileReader.ReadFile(path)
			if err != nil {
				ix.Logger.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}
			select {
			case workChan <- workItem{path: path, content: string(b)}:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		},
	})

	close(workChan)
	wg.Wait()

	select {
	case err := <-errorChan:
		if err != nil {
			return int(indexed), err
		}
	default:
	}

	return int(indexed), walkErr
}

func (ix *Ingester) processWorkItem(ctx context.Context, item workItem) error {
	relPath := rel(ix.RepoRoot, item.path)
	c := naiveChunk(relPath, item.content)

	vec, err := ix.Client.Embed(ctx, c.Content)
	if err != nil {
		return err
	}

	ix.Logger.Info().Str("path", relPath).Int("content_len", len(c.Content)).Msg("ingesting chunk")
	return ix.Store.Insert(ctx, c, chunk.Embedding{ChunkID: c.ID, Vector: vec})
}

// naiveChunk builds a single-chunk-per-file CodeChunk: the whole file as
// content, its first non-blank line as Signature.
func naiveChunk(relPath, content string) chunk.Chunk {
	lines := strings.Count(content, "\n") + 1
	return chunk.Chunk{
		ID:        chunkID(relPath),
		Path:      relPath,
		Content:   content,
		StartLine: 1,
		EndLine:   lines,
		Language:  guessLang(relPath),
		Signature: firstNonBlankLine(content),
	}
}

func firstNonBlankLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func shouldSkip(path string) bool {
	p := strings.ToLower(path)
	if strings.Contains(p, "/vendor/") ||
		strings.Contains(p, "/.git/") ||
		strings.Contains(p, "/.terraform/") ||
		strings.Contains(p, "/node_modules/") ||
		strings.Contains(p, "/target/") ||
		strings.Contains(p, "/build/") ||
		strings.Contains(p, "/dist/") ||
		strings.Contains(p, "/out/") ||
		strings.Contains(p, "/bin/") ||
		strings.Contains(p, "/obj/") ||
		strings.Contains(p, "/.venv/") ||
		strings.Contains(p, "/venv/") ||
		strings.Contains(p, "/__pycache__/") ||
		strings.Contains(p, "/.pytest_cache/") ||
		strings.Contains(p, "/.gradle/") ||
		strings.Contains(p, "/.m2/") ||
		strings.Contains(p, "/.idea/") ||
		strings.Contains(p, "/coverage/") ||
		strings.Contains(p, "/.cache/") {
		return true
	}
	switch filepath.Ext(p) {
	case ".png", ".jpg", ".jpeg", ".gif", ".pdf", ".webp", ".lock", ".zip", ".svg", ".exe", ".dll", ".xml", ".sum", ".mod", ".sql":
		return true
	}
	return false
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}

func chunkID(path string) string {
	h := sha1.Sum([]byte(path))
	return hex.EncodeToString(h[:])
}

func guessLang(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".sh":
		return "shell"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".md":
		return "markdown"
	case ".tf":
		return "terraform"
	case ".js":
		return "javascript"
	case ".ts":
		return "typescript"
	case ".java":
		return "java"
	case ".rb":
		return "ruby"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}
