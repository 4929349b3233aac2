package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/prism/prism/internal/prismerr"
	"github.com/prism/prism/pkg/chunk"
)

// PostgresStore is an alternative Store backed by Postgres with the pgvector
// extension, for callers that want persistence across process restarts.
// Grounded on the teacher's internal/store.Store, generalized from a
// repository/ref/path chunk schema to PRISM's chunk.Chunk shape.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPostgresStore connects to url and returns a PostgresStore. Call Migrate
// before first use.
func NewPostgresStore(ctx context.Context, url string, dimension int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, prismerr.Wrap(prismerr.KindVectorStoreError, "parse postgres url", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, prismerr.Wrap(prismerr.KindVectorStoreError, "connect to postgres", err).WithRetryable(true)
	}
	return &PostgresStore{pool: pool, dim: dimension}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// Migrate creates the chunks table, indexes, and required extensions.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS prism_chunks (
  id            TEXT PRIMARY KEY,
  path          TEXT NOT NULL,
  content       TEXT NOT NULL,
  language      TEXT,
  line_start    INT NOT NULL,
  line_end      INT NOT NULL,
  signature     TEXT,
  symbols       TEXT,
  dependencies  TEXT,
  metadata      JSONB,
  embedding     vector(%d),
  created_at    TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS prism_chunks_path_idx ON prism_chunks (path);
CREATE INDEX IF NOT EXISTS prism_chunks_language_idx ON prism_chunks (language);
CREATE INDEX IF NOT EXISTS prism_chunks_embedding_idx
  ON prism_chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`, s.dim)
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return prismerr.Wrap(prismerr.KindVectorStoreError, "migrate schema", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, c chunk.Chunk, e chunk.Embedding) error {
	return s.InsertBatch(ctx, []chunk.Chunk{c}, []chunk.Embedding{e})
}

func (s *PostgresStore) InsertBatch(ctx context.Context, chunks []chunk.Chunk, embeddings []chunk.Embedding) error {
	if len(chunks) != len(embeddings) {
		return prismerr.InvalidQuery("chunks and embeddings must be the same length")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return prismerr.Wrap(prismerr.KindVectorStoreError, "begin transaction", err).WithRetryable(true)
	}
	defer tx.Rollback(ctx)

	const q = `
		INSERT INTO prism_chunks (
			id, path, content, language, line_start, line_end,
			signature, symbols, dependencies, metadata, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			content = EXCLUDED.content,
			language = EXCLUDED.language,
			line_start = EXCLUDED.line_start,
			line_end = EXCLUDED.line_end,
			signature = EXCLUDED.signature,
			symbols = EXCLUDED.symbols,
			dependencies = EXCLUDED.dependencies,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding;`

	for i, c := range chunks {
		if err := c.Validate(); err != nil {
			return prismerr.InvalidQuery(err.Error())
		}
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return prismerr.Wrap(prismerr.KindVectorStoreError, "marshal chunk metadata", err)
		}
		var vec any
		if v := embeddings[i].Vector; len(v) > 0 {
			vec = pgvector.NewVector(v)
		}
		_, err = tx.Exec(ctx, q,
			c.ID, c.Path, c.Content, c.Language, c.StartLine, c.EndLine,
			c.Signature, strings.Join(c.Symbols, ","), strings.Join(c.Dependencies, ","), meta, vec,
		)
		if err != nil {
			return prismerr.Wrap(prismerr.KindVectorStoreError, "upsert chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return prismerr.Wrap(prismerr.KindVectorStoreError, "commit transaction", err).WithRetryable(true)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	where := "TRUE"
	args := []any{pgvector.NewVector(queryVector)}
	ai := 2
	if opts.Language != "" {
		where += fmt.Sprintf(" AND language = $%d", ai)
		args = append(args, opts.Language)
		ai++
	}
	if opts.PathPrefix != "" {
		where += fmt.Sprintf(" AND path LIKE $%d", ai)
		args = append(args, opts.PathPrefix+"%")
		ai++
	}

	q := fmt.Sprintf(`
		SELECT id, path, content, language, line_start, line_end, signature, symbols, dependencies, metadata,
		       1 - (embedding <=> $1) AS score
		FROM prism_chunks
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT %d`, where, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, prismerr.Wrap(prismerr.KindVectorStoreError, "search query", err).WithRetryable(true)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var c chunk.Chunk
		var symbols, deps string
		var meta []byte
		var score float64
		if err := rows.Scan(&c.ID, &c.Path, &c.Content, &c.Language, &c.StartLine, &c.EndLine,
			&c.Signature, &symbols, &deps, &meta, &score); err != nil {
			return nil, prismerr.Wrap(prismerr.KindVectorStoreError, "scan search row", err)
		}
		if symbols != "" {
			c.Symbols = strings.Split(symbols, ",")
		}
		if deps != "" {
			c.Dependencies = strings.Split(deps, ",")
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &c.Metadata)
		}
		if score < opts.MinRelevance {
			continue
		}
		out = append(out, SearchResult{Chunk: c, Score: score})
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (chunk.Chunk, bool, error) {
	const q = `
		SELECT id, path, content, language, line_start, line_end, signature, symbols, dependencies, metadata
		FROM prism_chunks WHERE id = $1`
	var c chunk.Chunk
	var symbols, deps string
	var meta []byte
	err := s.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Path, &c.Content, &c.Language, &c.StartLine, &c.EndLine,
		&c.Signature, &symbols, &deps, &meta)
	if err != nil {
		if err == pgx.ErrNoRows {
			return chunk.Chunk{}, false, nil
		}
		return chunk.Chunk{}, false, prismerr.Wrap(prismerr.KindVectorStoreError, "get chunk", err)
	}
	if symbols != "" {
		c.Symbols = strings.Split(symbols, ",")
	}
	if deps != "" {
		c.Dependencies = strings.Split(deps, ",")
	}
	if len(meta) > 0 {
		_ = json.Unmarshal(meta, &c.Metadata)
	}
	return c, true, nil
}

func (s *PostgresStore) GetEmbedding(ctx context.Context, id string) ([]float32, bool, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `SELECT embedding FROM prism_chunks WHERE id = $1`, id).Scan(&vec)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, prismerr.Wrap(prismerr.KindVectorStoreError, "get embedding", err)
	}
	slice := vec.Slice()
	if len(slice) == 0 {
		return nil, false, nil
	}
	return slice, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM prism_chunks WHERE id = $1`, id)
	if err != nil {
		return prismerr.Wrap(prismerr.KindVectorStoreError, "delete chunk", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE TABLE prism_chunks`)
	if err != nil {
		return prismerr.Wrap(prismerr.KindVectorStoreError, "truncate chunks", err)
	}
	return nil
}

func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM prism_chunks`).Scan(&count); err != nil {
		return Stats{}, prismerr.Wrap(prismerr.KindVectorStoreError, "count chunks", err)
	}
	return Stats{ChunkCount: count, Dimension: s.dim}, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ Store = (*PostgresStore)(nil)
