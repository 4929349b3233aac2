// Package embedding implements the EmbeddingClient of §4.2: batched text
// embedding over a primary (remote, paid) / fallback (local) provider chain,
// budget-gated and inter-batch rate limited.
package embedding

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/prism/prism/internal/budget"
	"github.com/prism/prism/internal/prismerr"
)

const (
	defaultBatchSize       = 100
	defaultMaxTextLength   = 10_000
	defaultMaxBatchItems   = 1_000
	defaultInterBatchDelay = 100 * time.Millisecond
)

// Provider is a single embedding backend, either the remote primary or the
// local fallback.
type Provider interface {
	Name() string
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	IsRemote() bool
}

// Config configures a Client.
type Config struct {
	BatchSize       int
	MaxTextLength   int
	MaxBatchItems   int
	InterBatchDelay time.Duration
	Logger          zerolog.Logger
}

// Client implements the embed/embedBatch contract of §4.2.
type Client struct {
	primary  Provider
	fallback Provider
	tracker  *budget.Tracker
	cfg      Config
	logger   zerolog.Logger
}

// New builds a Client. fallback may be nil if no local provider is
// configured, in which case primary failure fails the whole call.
func New(primary, fallback Provider, tracker *budget.Tracker, cfg Config) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = defaultMaxTextLength
	}
	if cfg.MaxBatchItems <= 0 {
		cfg.MaxBatchItems = defaultMaxBatchItems
	}
	if cfg.InterBatchDelay <= 0 {
		cfg.InterBatchDelay = defaultInterBatchDelay
	}
	return &Client{primary: primary, fallback: fallback, tracker: tracker, cfg: cfg, logger: cfg.Logger}
}

// Embed embeds a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in configured-size sub-batches, preserving order
// of the post-filter input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	filtered := c.filter(texts)
	if len(filtered) == 0 {
		return nil, prismerr.New(prismerr.KindEmbeddingFailed, "no valid input texts after filtering")
	}
	if len(filtered) > c.cfg.MaxBatchItems {
		return nil, prismerr.New(prismerr.KindEmbeddingFailed, "batch exceeds maximum item count").
			WithDetail("maxBatchItems", c.cfg.MaxBatchItems).WithDetail("got", len(filtered))
	}

	results := make([][]float32, 0, len(filtered))

	for start := 0; start < len(filtered); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(filtered) {
			end = len(filtered)
		}
		batch := filtered[start:end]

		vecs, err := c.embedOneBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)

		if end < len(filtered) {
			select {
			case <-ctx.Done():
				return nil, prismerr.Cancelled("embedBatch cancelled")
			case <-time.After(c.cfg.InterBatchDelay):
			}
		}
	}

	return results, nil
}

func (c *Client) filter(texts []string) []string {
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		if t == "" {
			continue
		}
		if len(t) > c.cfg.MaxTextLength {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (c *Client) embedOneBatch(ctx context.Context, batch []string) ([][]float32, error) {
	dimension := c.primary.Dimension()
	// §4.2: neurons are batch items * embedding dimension, not a token count —
	// charged directly against the tracker rather than re-derived through its
	// tokens-to-neurons cost formula.
	neuronsNeeded := float64(len(batch) * dimension)

	if c.tracker != nil && c.primary.IsRemote() && !c.tracker.CanAffordNeurons(neuronsNeeded) {
		// §7: budget exhaustion is always reported, never silently degraded —
		// fail fast here rather than falling through to the local fallback.
		return nil, prismerr.New(prismerr.KindEmbeddingFailed, "daily neuron budget exhausted").
			WithDetail("provider", c.primary.Name()).WithDetail("neuronsNeeded", neuronsNeeded).WithRetryable(false)
	}

	vecs, err := c.embedWithProvider(ctx, c.primary, batch, dimension)
	if err == nil {
		if c.tracker != nil && c.primary.IsRemote() {
			c.tracker.TrackNeurons(neuronsNeeded)
		}
		return vecs, nil
	}

	c.logger.Warn().Err(err).Str("provider", c.primary.Name()).Msg("primary embedding provider failed, falling back")
	if c.fallback == nil {
		return nil, prismerr.Wrap(prismerr.KindEmbeddingFailed, "no providers available", err).WithRetryable(true)
	}
	return c.embedWithProvider(ctx, c.fallback, batch, c.fallback.Dimension())
}

func (c *Client) embedWithProvider(ctx context.Context, p Provider, batch []string, dimension int) ([][]float32, error) {
	vecs, err := p.Embed(ctx, batch)
	if err != nil {
		return nil, prismerr.Wrap(prismerr.KindEmbeddingFailed, "provider "+p.Name()+" failed", err).WithRetryable(true)
	}
	if len(vecs) != len(batch) {
		return nil, prismerr.New(prismerr.KindEmbeddingFailed, "provider returned wrong vector count").
			WithDetail("want", len(batch)).WithDetail("got", len(vecs))
	}
	for i, v := range vecs {
		if len(v) < dimension {
			c.logger.Warn().Str("provider", p.Name()).Msg("short embedding vector, padding with zeros")
			padded := make([]float32, dimension)
			copy(padded, v)
			vecs[i] = padded
		}
	}
	return vecs, nil
}
