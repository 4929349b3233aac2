package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/prism/prism/internal/budget"
	"github.com/prism/prism/internal/config"
	"github.com/prism/prism/internal/embedding"
	"github.com/prism/prism/internal/ingest"
	"github.com/prism/prism/internal/vectorstore"
)

func main() {
	fs := pflag.NewFlagSet("prism-ingest", pflag.ExitOnError)
	fs.String("repo", ".", "Path to the directory tree to ingest")
	fs.String("repo-url", "", "Optional: git URL to shallow-clone before ingesting")
	fs.String("git-ref", "main", "Git ref to clone when --repo-url is set")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	repoURL, _ := fs.GetString("repo-url")
	gitRef, _ := fs.GetString("git-ref")
	repo, _ := fs.GetString("repo")

	if repoURL != "" {
		cloned, err := cloneToTemp(repoURL, gitRef)
		if err != nil {
			log.Fatalf("clone failed: %v", err)
		}
		defer func() {
			if err := os.RemoveAll(cloned); err != nil {
				logger.Warn().Err(err).Str("dir", cloned).Msg("failed to remove temp clone")
			}
		}()
		repo = cloned
	}

	ctx := context.Background()

	store, err := buildStore(ctx, cfg.Database, cfg.Dim)
	if err != nil {
		log.Fatalf("failed to build vector store: %v", err)
	}

	client, err := buildEmbeddingClient(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to build embedding client: %v", err)
	}

	ix := ingest.New(store, repo, client, logger)
	n, err := ix.Run(ctx)
	if err != nil {
		log.Fatalf("ingest run failed: %v", err)
	}
	logger.Info().Int("chunks_indexed", n).Str("repo", repo).Msg("ingestion complete")
}

func buildStore(ctx context.Context, dsn string, dim int) (vectorstore.Store, error) {
	if dsn == "" {
		return vectorstore.NewMemoryStore(0), nil
	}
	pg, err := vectorstore.NewPostgresStore(ctx, dsn, dim)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx); err != nil {
		return nil, err
	}
	return pg, nil
}

func buildEmbeddingClient(ctx context.Context, cfg config.Specification, logger zerolog.Logger) (*embedding.Client, error) {
	var primary embedding.Provider
	fallback := embedding.NewLocalProvider(cfg.Dim)

	switch strings.ToLower(cfg.Provider) {
	case "genai", "vertexai", "google":
		p, err := embedding.NewGenAIProvider(ctx, embedding.GenAIConfig{
			APIKey: cfg.APIKey, ProjectID: cfg.ProjectID, Location: cfg.Location,
			Model: cfg.EmbedModel, Dimension: cfg.Dim,
		})
		if err != nil {
			return nil, err
		}
		primary = p
	case "cloudflare":
		primary = embedding.NewCloudflareProvider(embedding.CloudflareConfig{
			AccountID: cfg.CloudflareAccountID, APIToken: cfg.CloudflareAPIToken,
			Model: cfg.EmbedModel, Dimension: cfg.Dim,
		})
	default:
		primary = fallback
		fallback = nil
	}

	tracker := budget.New(budget.Config{DailyNeurons: cfg.Budget.DailyNeurons, WarningThreshold: cfg.Budget.WarningThreshold})

	return embedding.New(primary, fallback, tracker, embedding.Config{
		BatchSize:       cfg.Embedding.BatchSize,
		MaxTextLength:   cfg.Embedding.MaxTextLength,
		MaxBatchItems:   cfg.Embedding.MaxBatchItems,
		InterBatchDelay: time.Duration(cfg.Embedding.InterBatchDelayMs) * time.Millisecond,
		Logger:          logger,
	}), nil
}

func cloneToTemp(repoURL, ref string) (string, error) {
	dir, err := os.MkdirTemp("", "prism-ingest-*")
	if err != nil {
		return "", err
	}
	cmd := exec.Command("git", "clone", "--depth", "1", "--branch", ref, repoURL, dir)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	if err := cmd.Run(); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Printf("failed to remove temp dir %s: %v", dir, rmErr)
		}
		return "", fmt.Errorf("git clone: %w", err)
	}
	return dir, nil
}
