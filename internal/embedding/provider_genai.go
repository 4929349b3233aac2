package embedding

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GenAIProvider is the Gemini/Vertex AI remote provider, adapted from the
// teacher's VertexAIClient.Embed (single-text) into a batched provider.
type GenAIProvider struct {
	client    *genai.Client
	model     string
	dimension int
}

// GenAIConfig configures a GenAIProvider.
type GenAIConfig struct {
	APIKey    string
	ProjectID string
	Location  string
	Model     string
	Dimension int
}

// NewGenAIProvider builds a GenAIProvider against the Vertex AI or Gemini
// API backend, selected the same way the teacher's NewVertexAIClient does:
// API key present selects the Gemini Developer API, otherwise Vertex AI
// with a project/location pair.
func NewGenAIProvider(ctx context.Context, cfg GenAIConfig) (*GenAIProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-005"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	if cfg.Location == "" && cfg.APIKey == "" {
		cfg.Location = "us-central1"
	}

	cc := genai.ClientConfig{Backend: genai.BackendVertexAI}
	if cfg.APIKey != "" {
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	}
	if cfg.ProjectID != "" {
		cc.Project = cfg.ProjectID
	}
	if cfg.Location != "" {
		cc.Location = cfg.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &GenAIProvider{client: client, model: cfg.Model, dimension: cfg.Dimension}, nil
}

func (p *GenAIProvider) Name() string    { return "genai:" + p.model }
func (p *GenAIProvider) Dimension() int  { return p.dimension }
func (p *GenAIProvider) IsRemote() bool  { return true }

func (p *GenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	embedCfg := genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT"}

	for i, text := range texts {
		res, err := p.client.Models.EmbedContent(ctx, p.model, genai.Text(text), &embedCfg)
		if err != nil {
			return nil, fmt.Errorf("embedding failed: %w", err)
		}
		if res == nil || len(res.Embeddings) == 0 {
			return nil, errors.New("no embedding returned")
		}
		out[i] = res.Embeddings[0].Values
	}
	return out, nil
}
