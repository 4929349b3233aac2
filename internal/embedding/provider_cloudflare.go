package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CloudflareProvider calls Cloudflare Workers AI's embedding endpoint. It is
// a remote, neuron-metered provider, shaped after the teacher's
// OpenAIClient.Embed: hand-rolled REST over net/http rather than a vendored
// SDK, since no Cloudflare Workers AI client library appears in the corpus.
type CloudflareProvider struct {
	accountID string
	apiToken  string
	model     string
	dimension int
	http      *http.Client
}

// CloudflareConfig configures a CloudflareProvider.
type CloudflareConfig struct {
	AccountID string
	APIToken  string
	Model     string
	Dimension int
}

func NewCloudflareProvider(cfg CloudflareConfig) *CloudflareProvider {
	if cfg.Model == "" {
		cfg.Model = "@cf/baai/bge-base-en-v1.5"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	return &CloudflareProvider{
		accountID: cfg.AccountID,
		apiToken:  cfg.APIToken,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		http:      &http.Client{Timeout: 20 * time.Second},
	}
}

func (p *CloudflareProvider) Name() string   { return "cloudflare:" + p.model }
func (p *CloudflareProvider) Dimension() int { return p.dimension }
func (p *CloudflareProvider) IsRemote() bool { return true }

func (p *CloudflareProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if p.apiToken == "" {
		return nil, errors.New("cloudflare API token unset")
	}

	url := fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/ai/run/%s", p.accountID, p.model)
	payload := map[string]any{"text": texts}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cloudflare embedding non-200: %s", resp.Status)
	}

	var out struct {
		Result struct {
			Data [][]float32 `json:"data"`
		} `json:"result"`
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if !out.Success || len(out.Result.Data) == 0 {
		return nil, errors.New("no embeddings in response")
	}
	return out.Result.Data, nil
}
