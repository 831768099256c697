// Package openai implements the knowledge store's default embedding
// provider on top of OpenAI's embeddings endpoint.
package openai

import (
	"context"
	"fmt"

	"github.com/ddalcu/agent-orcha/internal/memory/embeddings"
	openaiapi "github.com/sashabaranov/go-openai"
)

var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

const defaultModel = "text-embedding-3-small"

// Provider embeds text through OpenAI's chat-model-adjacent embeddings API.
type Provider struct {
	client *openaiapi.Client
	model  string
}

var _ embeddings.Provider = (*Provider)(nil)

// Config configures one Provider instance.
type Config struct {
	APIKey  string
	BaseURL string // non-empty to target an OpenAI-compatible gateway
	Model   string
}

// New builds a Provider, defaulting Model to text-embedding-3-small.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("memory/embeddings/openai: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}

	clientCfg := openaiapi.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client: openaiapi.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func (p *Provider) Name() string { return "openai" }

// Dimension looks up the configured model's vector width, falling back to
// 1536 (the ada-002/3-small width) for an unrecognized model name rather
// than erroring at construction time.
func (p *Provider) Dimension() int {
	if d, ok := modelDimensions[p.model]; ok {
		return d
	}
	return 1536
}

// MaxBatchSize matches OpenAI's per-request input cap.
func (p *Provider) MaxBatchSize() int { return 2048 }

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("memory/embeddings/openai: no embedding returned for query")
	}
	return vectors[0], nil
}

func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, openaiapi.EmbeddingRequest{
		Input: texts,
		Model: openaiapi.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("memory/embeddings/openai: create embeddings: %w", err)
	}

	out := make([][]float32, len(resp.Data))
	for _, datum := range resp.Data {
		out[datum.Index] = datum.Embedding
	}
	return out, nil
}
