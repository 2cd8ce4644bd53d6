package embedding

import (
	"context"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"cardassist/internal/domain"
)

// Config holds connection settings for an OpenAI-compatible embeddings
// endpoint.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Dimension int
	Timeout   time.Duration
	BatchSize int
}

// OpenAI embeds text through an OpenAI-compatible embeddings API. The same
// instance must serve both ingestion and retrieval.
type OpenAI struct {
	client    *openai.Client
	model     string
	dimension int
	timeout   time.Duration
	batchSize int
}

// NewOpenAI reads the API key from the configured environment variable and
// builds the client.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: environment variable %s is empty", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedder dimension must be positive, got %d", domain.ErrConfiguration, cfg.Dimension)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		timeout:   cfg.Timeout,
		batchSize: cfg.BatchSize,
	}, nil
}

func (o *OpenAI) Name() string { return "openai:" + o.model }

func (o *OpenAI) Dimension() int { return o.dimension }

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request-sized batches, preserving input order.
// Failures are transient and propagate as-is; retrying is the caller's call.
func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += o.batchSize {
		end := min(start+o.batchSize, len(texts))
		batch := texts[start:end]

		req := openai.EmbeddingRequest{
			Input:      batch,
			Model:      openai.EmbeddingModel(o.model),
			Dimensions: o.dimension,
		}
		reqCtx, cancel := context.WithTimeout(ctx, o.timeout)
		resp, err := o.client.CreateEmbeddings(reqCtx, req)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("%w: requested %d embeddings, got %d", domain.ErrEmbedding, len(batch), len(resp.Data))
		}
		for i, d := range resp.Data {
			if len(d.Embedding) != o.dimension {
				return nil, fmt.Errorf("%w: embedding %d has dimension %d, expected %d", domain.ErrEmbedding, start+i, len(d.Embedding), o.dimension)
			}
			vec := make([]float32, len(d.Embedding))
			copy(vec, d.Embedding)
			out = append(out, vec)
		}
	}
	return out, nil
}
