package embed

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	pipeerrors "github.com/tendocs/tendocs/internal/errors"
)

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key.
	APIKey string

	// Model is the embedding model (default: text-embedding-3-small).
	Model string

	// Dimensions is the embedding dimension (default: 1536 for
	// text-embedding-3-small).
	Dimensions int
}

// OpenAIEmbedder generates embeddings via the OpenAI API.
type OpenAIEmbedder struct {
	config OpenAIConfig
	client *openai.Client
}

// NewOpenAIEmbedder creates an OpenAI-backed embedder.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	return &OpenAIEmbedder{
		config: cfg,
		client: openai.NewClient(cfg.APIKey),
	}
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// Embed generates an embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(texts) {
			end = len(texts)
		}

		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: openai.EmbeddingModel(e.config.Model),
			Input: texts[start:end],
		})
		if err != nil {
			return nil, pipeerrors.BackendUnreachable("openai embeddings request failed", err)
		}

		for _, item := range resp.Data {
			results = append(results, normalizeVector(item.Embedding))
		}
	}

	if len(results) != len(texts) {
		return nil, pipeerrors.New(pipeerrors.ErrCodeEmbeddingFailed, "openai returned wrong embedding count", nil)
	}
	return results, nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the embedder is configured with a key.
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	return e.config.APIKey != ""
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
