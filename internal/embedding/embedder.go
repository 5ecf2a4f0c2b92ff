// Package embedding generates text embeddings through the OpenAI API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// Model is the embedding model used for both documents and queries.
	Model = "text-embedding-3-small"

	// Dimension is the vector size produced by Model. It must match the
	// vector index collection configuration.
	Dimension = 1536

	// DefaultBatchSize keeps single requests well under token-per-minute
	// limits while batching enough to stay fast on large documents.
	DefaultBatchSize = 500
)

// Embedder batches embedding requests and retries rate-limited calls
// with exponential backoff.
type Embedder struct {
	client    openai.Client
	batchSize int
}

// New creates an Embedder. apiKey must be non-empty; batchSize <= 0
// selects DefaultBatchSize.
func New(apiKey string, batchSize int) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key required")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		batchSize: batchSize,
	}, nil
}

// Client exposes the underlying OpenAI client so other components (the
// answer assembler) can share one configured connection.
func (e *Embedder) Client() *openai.Client {
	return &e.client
}

// Embed returns one vector per input text, in input order.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var all [][]float32
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		vectors, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", i, end, err)
		}
		all = append(all, vectors...)
	}
	return all, nil
}

// embedBatch embeds one batch, retrying only on rate-limit responses.
// Other API errors are permanent and fail immediately.
func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32

	operation := func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: texts,
			},
			Model: Model,
		})
		if err != nil {
			if isRateLimited(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		vectors = make([][]float32, len(resp.Data))
		for i, data := range resp.Data {
			vectors[i] = toFloat32(data.Embedding)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
