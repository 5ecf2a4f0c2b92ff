// Package vectorindex maintains one Qdrant collection per file and
// answers similarity queries by text.
package vectorindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// pointNamespace seeds deterministic UUIDv5 point IDs. Qdrant point IDs
// must be UUIDs, so the string chunk key is hashed into one; the same
// key always maps to the same point, which makes upserts idempotent.
var pointNamespace = uuid.MustParse("7b1d2f9c-55a4-4c38-9e41-0d6f3a8b2c17")

// TextEmbedder produces one vector per input text.
type TextEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index wraps the Qdrant client with per-key collection management.
type Index struct {
	client   *qdrant.Client
	embedder TextEmbedder
	logger   *slog.Logger
}

// New connects to Qdrant and verifies reachability with exponential
// backoff, failing fast if the backend never answers.
func New(host string, port int, embedder TextEmbedder, logger *slog.Logger) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	idx := &Index{client: client, embedder: embedder, logger: logger}

	if err := idx.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return idx, nil
}

func (x *Index) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error { return x.Health(ctx) }, backoff.WithContext(b, ctx))
}

// Health performs a single health check against the backend.
func (x *Index) Health(ctx context.Context) error {
	result, err := x.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Close closes the backend connection.
func (x *Index) Close() error {
	if x.client != nil {
		return x.client.Close()
	}
	return nil
}

// CollectionExists reports whether a collection named key exists.
func (x *Index) CollectionExists(ctx context.Context, key string) (bool, error) {
	names, err := x.client.ListCollections(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: list collections: %v", ErrUnreachable, err)
	}
	for _, name := range names {
		if name == key {
			return true, nil
		}
	}
	return false, nil
}

// EnsureCollection creates the collection named key if it does not
// exist. Idempotent.
func (x *Index) EnsureCollection(ctx context.Context, key string) error {
	exists, err := x.CollectionExists(ctx, key)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: key,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     vectorDimension,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %v", ErrUnreachable, key, err)
	}
	return nil
}

// vectorDimension must match the embedder's output size
// (text-embedding-3-small).
const vectorDimension = 1536

// Upsert embeds the documents and writes them into the collection named
// key, creating it if needed. Points sharing a key are replaced, so
// retrying or reprocessing the same chunks overwrites rather than
// duplicates.
func (x *Index) Upsert(ctx context.Context, key string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := x.EnsureCollection(ctx, key); err != nil {
		return err
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vectors, err := x.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(d.Key)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"key":         d.Key,
				"text":        d.Text,
				"page":        int64(d.Meta.Page),
				"source":      d.Meta.Source,
				"chunk_index": int64(d.Meta.ChunkIndex),
			}),
		}
	}

	return x.upsertWithRetry(ctx, key, points)
}

// upsertWithRetry writes points with exponential backoff. Batches of 100
// keep individual requests small.
func (x *Index) upsertWithRetry(ctx context.Context, key string, points []*qdrant.PointStruct) error {
	const batchSize = 100
	for i := 0; i < len(points); i += batchSize {
		end := min(i+batchSize, len(points))
		batch := points[i:end]

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 500 * time.Millisecond
		b.MaxInterval = 10 * time.Second
		b.MaxElapsedTime = 30 * time.Second

		operation := func() error {
			_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: key,
				Points:         batch,
			})
			return err
		}
		if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
			return fmt.Errorf("%w: upsert batch %d-%d: %v", ErrUnreachable, i, end, err)
		}
	}
	return nil
}

// Query embeds the query text and returns the topK most similar chunks
// from the collection named key, ordered by descending similarity.
func (x *Index) Query(ctx context.Context, key, queryText string, topK int) (Result, error) {
	exists, err := x.CollectionExists(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{}, fmt.Errorf("%w: %s", ErrCollectionNotFound, key)
	}

	vectors, err := x.embedder.Embed(ctx, []string{queryText})
	if err != nil {
		return Result{}, fmt.Errorf("embed query: %w", err)
	}

	points, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: key,
		Query:          qdrant.NewQuery(vectors[0]...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: query %s: %v", ErrUnreachable, key, err)
	}

	result := Result{
		Documents: make([]string, 0, len(points)),
		Metadatas: make([]ChunkMeta, 0, len(points)),
	}
	for _, p := range points {
		payload := p.Payload
		result.Documents = append(result.Documents, payload["text"].GetStringValue())
		result.Metadatas = append(result.Metadatas, ChunkMeta{
			Page:       int(payload["page"].GetIntegerValue()),
			Source:     payload["source"].GetStringValue(),
			ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		})
	}
	return result, nil
}

// DeleteCollection removes the collection named key. An absent
// collection is not an error; it is logged and the call returns nil.
func (x *Index) DeleteCollection(ctx context.Context, key string) error {
	exists, err := x.CollectionExists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		x.logger.Warn("collection already absent", "collection", key)
		return nil
	}
	if err := x.client.DeleteCollection(ctx, key); err != nil {
		return fmt.Errorf("%w: delete collection %s: %v", ErrUnreachable, key, err)
	}
	return nil
}

// PointID maps a string chunk key to its deterministic Qdrant point UUID.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}
