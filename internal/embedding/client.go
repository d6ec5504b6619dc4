package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/metrics"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
	"github.com/cjLee-cmd/test-PatAI/pkg/utils"
)

// ErrEmbeddingUnavailable marks a model runtime that stayed unreachable
// through the bounded retry inside the backend client.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Backend is the raw model runtime (the LLM client in production).
type Backend interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingModelID() string
}

// Cache stores vectors keyed by content hash. Entries are permanent:
// a (text, model) pair can never change its vector.
type Cache interface {
	GetEmbedding(ctx context.Context, key string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, key string, vector []float32) error
}

// Client is the cache-through embedding layer. Re-ingesting an
// unchanged document must never re-embed unchanged chunks; the cache
// hit path is what makes that hold.
type Client struct {
	backend Backend
	cache   Cache
}

func NewClient(backend Backend, cache Cache) *Client {
	return &Client{backend: backend, cache: cache}
}

// ModelID identifies the embedding model for chunk content hashes.
func (c *Client) ModelID() string {
	return c.backend.EmbeddingModelID()
}

// Key derives the content-addressed cache key for a text under the
// configured model.
func (c *Client) Key(text string) string {
	return utils.ContentKey(text, c.backend.EmbeddingModelID())
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns vectors in input order. Cache hits skip the model
// entirely; misses go to the backend in one batch and are written back
// concurrently.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		key := c.Key(text)
		vector, hit, err := c.cache.GetEmbedding(ctx, key)
		if err != nil {
			// A broken cache degrades to recomputation, not failure.
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			vectors[i] = vector
			continue
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	computed, err := c.backend.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(computed) != len(missTexts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts",
			ErrEmbeddingUnavailable, len(computed), len(missTexts))
	}

	var wg sync.WaitGroup
	for i, idx := range missIdx {
		vectors[idx] = computed[i]

		wg.Add(1)
		go func(text string, vector []float32) {
			defer wg.Done()
			if err := c.cache.SetEmbedding(ctx, c.Key(text), vector); err != nil {
				logger.Warn("Embedding cache write failed", zap.Error(err))
			}
		}(missTexts[i], computed[i])
	}
	wg.Wait()

	logger.Debug("Embeddings computed",
		zap.Int("total", len(texts)),
		zap.Int("cache_hits", len(texts)-len(missTexts)),
		zap.Int("computed", len(missTexts)),
	)

	return vectors, nil
}
