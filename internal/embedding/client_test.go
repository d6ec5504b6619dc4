package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	calls   [][]string
	vectors map[string][]float32
	err     error
}

func (f *fakeBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = f.vectors[text]
	}
	return out, nil
}

func (f *fakeBackend) EmbeddingModelID() string {
	return "test-embedding-model"
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]float32
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]float32{}}
}

func (f *fakeCache) GetEmbedding(ctx context.Context, key string) ([]float32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	v, ok := f.entries[key]
	return v, ok, nil
}

func (f *fakeCache) SetEmbedding(ctx context.Context, key string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = vector
	return nil
}

func TestEmbedBatchComputesAndCaches(t *testing.T) {
	backend := &fakeBackend{vectors: map[string][]float32{
		"청크 하나": {1, 0},
		"청크 둘":  {0, 1},
	}}
	cache := newFakeCache()
	c := NewClient(backend, cache)

	vectors, err := c.EmbedBatch(context.Background(), []string{"청크 하나", "청크 둘"})

	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Equal(t, []float32{0, 1}, vectors[1])
	assert.Len(t, cache.entries, 2)
}

func TestEmbedBatchCacheHitSkipsBackend(t *testing.T) {
	backend := &fakeBackend{vectors: map[string][]float32{"청크 하나": {1, 0}}}
	cache := newFakeCache()
	c := NewClient(backend, cache)

	_, err := c.EmbedBatch(context.Background(), []string{"청크 하나"})
	require.NoError(t, err)
	require.Len(t, backend.calls, 1)

	vectors, err := c.EmbedBatch(context.Background(), []string{"청크 하나"})
	require.NoError(t, err)

	assert.Equal(t, []float32{1, 0}, vectors[0])
	assert.Len(t, backend.calls, 1, "cache hit must not reach the backend")
}

func TestEmbedBatchMixedHitAndMissKeepsOrder(t *testing.T) {
	backend := &fakeBackend{vectors: map[string][]float32{
		"하나": {1}, "둘": {2}, "셋": {3},
	}}
	cache := newFakeCache()
	c := NewClient(backend, cache)

	_, err := c.EmbedBatch(context.Background(), []string{"둘"})
	require.NoError(t, err)

	vectors, err := c.EmbedBatch(context.Background(), []string{"하나", "둘", "셋"})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vectors)
	// Second call only embeds the two misses.
	require.Len(t, backend.calls, 2)
	assert.Equal(t, []string{"하나", "셋"}, backend.calls[1])
}

func TestEmbedBatchBackendFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("runtime down")}
	c := NewClient(backend, newFakeCache())

	_, err := c.EmbedBatch(context.Background(), []string{"청크"})

	assert.ErrorIs(t, err, ErrEmbeddingUnavailable)
}

func TestEmbedBatchBrokenCacheDegradesToCompute(t *testing.T) {
	backend := &fakeBackend{vectors: map[string][]float32{"청크": {1}}}
	cache := newFakeCache()
	cache.getErr = errors.New("cache down")
	c := NewClient(backend, cache)

	vectors, err := c.EmbedBatch(context.Background(), []string{"청크"})

	require.NoError(t, err)
	assert.Equal(t, []float32{1}, vectors[0])
}

func TestKeyDependsOnModel(t *testing.T) {
	c := NewClient(&fakeBackend{}, newFakeCache())

	assert.NotEqual(t, c.Key("텍스트"), c.Key("다른 텍스트"))
	assert.NotEmpty(t, c.Key("텍스트"))
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	backend := &fakeBackend{}
	c := NewClient(backend, newFakeCache())

	vectors, err := c.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Empty(t, backend.calls)
}
