package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjLee-cmd/test-PatAI/internal/vector"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

type fakeDense struct {
	hits []vector.Hit
	err  error
}

func (f *fakeDense) Search(ctx context.Context, embedding []float32, topK int) ([]vector.Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > topK {
		return f.hits[:topK], nil
	}
	return f.hits, nil
}

func hit(id string, score float64) vector.Hit {
	return vector.Hit{ChunkID: id, DocumentID: "d1", Score: score}
}

func TestRetrieveFusesDenseAndSparse(t *testing.T) {
	sparse := NewSparseIndex()
	sparse.Add(chunk("d1:0000", "d1", "반도체 소자의 제조"))
	sparse.Add(chunk("d1:0005", "d1", "반도체 메모리 구조"))

	dense := &fakeDense{hits: []vector.Hit{hit("d1:0000", 0.9), hit("d1:0001", 0.8)}}
	p := NewPipeline(&fakeEmbedder{}, dense, sparse, Config{SparseEnabled: true})

	results, err := p.Retrieve(context.Background(), "반도체 소자")

	require.NoError(t, err)
	ids := candidateIDs(results)
	// Union: dense-only, sparse-only, and shared candidates all present.
	assert.Contains(t, ids, "d1:0000")
	assert.Contains(t, ids, "d1:0001")
	assert.Contains(t, ids, "d1:0005")
	// The chunk found by both retrievers fuses the highest.
	assert.Equal(t, "d1:0000", results[0].ChunkID)
}

func TestRetrieveDenseOnlyWhenSparseDisabled(t *testing.T) {
	dense := &fakeDense{hits: []vector.Hit{hit("d1:0000", 0.9)}}
	p := NewPipeline(&fakeEmbedder{}, dense, NewSparseIndex(), Config{SparseEnabled: false})

	results, err := p.Retrieve(context.Background(), "반도체")

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1:0000", results[0].ChunkID)
}

func TestRetrieveEmbedFailure(t *testing.T) {
	p := NewPipeline(&fakeEmbedder{err: errors.New("down")}, &fakeDense{}, nil, Config{})

	_, err := p.Retrieve(context.Background(), "반도체")

	assert.Error(t, err)
}

func TestRetrieveDeterministic(t *testing.T) {
	sparse := NewSparseIndex()
	for i, text := range []string{"반도체 소자", "반도체 기판", "반도체 공정"} {
		sparse.Add(chunk(candID(i), "d1", text))
	}
	dense := &fakeDense{hits: []vector.Hit{hit("d1:0001", 0.7), hit("d1:0002", 0.6)}}
	p := NewPipeline(&fakeEmbedder{}, dense, sparse, Config{SparseEnabled: true})

	first, err := p.Retrieve(context.Background(), "반도체")
	require.NoError(t, err)
	second, err := p.Retrieve(context.Background(), "반도체")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRetrieveBoundsCandidateSet(t *testing.T) {
	hits := make([]vector.Hit, 10)
	for i := range hits {
		hits[i] = hit(fmt.Sprintf("d1:%04d", i), 1.0-float64(i)/100)
	}
	dense := &fakeDense{hits: hits}
	p := NewPipeline(&fakeEmbedder{}, dense, NewSparseIndex(), Config{
		DenseTopK:     10,
		MaxCandidates: 3,
	})

	results, err := p.Retrieve(context.Background(), "반도체")

	require.NoError(t, err)
	// The re-ranker scores each candidate with a model call; the fused
	// list stays bounded regardless of the union size.
	require.Len(t, results, 3)
	assert.Equal(t, "d1:0000", results[0].ChunkID)
}

func TestFuseTieBreaksOnChunkID(t *testing.T) {
	// Two lists, two candidates at symmetric ranks: equal RRF scores.
	listA := []Candidate{{ChunkID: "b"}, {ChunkID: "a"}}
	listB := []Candidate{{ChunkID: "a"}, {ChunkID: "b"}}

	fused := fuse(listA, listB)

	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ChunkID)
	assert.Equal(t, "b", fused[1].ChunkID)
	assert.Equal(t, fused[0].Score, fused[1].Score)
}

func TestFuseSharedCandidateOutranksSingles(t *testing.T) {
	listA := []Candidate{{ChunkID: "x"}, {ChunkID: "shared"}}
	listB := []Candidate{{ChunkID: "y"}, {ChunkID: "shared"}}

	fused := fuse(listA, listB)

	require.Len(t, fused, 3)
	assert.Equal(t, "shared", fused[0].ChunkID)
}

func candidateIDs(candidates []Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	return ids
}

func candID(i int) string {
	return []string{"d1:0000", "d1:0001", "d1:0002"}[i]
}
