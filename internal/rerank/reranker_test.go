package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjLee-cmd/test-PatAI/internal/retrieval"
)

type fakeScorer struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeScorer) ScoreRelevance(ctx context.Context, query, passage string) (float64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[passage], nil
}

func candidates(ids ...string) []retrieval.Candidate {
	out := make([]retrieval.Candidate, len(ids))
	for i, id := range ids {
		out[i] = retrieval.Candidate{ChunkID: id, Text: "passage " + id}
	}
	return out
}

func TestRerankOrdersByScore(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{
		"passage a": 3,
		"passage b": 9,
		"passage c": 6,
	}}
	r := NewReranker(scorer, 8)

	result := r.Rerank(context.Background(), "질의", candidates("a", "b", "c"), 0)

	require.False(t, result.Degraded)
	require.Len(t, result.Candidates, 3)
	assert.Equal(t, "b", result.Candidates[0].ChunkID)
	assert.Equal(t, "c", result.Candidates[1].ChunkID)
	assert.Equal(t, "a", result.Candidates[2].ChunkID)
}

func TestRerankTruncatesToTopM(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{}}
	r := NewReranker(scorer, 2)

	result := r.Rerank(context.Background(), "질의", candidates("a", "b", "c", "d"), 0)

	assert.Len(t, result.Candidates, 2)
}

func TestRerankPreservesCandidateIdentity(t *testing.T) {
	input := candidates("a", "b")
	scorer := &fakeScorer{scores: map[string]float64{"passage a": 1, "passage b": 2}}
	r := NewReranker(scorer, 8)

	result := r.Rerank(context.Background(), "질의", input, 0)

	got := map[string]bool{}
	for _, c := range result.Candidates {
		got[c.ChunkID] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, got)
	// Input order is untouched.
	assert.Equal(t, "a", input[0].ChunkID)
}

func TestRerankDegradesOnScorerFailure(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("model down")}
	r := NewReranker(scorer, 2)
	input := candidates("a", "b", "c")

	result := r.Rerank(context.Background(), "질의", input, 0)

	assert.True(t, result.Degraded)
	// Fallback keeps the fused retrieval order, truncated.
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "a", result.Candidates[0].ChunkID)
	assert.Equal(t, "b", result.Candidates[1].ChunkID)
}

func TestRerankEmptyInput(t *testing.T) {
	r := NewReranker(&fakeScorer{}, 8)

	result := r.Rerank(context.Background(), "질의", nil, 0)

	assert.Empty(t, result.Candidates)
	assert.False(t, result.Degraded)
}

func TestRerankPerRequestTopK(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{
		"passage a": 1,
		"passage b": 2,
		"passage c": 3,
		"passage d": 4,
	}}
	r := NewReranker(scorer, 8)

	result := r.Rerank(context.Background(), "질의", candidates("a", "b", "c", "d"), 2)

	require.Len(t, result.Candidates, 2)
	assert.Equal(t, "d", result.Candidates[0].ChunkID)
	assert.Equal(t, "c", result.Candidates[1].ChunkID)
}

func TestRerankDegradedHonorsRequestTopK(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("model down")}
	r := NewReranker(scorer, 8)

	result := r.Rerank(context.Background(), "질의", candidates("a", "b", "c"), 1)

	assert.True(t, result.Degraded)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "a", result.Candidates[0].ChunkID)
}

func TestRerankTieBreaksOnChunkID(t *testing.T) {
	scorer := &fakeScorer{scores: map[string]float64{
		"passage b": 5,
		"passage a": 5,
	}}
	r := NewReranker(scorer, 8)

	result := r.Rerank(context.Background(), "질의", candidates("b", "a"), 0)

	assert.Equal(t, "a", result.Candidates[0].ChunkID)
	assert.Equal(t, "b", result.Candidates[1].ChunkID)
}
