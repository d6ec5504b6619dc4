package rerank

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/metrics"
	"github.com/cjLee-cmd/test-PatAI/internal/retrieval"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

// Scorer rates a (query, passage) pair jointly, cross-encoder style.
type Scorer interface {
	ScoreRelevance(ctx context.Context, query, passage string) (float64, error)
}

// Result carries the final context set. Degraded is true when the
// scorer failed and the order is the fused retrieval order instead of
// re-ranked order; callers must surface that to the user.
type Result struct {
	Candidates []retrieval.Candidate
	Degraded   bool
}

// Reranker reorders fused candidates by joint relevance and truncates
// to the context budget. It never invents or drops candidates other
// than by truncation.
type Reranker struct {
	scorer Scorer
	topM   int
}

func NewReranker(scorer Scorer, topM int) *Reranker {
	if topM <= 0 {
		topM = 8
	}
	return &Reranker{scorer: scorer, topM: topM}
}

// Rerank scores and truncates to topK; topK <= 0 falls back to the
// configured context budget.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate, topK int) Result {
	if topK <= 0 {
		topK = r.topM
	}
	if len(candidates) == 0 {
		return Result{}
	}

	scored := make([]retrieval.Candidate, len(candidates))
	copy(scored, candidates)

	for i := range scored {
		score, err := r.scorer.ScoreRelevance(ctx, query, scored[i].Text)
		if err != nil {
			logger.Warn("Re-ranker unavailable, falling back to retrieval order",
				zap.Error(err),
				zap.Int("scored", i),
			)
			metrics.RerankDegraded.Inc()
			return Result{Candidates: truncate(candidates, topK), Degraded: true}
		}
		scored[i].Score = score
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ChunkID < scored[j].ChunkID
	})

	return Result{Candidates: truncate(scored, topK)}
}

func truncate(candidates []retrieval.Candidate, m int) []retrieval.Candidate {
	if len(candidates) > m {
		return candidates[:m]
	}
	return candidates
}
