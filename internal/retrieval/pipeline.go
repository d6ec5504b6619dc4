package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/metrics"
	"github.com/cjLee-cmd/test-PatAI/internal/vector"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

// rrfK dampens the weight of top ranks when fusing ranked lists.
const rrfK = 60

// Candidate is one retrieved chunk with its score in whatever scoring
// space the producing stage uses. After fusion the score is the RRF sum.
type Candidate struct {
	ChunkID     string
	DocumentID  string
	SectionType string
	PageStart   int
	PageEnd     int
	Text        string
	Score       float64
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type DenseIndex interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]vector.Hit, error)
}

type Config struct {
	DenseTopK     int
	SparseTopK    int
	SparseEnabled bool
	// MaxCandidates bounds the fused list handed to the re-ranker, which
	// scores each candidate with a model call.
	MaxCandidates int
}

// Pipeline runs dense and sparse retrieval and fuses the two ranked
// lists with reciprocal rank fusion. The output is deterministic:
// identical query and index state always yield the same candidate list.
type Pipeline struct {
	embedder Embedder
	dense    DenseIndex
	sparse   *SparseIndex
	cfg      Config
}

func NewPipeline(embedder Embedder, dense DenseIndex, sparse *SparseIndex, cfg Config) *Pipeline {
	if cfg.DenseTopK <= 0 {
		cfg.DenseTopK = 50
	}
	if cfg.SparseTopK <= 0 {
		cfg.SparseTopK = 200
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 50
	}
	return &Pipeline{
		embedder: embedder,
		dense:    dense,
		sparse:   sparse,
		cfg:      cfg,
	}
}

// Retrieve returns the fused candidate list for a normalized query.
// Dense retrieval is mandatory; a sparse failure or empty sparse index
// degrades to dense-only rather than failing the query.
func (p *Pipeline) Retrieve(ctx context.Context, query string) ([]Candidate, error) {
	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := p.dense.Search(ctx, embedding, p.cfg.DenseTopK)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	denseList := make([]Candidate, len(hits))
	for i, hit := range hits {
		denseList[i] = Candidate{
			ChunkID:     hit.ChunkID,
			DocumentID:  hit.DocumentID,
			SectionType: hit.SectionType,
			PageStart:   hit.PageStart,
			PageEnd:     hit.PageEnd,
			Text:        hit.Text,
			Score:       hit.Score,
		}
	}
	metrics.RetrievalCandidates.WithLabelValues("dense").Observe(float64(len(denseList)))

	var sparseList []Candidate
	if p.cfg.SparseEnabled && p.sparse != nil {
		sparseList = p.sparse.Search(query, p.cfg.SparseTopK)
		metrics.RetrievalCandidates.WithLabelValues("sparse").Observe(float64(len(sparseList)))
	}

	merged := fuse(denseList, sparseList)
	if len(merged) > p.cfg.MaxCandidates {
		merged = merged[:p.cfg.MaxCandidates]
	}
	metrics.RetrievalCandidates.WithLabelValues("merged").Observe(float64(len(merged)))

	logger.Debug("Retrieval completed",
		zap.Int("dense", len(denseList)),
		zap.Int("sparse", len(sparseList)),
		zap.Int("merged", len(merged)),
	)
	return merged, nil
}

// fuse merges ranked lists with reciprocal rank fusion: each candidate
// scores the sum of 1/(rrfK+rank) over the lists it appears in. The
// union is kept, ordered by descending fused score with ties broken by
// ascending chunk id.
func fuse(lists ...[]Candidate) []Candidate {
	fused := make(map[string]*Candidate)
	for _, list := range lists {
		for rank, c := range list {
			score := 1.0 / float64(rrfK+rank+1)
			if existing, ok := fused[c.ChunkID]; ok {
				existing.Score += score
				continue
			}
			merged := c
			merged.Score = score
			fused[c.ChunkID] = &merged
		}
	}

	result := make([]Candidate, 0, len(fused))
	for _, c := range fused {
		result = append(result, *c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].ChunkID < result[j].ChunkID
	})
	return result
}
