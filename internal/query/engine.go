package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/answer"
	"github.com/cjLee-cmd/test-PatAI/internal/metrics"
	"github.com/cjLee-cmd/test-PatAI/internal/rerank"
	"github.com/cjLee-cmd/test-PatAI/internal/retrieval"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
	"github.com/cjLee-cmd/test-PatAI/pkg/utils"
)

var ErrEmptyQuery = errors.New("empty query")

// maxTopK caps the per-request source budget.
const maxTopK = 50

// Source is one passage behind an answer, exposed to API clients.
type Source struct {
	Marker      int     `json:"marker"`
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	SectionType string  `json:"section_type"`
	PageStart   int     `json:"page_start"`
	PageEnd     int     `json:"page_end"`
	Score       float64 `json:"score"`
	Cited       bool    `json:"cited"`
}

// Response is the full query result. It round-trips through the answer
// cache as JSON.
type Response struct {
	QueryID    string   `json:"query_id"`
	Query      string   `json:"query"`
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	NoEvidence bool     `json:"no_evidence"`
	Unverified bool     `json:"unverified"`
	Degraded   bool     `json:"degraded"`
	Cached     bool     `json:"cached"`
	LatencyMS  int      `json:"latency_ms"`
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.Candidate, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []retrieval.Candidate, topK int) rerank.Result
}

type Synthesizer interface {
	Synthesize(ctx context.Context, query string, reranked rerank.Result) (answer.Answer, error)
}

type Cache interface {
	GetAnswer(ctx context.Context, key string, out interface{}) (bool, error)
	SetAnswer(ctx context.Context, key string, val interface{}) error
}

type Store interface {
	InsertQueryRecord(record *models.QueryRecord) error
	InsertCitation(citation *models.Citation) error
	GetQueryHistory(limit int) ([]models.QueryRecord, error)
	GetChunksByIDs(ids []string) ([]models.Chunk, error)
}

type Normalizer func(string) string

// Engine runs the full query path: normalize, answer cache, retrieve,
// re-rank, synthesize, persist.
type Engine struct {
	retriever   Retriever
	reranker    Reranker
	synthesizer Synthesizer
	cache       Cache
	store       Store
	normalize   Normalizer
	defaultTopK int
}

func NewEngine(retriever Retriever, reranker Reranker, synthesizer Synthesizer, cache Cache, store Store, normalize Normalizer, defaultTopK int) *Engine {
	if defaultTopK <= 0 {
		defaultTopK = 8
	}
	return &Engine{
		retriever:   retriever,
		reranker:    reranker,
		synthesizer: synthesizer,
		cache:       cache,
		store:       store,
		normalize:   normalize,
		defaultTopK: defaultTopK,
	}
}

// Query answers rawQuery with at most topK sources; topK <= 0 uses the
// configured default.
func (e *Engine) Query(ctx context.Context, rawQuery string, topK int) (*Response, error) {
	start := time.Now()

	normalized := e.normalize(rawQuery)
	if normalized == "" {
		return nil, ErrEmptyQuery
	}

	topK = e.resolveTopK(topK)
	cacheKey := utils.HashString(fmt.Sprintf("%s#k=%d", normalized, topK))
	var cached Response
	hit, err := e.cache.GetAnswer(ctx, cacheKey, &cached)
	if err != nil {
		// A broken cache degrades to a full run, not a failed query.
		logger.Warn("Answer cache read failed", zap.Error(err))
	}
	if hit {
		metrics.CacheHits.WithLabelValues("answer").Inc()
		metrics.QueryTotal.WithLabelValues("cached").Inc()
		cached.Cached = true
		cached.LatencyMS = int(time.Since(start).Milliseconds())
		return &cached, nil
	}
	metrics.CacheMisses.WithLabelValues("answer").Inc()

	candidates, err := e.retriever.Retrieve(ctx, normalized)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	reranked := e.reranker.Rerank(ctx, normalized, candidates, topK)
	e.hydrate(reranked.Candidates)

	synthesized, err := e.synthesizer.Synthesize(ctx, normalized, reranked)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	resp := &Response{
		QueryID:    uuid.New().String(),
		Query:      normalized,
		Answer:     synthesized.Text,
		NoEvidence: synthesized.NoEvidence,
		Unverified: synthesized.Unverified,
		Degraded:   synthesized.Degraded,
		LatencyMS:  int(time.Since(start).Milliseconds()),
	}
	for _, src := range synthesized.Sources {
		resp.Sources = append(resp.Sources, Source(src))
	}

	e.persist(resp, synthesized)

	if err := e.cache.SetAnswer(ctx, cacheKey, resp); err != nil {
		logger.Warn("Answer cache write failed", zap.Error(err))
	}

	status := "ok"
	if resp.NoEvidence {
		status = "no_evidence"
	}
	metrics.QueryTotal.WithLabelValues(status).Inc()
	metrics.QueryDuration.Observe(time.Since(start).Seconds())

	logger.Info("Query answered",
		zap.String("query_id", resp.QueryID),
		zap.Int("sources", len(resp.Sources)),
		zap.Bool("degraded", resp.Degraded),
		zap.Bool("no_evidence", resp.NoEvidence),
		zap.Int("latency_ms", resp.LatencyMS),
	)
	return resp, nil
}

func (e *Engine) resolveTopK(topK int) int {
	if topK <= 0 {
		return e.defaultTopK
	}
	if topK > maxTopK {
		return maxTopK
	}
	return topK
}

// hydrate swaps index copies of chunk text for the authoritative stored
// text; the vector index bounds its text field, the chunk store does not.
func (e *Engine) hydrate(candidates []retrieval.Candidate) {
	if len(candidates) == 0 {
		return
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := e.store.GetChunksByIDs(ids)
	if err != nil {
		logger.Warn("Failed to reload chunk text", zap.Error(err))
		return
	}

	texts := make(map[string]string, len(chunks))
	for _, chunk := range chunks {
		texts[chunk.ID] = chunk.Text
	}
	for i := range candidates {
		if text, ok := texts[candidates[i].ChunkID]; ok {
			candidates[i].Text = text
		}
	}
}

func (e *Engine) persist(resp *Response, synthesized answer.Answer) {
	record := &models.QueryRecord{
		ID:         resp.QueryID,
		QueryText:  resp.Query,
		AnswerText: resp.Answer,
		Degraded:   resp.Degraded,
		Unverified: resp.Unverified,
		LatencyMS:  resp.LatencyMS,
		CreatedAt:  time.Now(),
	}
	if err := e.store.InsertQueryRecord(record); err != nil {
		logger.Warn("Failed to record query", zap.Error(err))
		return
	}

	rank := 0
	for _, src := range synthesized.Sources {
		if !src.Cited {
			continue
		}
		rank++
		citation := &models.Citation{
			AnswerID: resp.QueryID,
			ChunkID:  src.ChunkID,
			Rank:     rank,
			Score:    src.Score,
		}
		if err := e.store.InsertCitation(citation); err != nil {
			logger.Warn("Failed to record citation", zap.Error(err))
		}
	}
}

func (e *Engine) History(limit int) ([]models.QueryRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return e.store.GetQueryHistory(limit)
}
