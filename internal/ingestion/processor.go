package ingestion

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/extract"
	"github.com/cjLee-cmd/test-PatAI/internal/metrics"
	"github.com/cjLee-cmd/test-PatAI/internal/retrieval"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
	"github.com/cjLee-cmd/test-PatAI/internal/textproc"
	"github.com/cjLee-cmd/test-PatAI/internal/vector"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
	"github.com/cjLee-cmd/test-PatAI/pkg/retry"
	"github.com/cjLee-cmd/test-PatAI/pkg/utils"
)

// FileStore reads back the raw upload for processing.
type FileStore interface {
	StoredFile(doc *models.Document) ([]byte, error)
}

// Processor runs the ingestion phases for one claimed job. Each phase
// is retried with backoff; invalid documents abort without retry.
// Cancellation is honored at phase boundaries only, so a phase never
// ends half-applied.
type Processor struct {
	store    Store
	files    FileStore
	registry *extract.Registry
	chunker  *textproc.Chunker
	embedder Embedder
	index    vector.Index
	sparse   *retrieval.SparseIndex
	cache    AnswerCache
	retryCfg retry.Config
}

func NewProcessor(store Store, files FileStore, registry *extract.Registry, chunker *textproc.Chunker,
	embedder Embedder, index vector.Index, sparse *retrieval.SparseIndex, cache AnswerCache,
	maxPhaseAttempts int) *Processor {

	cfg := retry.DefaultConfig()
	if maxPhaseAttempts > 0 {
		cfg.MaxAttempts = maxPhaseAttempts
	}
	cfg.InitialDelay = time.Second
	cfg.PermanentErrors = []error{extract.ErrInvalidDocument}
	cfg.Logger = logger.GetLogger()

	return &Processor{
		store:    store,
		files:    files,
		registry: registry,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		sparse:   sparse,
		cache:    cache,
		retryCfg: cfg,
	}
}

type runState struct {
	doc        *models.Document
	data       []byte
	pages      []string
	normalized textproc.NormalizedText
	sections   []textproc.Section
	chunks     []models.Chunk
	vectors    [][]float32
	stats      vector.UpsertStats
	stale      int
}

// changed reports whether the run mutated the chunk set in any way,
// including dropped stale ordinals from a document that got shorter.
func (st *runState) changed() bool {
	return st.stats.Inserted+st.stats.Replaced+st.stale > 0
}

// Process runs every phase in order for a claimed job. The returned
// error is ErrJobCancelled when a cancel request was honored.
func (p *Processor) Process(ctx context.Context, job *models.IngestionJob) error {
	doc, err := p.store.GetDocument(job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	data, err := p.files.StoredFile(doc)
	if err != nil {
		return fmt.Errorf("load stored file: %w", err)
	}

	if err := p.store.UpdateDocumentStatus(doc.ID, models.DocumentProcessing, ""); err != nil {
		return err
	}

	st := &runState{doc: doc, data: data}

	for _, phase := range models.Phases {
		cancelled, err := p.store.CancelRequested(job.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return ErrJobCancelled
		}

		if err := p.store.UpdateJobPhase(job.ID, phase, 0); err != nil {
			return err
		}

		cfg := p.retryCfg
		cfg.OnAttempt = func(attempt int, attemptErr error) {
			if err := p.store.UpdateJobPhase(job.ID, phase, attempt); err != nil {
				logger.Warn("Failed to persist attempt count", zap.Error(err))
			}
		}

		start := time.Now()
		err = retry.Do(ctx, cfg, func() error {
			return p.runPhase(ctx, phase, st)
		})
		metrics.IngestionPhaseDuration.WithLabelValues(string(phase)).Observe(time.Since(start).Seconds())

		if err != nil {
			return fmt.Errorf("phase %s: %w", phase, err)
		}
	}

	version := doc.Version
	if doc.Status == models.DocumentCompleted && st.changed() {
		version++
	}
	if err := p.store.MarkDocumentCompleted(doc.ID, len(st.chunks), version); err != nil {
		return err
	}

	if st.changed() {
		if err := p.cache.InvalidateAnswers(ctx); err != nil {
			logger.Warn("Failed to invalidate answer cache", zap.Error(err))
		}
	}

	metrics.DocumentsIngested.Inc()
	logger.Info("Document ingested",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", len(st.chunks)),
		zap.Int("inserted", st.stats.Inserted),
		zap.Int("unchanged", st.stats.Unchanged),
		zap.Int("replaced", st.stats.Replaced),
		zap.Int("stale", st.stale),
	)
	return nil
}

func (p *Processor) runPhase(ctx context.Context, phase models.JobPhase, st *runState) error {
	switch phase {
	case models.PhaseExtract:
		pages, err := p.registry.Extract(st.data, st.doc.OriginalFilename, st.doc.MimeType)
		if err != nil {
			return err
		}
		st.pages = pages
		return nil

	case models.PhaseTag:
		st.normalized = textproc.Normalize(st.pages)
		st.sections = textproc.TagSections(st.normalized.Text)
		return nil

	case models.PhaseChunk:
		st.chunks = p.buildChunks(st)
		if len(st.chunks) == 0 {
			return fmt.Errorf("%w: no chunkable text", extract.ErrInvalidDocument)
		}
		return nil

	case models.PhaseEmbed:
		texts := make([]string, len(st.chunks))
		for i, chunk := range st.chunks {
			texts[i] = chunk.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		st.vectors = vectors
		return nil

	case models.PhaseUpsert:
		return p.upsert(ctx, st)
	}
	return fmt.Errorf("unknown phase %q", phase)
}

// buildChunks maps tagged sections through the per-section chunk
// policies. Chunk ids are deterministic (document id + ordinal) so a
// re-run over identical content addresses the same index entries.
func (p *Processor) buildChunks(st *runState) []models.Chunk {
	now := time.Now()
	modelID := p.embedder.ModelID()

	var chunks []models.Chunk
	ordinal := 0
	for _, section := range st.sections {
		sectionText := st.normalized.Text[section.Start:section.End]
		for _, piece := range p.chunker.Chunk(section.Type, sectionText) {
			start := section.Start + piece.Start
			end := section.Start + piece.End
			text := st.normalized.Text[start:end]

			chunks = append(chunks, models.Chunk{
				ID:          fmt.Sprintf("%s:%04d", st.doc.ID, ordinal),
				DocumentID:  st.doc.ID,
				SectionType: section.Type,
				Ordinal:     ordinal,
				StartOffset: start,
				EndOffset:   end,
				PageStart:   st.normalized.PageOf(start),
				PageEnd:     st.normalized.PageOf(end - 1),
				TokenCount:  piece.TokenCount,
				Text:        text,
				ContentHash: utils.ContentKey(text, modelID),
				CreatedAt:   now,
			})
			ordinal++
		}
	}
	return chunks
}

func (p *Processor) upsert(ctx context.Context, st *runState) error {
	vecChunks := make([]vector.Chunk, len(st.chunks))
	for i, chunk := range st.chunks {
		vecChunks[i] = vector.Chunk{
			ID:          chunk.ID,
			DocumentID:  chunk.DocumentID,
			SectionType: string(chunk.SectionType),
			Ordinal:     chunk.Ordinal,
			PageStart:   chunk.PageStart,
			PageEnd:     chunk.PageEnd,
			Text:        chunk.Text,
			ContentHash: chunk.ContentHash,
			Embedding:   st.vectors[i],
		}
	}

	stats, err := p.index.Upsert(ctx, vecChunks)
	if err != nil {
		return err
	}
	st.stats = stats

	// Stale entries from a previous, longer version of the document.
	if err := p.dropStaleChunks(ctx, st); err != nil {
		return err
	}

	if err := p.store.ReplaceChunks(st.doc.ID, st.chunks); err != nil {
		return err
	}

	p.sparse.RemoveDocument(st.doc.ID)
	for _, chunk := range st.chunks {
		p.sparse.Add(chunk)
	}

	metrics.ChunksUpserted.Add(float64(stats.Inserted + stats.Replaced))
	return nil
}

// dropStaleChunks removes index entries whose ordinal is beyond the new
// chunk count, which happens when a re-indexed document got shorter.
func (p *Processor) dropStaleChunks(ctx context.Context, st *runState) error {
	previous, err := p.store.GetChunksByDocument(st.doc.ID)
	if err != nil {
		return err
	}

	var stale []string
	for _, chunk := range previous {
		if chunk.Ordinal >= len(st.chunks) {
			stale = append(stale, chunk.ID)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := p.index.DeleteChunks(ctx, stale); err != nil {
		return err
	}
	st.stale = len(stale)
	return nil
}
