package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjLee-cmd/test-PatAI/internal/extract"
	"github.com/cjLee-cmd/test-PatAI/internal/retrieval"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/sqlite"
	"github.com/cjLee-cmd/test-PatAI/internal/textproc"
	"github.com/cjLee-cmd/test-PatAI/internal/vector"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

func (f *fakeEmbedder) ModelID() string { return "fake-model" }

type fakeIndex struct {
	mu      sync.Mutex
	entries map[string]vector.Chunk
	version map[string]int64
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: map[string]vector.Chunk{}, version: map[string]int64{}}
}

func (f *fakeIndex) EnsureCollection(ctx context.Context) error { return nil }

func (f *fakeIndex) Upsert(ctx context.Context, chunks []vector.Chunk) (vector.UpsertStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stats vector.UpsertStats
	for _, chunk := range chunks {
		existing, ok := f.entries[chunk.ID]
		switch {
		case !ok:
			f.entries[chunk.ID] = chunk
			f.version[chunk.ID] = 1
			stats.Inserted++
		case existing.ContentHash == chunk.ContentHash:
			stats.Unchanged++
		default:
			f.entries[chunk.ID] = chunk
			f.version[chunk.ID]++
			stats.Replaced++
		}
	}
	return stats, nil
}

func (f *fakeIndex) Search(ctx context.Context, embedding []float32, topK int) ([]vector.Hit, error) {
	return nil, nil
}

func (f *fakeIndex) DeleteChunks(ctx context.Context, chunkIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range chunkIDs {
		delete(f.entries, id)
		delete(f.version, id)
	}
	return nil
}

func (f *fakeIndex) DeleteByDocument(ctx context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, chunk := range f.entries {
		if chunk.DocumentID == documentID {
			delete(f.entries, id)
			delete(f.version, id)
		}
	}
	return nil
}

func (f *fakeIndex) Close() error { return nil }

func (f *fakeIndex) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type fakeAnswerCache struct {
	mu            sync.Mutex
	invalidations int
}

func (f *fakeAnswerCache) InvalidateAnswers(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations++
	return nil
}

type fixture struct {
	store    *sqlite.Client
	service  *Service
	proc     *Processor
	runner   *Runner
	index    *fakeIndex
	embedder *fakeEmbedder
	sparse   *retrieval.SparseIndex
	cache    *fakeAnswerCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	registry := extract.DefaultRegistry()
	index := newFakeIndex()
	sparse := retrieval.NewSparseIndex()
	cache := &fakeAnswerCache{}
	embedder := &fakeEmbedder{}

	service, err := NewService(store, registry, index, sparse, cache, t.TempDir(), 1024*1024)
	require.NoError(t, err)

	chunker := textproc.NewChunker(nil, nil)
	proc := NewProcessor(store, service, registry, chunker, embedder, index, sparse, cache, 3)
	// Keep backoff negligible in tests.
	proc.retryCfg.InitialDelay = time.Millisecond
	proc.retryCfg.MaxDelay = time.Millisecond

	return &fixture{
		store:    store,
		service:  service,
		proc:     proc,
		runner:   NewRunner(store, proc, 1),
		index:    index,
		embedder: embedder,
		sparse:   sparse,
		cache:    cache,
	}
}

func patentHTML() []byte {
	return []byte(`<html><body>
	<p>【발명의 명칭】</p>
	<p>반도체 소자의 제조 방법</p>
	<p>【요약】</p>
	<p>본 발명은 반도체 소자의 제조 방법에 관한 것이다.</p>
	<p>【청구범위】</p>
	<p>【청구항 1】 기판을 준비하는 단계를 포함하는 방법.</p>
	<p>【청구항 2】 제1항에 있어서, 절연막을 형성하는 단계를 더 포함하는 방법.</p>
	<p>【발명의 설명】</p>
	<p>기판 위에 절연막을 형성하고 그 위에 도전막을 형성한다.</p>
	</body></html>`)
}

func (fx *fixture) ingestAndProcess(t *testing.T, data []byte) *models.Document {
	t.Helper()

	doc, job, err := fx.service.Ingest("patent.html", "text/html", data)
	require.NoError(t, err)
	require.NotNil(t, job)

	claimed, err := fx.store.ClaimNextJob()
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)

	fx.runner.runJob(context.Background(), 0, claimed)

	got, err := fx.store.GetDocument(doc.ID)
	require.NoError(t, err)
	return got
}

func TestIngestAndProcessDocument(t *testing.T) {
	fx := newFixture(t)

	doc := fx.ingestAndProcess(t, patentHTML())

	assert.Equal(t, models.DocumentCompleted, doc.Status)
	assert.Greater(t, doc.ChunkCount, 0)
	assert.Equal(t, 1, doc.Version)

	chunks, err := fx.store.GetChunksByDocument(doc.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, doc.ChunkCount)
	assert.Equal(t, doc.ChunkCount, fx.index.len())
	assert.Equal(t, doc.ChunkCount, fx.sparse.Len())

	// Each claim stays its own chunk.
	var claimChunks int
	for _, chunk := range chunks {
		if chunk.SectionType == models.SectionClaims {
			claimChunks++
		}
	}
	assert.Equal(t, 2, claimChunks)

	job, err := fx.store.GetLatestJobByDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, job.Status)
	assert.Equal(t, models.PhaseUpsert, job.Phase)
}

func TestIngestDuplicateReturnsExisting(t *testing.T) {
	fx := newFixture(t)
	doc := fx.ingestAndProcess(t, patentHTML())

	dup, job, err := fx.service.Ingest("renamed.html", "text/html", patentHTML())

	assert.ErrorIs(t, err, ErrDuplicateDocument)
	require.NotNil(t, dup)
	assert.Equal(t, doc.ID, dup.ID)
	assert.Nil(t, job)
}

func TestIngestFileTooLarge(t *testing.T) {
	fx := newFixture(t)
	big := make([]byte, 2*1024*1024)

	_, _, err := fx.service.Ingest("big.html", "text/html", big)

	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestIngestUnsupportedType(t *testing.T) {
	fx := newFixture(t)

	_, _, err := fx.service.Ingest("doc.txt", "text/plain", []byte("hello"))

	assert.ErrorIs(t, err, extract.ErrInvalidDocument)
}

func TestReIndexUnchangedContentIsNoOp(t *testing.T) {
	fx := newFixture(t)
	doc := fx.ingestAndProcess(t, patentHTML())
	versionsBefore := map[string]int64{}
	for id, v := range fx.index.version {
		versionsBefore[id] = v
	}

	job, err := fx.service.ReIndex(doc.ID)
	require.NoError(t, err)

	claimed, err := fx.store.ClaimNextJob()
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	fx.runner.runJob(context.Background(), 0, claimed)

	got, err := fx.store.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCompleted, got.Status)
	assert.Equal(t, 1, got.Version, "unchanged content must not bump the version")
	assert.Equal(t, versionsBefore, fx.index.version, "unchanged chunks must not be rewritten")
}

func TestReIndexWhileJobActive(t *testing.T) {
	fx := newFixture(t)
	doc, _, err := fx.service.Ingest("patent.html", "text/html", patentHTML())
	require.NoError(t, err)

	_, err = fx.service.ReIndex(doc.ID)

	assert.ErrorIs(t, err, ErrJobActive)
}

func TestProcessorRetryBound(t *testing.T) {
	fx := newFixture(t)
	fx.embedder.err = errors.New("embedding runtime down")

	doc, _, err := fx.service.Ingest("patent.html", "text/html", patentHTML())
	require.NoError(t, err)

	claimed, err := fx.store.ClaimNextJob()
	require.NoError(t, err)
	fx.runner.runJob(context.Background(), 0, claimed)

	job, err := fx.store.GetJob(claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, models.PhaseEmbed, job.Phase)
	assert.Equal(t, 3, job.Attempts, "attempts must stop at the configured bound")

	got, err := fx.store.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentFailed, got.Status)
	assert.NotEmpty(t, got.ErrorDetail)
}

func TestCancelPendingJob(t *testing.T) {
	fx := newFixture(t)
	_, job, err := fx.service.Ingest("patent.html", "text/html", patentHTML())
	require.NoError(t, err)

	cancelled, err := fx.service.CancelJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, cancelled.Status)
	assert.Equal(t, "cancelled", cancelled.Reason)

	// Nothing left to claim.
	_, err = fx.store.ClaimNextJob()
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
}

func TestCancelRunningJobStopsAtPhaseBoundary(t *testing.T) {
	fx := newFixture(t)
	_, job, err := fx.service.Ingest("patent.html", "text/html", patentHTML())
	require.NoError(t, err)

	claimed, err := fx.store.ClaimNextJob()
	require.NoError(t, err)

	_, err = fx.service.CancelJob(job.ID)
	require.NoError(t, err)

	err = fx.proc.Process(context.Background(), claimed)
	assert.ErrorIs(t, err, ErrJobCancelled)
}

func TestDeleteDocument(t *testing.T) {
	fx := newFixture(t)
	doc := fx.ingestAndProcess(t, patentHTML())
	require.Greater(t, fx.index.len(), 0)

	require.NoError(t, fx.service.Delete(context.Background(), doc.ID))

	assert.Equal(t, 0, fx.index.len())
	assert.Equal(t, 0, fx.sparse.Len())
	assert.Greater(t, fx.cache.invalidations, 0)

	_, err := fx.service.GetDocument(doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, fx.service.Delete(context.Background(), doc.ID))
	// So is deleting a document that never existed.
	assert.NoError(t, fx.service.Delete(context.Background(), "missing"))
}

func TestDeleteCancelsActiveJob(t *testing.T) {
	fx := newFixture(t)
	doc, job, err := fx.service.Ingest("patent.html", "text/html", patentHTML())
	require.NoError(t, err)

	require.NoError(t, fx.service.Delete(context.Background(), doc.ID))

	got, err := fx.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, got.Status)
	assert.Equal(t, "cancelled", got.Reason)

	_, err = fx.service.GetDocument(doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestReIndexDroppedSectionBumpsVersion(t *testing.T) {
	fx := newFixture(t)
	doc := fx.ingestAndProcess(t, patentHTML())
	require.Greater(t, doc.ChunkCount, 1)
	invalidationsBefore := fx.cache.invalidations

	// Replace the stored file with a version missing the final section.
	// Every retained chunk keeps its text, so the only change is the
	// stale trailing ordinal.
	shrunk := []byte(`<html><body>
	<p>【발명의 명칭】</p>
	<p>반도체 소자의 제조 방법</p>
	<p>【요약】</p>
	<p>본 발명은 반도체 소자의 제조 방법에 관한 것이다.</p>
	<p>【청구범위】</p>
	<p>【청구항 1】 기판을 준비하는 단계를 포함하는 방법.</p>
	<p>【청구항 2】 제1항에 있어서, 절연막을 형성하는 단계를 더 포함하는 방법.</p>
	</body></html>`)
	require.NoError(t, os.WriteFile(fx.service.filePath(doc.ID, doc.OriginalFilename), shrunk, 0o644))

	job, err := fx.service.ReIndex(doc.ID)
	require.NoError(t, err)
	claimed, err := fx.store.ClaimNextJob()
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	fx.runner.runJob(context.Background(), 0, claimed)

	got, err := fx.store.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentCompleted, got.Status)
	assert.Equal(t, doc.ChunkCount-1, got.ChunkCount)
	assert.Equal(t, 2, got.Version, "dropping a chunk is a content change")
	assert.Equal(t, got.ChunkCount, fx.index.len(), "stale chunk must leave the index")
	assert.Greater(t, fx.cache.invalidations, invalidationsBefore,
		"cached answers may cite the dropped chunk")
}

// blindStore hides existing documents from the pre-insert hash lookup,
// forcing the duplicate check down to the unique constraint the way a
// concurrent identical upload would.
type blindStore struct {
	*sqlite.Client
}

func (b blindStore) FindDocumentByHash(contentHash string) (*models.Document, error) {
	return nil, sqlite.ErrNotFound
}

func TestConcurrentIdenticalUploadRace(t *testing.T) {
	fx := newFixture(t)
	service, err := NewService(blindStore{fx.store}, extract.DefaultRegistry(), fx.index, fx.sparse, fx.cache, t.TempDir(), 1024*1024)
	require.NoError(t, err)

	_, _, err = service.Ingest("patent.html", "text/html", patentHTML())
	require.NoError(t, err)

	_, job, err := service.Ingest("patent.html", "text/html", patentHTML())

	assert.ErrorIs(t, err, ErrDuplicateDocument)
	assert.Nil(t, job)
}

func TestDeleteAllowsReupload(t *testing.T) {
	fx := newFixture(t)
	doc := fx.ingestAndProcess(t, patentHTML())
	require.NoError(t, fx.service.Delete(context.Background(), doc.ID))

	again := fx.ingestAndProcess(t, patentHTML())

	assert.NotEqual(t, doc.ID, again.ID)
	assert.Equal(t, models.DocumentCompleted, again.Status)
}

func TestJobStatusNotFound(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.service.JobStatus("missing")

	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestChunkIDsAreDeterministic(t *testing.T) {
	fx := newFixture(t)
	doc := fx.ingestAndProcess(t, patentHTML())

	chunks, err := fx.store.GetChunksByDocument(doc.ID)
	require.NoError(t, err)
	for i, chunk := range chunks {
		assert.Equal(t, fmt.Sprintf("%s:%04d", doc.ID, i), chunk.ID)
		assert.Equal(t, i, chunk.Ordinal)
	}
}
