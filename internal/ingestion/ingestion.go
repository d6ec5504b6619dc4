package ingestion

import (
	"context"
	"errors"

	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
)

var (
	ErrDuplicateDocument = errors.New("duplicate document")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobActive         = errors.New("document has an active ingestion job")
	ErrFileTooLarge      = errors.New("file exceeds size limit")
	ErrJobCancelled      = errors.New("job cancelled")
)

// Store is the persistence surface the ingestion side needs. The
// SQLite client satisfies it.
type Store interface {
	InsertDocument(doc *models.Document) error
	GetDocument(id string) (*models.Document, error)
	FindDocumentByHash(contentHash string) (*models.Document, error)
	ListDocuments(limit, offset int) ([]models.Document, error)
	UpdateDocumentStatus(id string, status models.DocumentStatus, errorDetail string) error
	MarkDocumentCompleted(id string, chunkCount, version int) error
	SoftDeleteDocument(id string) error

	ReplaceChunks(documentID string, chunks []models.Chunk) error
	GetChunksByDocument(documentID string) ([]models.Chunk, error)

	CreateJob(job *models.IngestionJob) error
	GetJob(id string) (*models.IngestionJob, error)
	GetLatestJobByDocument(documentID string) (*models.IngestionJob, error)
	HasActiveJob(documentID string) (bool, error)
	ClaimNextJob() (*models.IngestionJob, error)
	UpdateJobPhase(id string, phase models.JobPhase, attempts int) error
	FinishJob(id string, status models.JobStatus, errorDetail, reason string) error
	RequestJobCancel(id string) (*models.IngestionJob, error)
	CancelRequested(id string) (bool, error)
}

// Embedder is the cache-through embedding client.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	ModelID() string
}

// AnswerCache invalidates cached answers when the corpus changes.
type AnswerCache interface {
	InvalidateAnswers(ctx context.Context) error
}
