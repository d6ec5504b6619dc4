package ingestion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/extract"
	"github.com/cjLee-cmd/test-PatAI/internal/retrieval"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/sqlite"
	"github.com/cjLee-cmd/test-PatAI/internal/vector"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
	"github.com/cjLee-cmd/test-PatAI/pkg/utils"
)

// Service is the ingestion API: it accepts uploads, enqueues jobs, and
// handles re-index, delete, and job inspection. Actual processing runs
// asynchronously in the Runner.
type Service struct {
	store       Store
	registry    *extract.Registry
	index       vector.Index
	sparse      *retrieval.SparseIndex
	cache       AnswerCache
	dataDir     string
	maxFileSize int
}

func NewService(store Store, registry *extract.Registry, index vector.Index, sparse *retrieval.SparseIndex, cache AnswerCache, dataDir string, maxFileSize int) (*Service, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Service{
		store:       store,
		registry:    registry,
		index:       index,
		sparse:      sparse,
		cache:       cache,
		dataDir:     dataDir,
		maxFileSize: maxFileSize,
	}, nil
}

// Ingest registers an upload and enqueues its processing job. An upload
// whose bytes match a live document returns that document with
// ErrDuplicateDocument and enqueues nothing.
func (s *Service) Ingest(filename, contentType string, data []byte) (*models.Document, *models.IngestionJob, error) {
	if s.maxFileSize > 0 && len(data) > s.maxFileSize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(data))
	}
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: empty file", extract.ErrInvalidDocument)
	}
	if !s.registry.Supports(filename, contentType) {
		return nil, nil, fmt.Errorf("%w: unsupported content type %q", extract.ErrInvalidDocument, contentType)
	}

	contentHash := utils.HashBytes(data)
	if existing, err := s.store.FindDocumentByHash(contentHash); err == nil {
		return existing, nil, ErrDuplicateDocument
	} else if !errors.Is(err, sqlite.ErrNotFound) {
		return nil, nil, err
	}

	now := time.Now()
	doc := &models.Document{
		ID:               uuid.New().String(),
		OriginalFilename: filename,
		ContentHash:      contentHash,
		FileSize:         int64(len(data)),
		MimeType:         contentType,
		Status:           models.DocumentPending,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := os.WriteFile(s.filePath(doc.ID, filename), data, 0o644); err != nil {
		return nil, nil, fmt.Errorf("store upload: %w", err)
	}
	if err := s.store.InsertDocument(doc); err != nil {
		os.Remove(s.filePath(doc.ID, filename))
		if errors.Is(err, sqlite.ErrDuplicate) {
			// A concurrent upload of the same bytes won the insert race.
			if existing, findErr := s.store.FindDocumentByHash(contentHash); findErr == nil {
				return existing, nil, ErrDuplicateDocument
			}
			return nil, nil, ErrDuplicateDocument
		}
		return nil, nil, err
	}

	job, err := s.enqueue(doc.ID)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("Document accepted",
		zap.String("document_id", doc.ID),
		zap.String("filename", filename),
		zap.Int64("size", doc.FileSize),
	)
	return doc, job, nil
}

// ReIndex enqueues a fresh processing run over the stored file. Chunks
// whose content is unchanged will be recognized by their hashes and not
// re-embedded or rewritten.
func (s *Service) ReIndex(documentID string) (*models.IngestionJob, error) {
	if _, err := s.getDocument(documentID); err != nil {
		return nil, err
	}

	active, err := s.store.HasActiveJob(documentID)
	if err != nil {
		return nil, err
	}
	if active {
		return nil, ErrJobActive
	}

	job, err := s.enqueue(documentID)
	if err != nil {
		return nil, err
	}

	logger.Info("Re-index requested", zap.String("document_id", documentID))
	return job, nil
}

// Delete removes a document everywhere: vector index, sparse index,
// chunk rows, stored file, and cached answers. The document row is kept
// soft-deleted so history stays resolvable. Deleting an absent or
// already-deleted document is a no-op; an active ingestion job is
// cancelled cooperatively and the deletion proceeds.
func (s *Service) Delete(ctx context.Context, documentID string) error {
	doc, err := s.getDocument(documentID)
	if errors.Is(err, ErrDocumentNotFound) {
		logger.Debug("Delete of absent document is a no-op", zap.String("document_id", documentID))
		return nil
	}
	if err != nil {
		return err
	}

	active, err := s.store.HasActiveJob(documentID)
	if err != nil {
		return err
	}
	if active {
		job, err := s.store.GetLatestJobByDocument(documentID)
		if err != nil {
			return err
		}
		if _, err := s.store.RequestJobCancel(job.ID); err != nil {
			return err
		}
		logger.Info("Cancelled active job for deletion",
			zap.String("document_id", documentID),
			zap.String("job_id", job.ID),
		)
	}

	if err := s.index.DeleteByDocument(ctx, documentID); err != nil {
		return err
	}
	s.sparse.RemoveDocument(documentID)

	if err := s.store.SoftDeleteDocument(documentID); err != nil {
		return err
	}
	if err := os.Remove(s.filePath(doc.ID, doc.OriginalFilename)); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove stored file", zap.Error(err))
	}

	if err := s.cache.InvalidateAnswers(ctx); err != nil {
		logger.Warn("Failed to invalidate answer cache", zap.Error(err))
	}

	logger.Info("Document deleted", zap.String("document_id", documentID))
	return nil
}

func (s *Service) GetDocument(documentID string) (*models.Document, error) {
	return s.getDocument(documentID)
}

func (s *Service) ListDocuments(limit, offset int) ([]models.Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListDocuments(limit, offset)
}

func (s *Service) JobStatus(jobID string) (*models.IngestionJob, error) {
	job, err := s.store.GetJob(jobID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// CancelJob requests cooperative cancellation. A pending job fails
// immediately; a running one stops at its next phase boundary.
func (s *Service) CancelJob(jobID string) (*models.IngestionJob, error) {
	job, err := s.store.RequestJobCancel(jobID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Job cancellation requested", zap.String("job_id", jobID))
	return job, nil
}

func (s *Service) getDocument(documentID string) (*models.Document, error) {
	doc, err := s.store.GetDocument(documentID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	return doc, err
}

func (s *Service) enqueue(documentID string) (*models.IngestionJob, error) {
	job := &models.IngestionJob{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Phase:      models.PhaseExtract,
		Status:     models.JobPending,
		CreatedAt:  time.Now(),
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) filePath(documentID, filename string) string {
	ext := filepath.Ext(filename)
	return filepath.Join(s.dataDir, documentID+ext)
}

// StoredFile returns the raw upload bytes for processing.
func (s *Service) StoredFile(doc *models.Document) ([]byte, error) {
	return os.ReadFile(s.filePath(doc.ID, doc.OriginalFilename))
}
