package ingestion

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/metrics"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
	"github.com/cjLee-cmd/test-PatAI/internal/storage/sqlite"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

// Runner polls the job table with a fixed worker pool. The claim query
// is what serializes work per document; workers themselves are
// independent.
type Runner struct {
	store        Store
	processor    *Processor
	workers      int
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRunner(store Store, processor *Processor, workers int) *Runner {
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		store:        store,
		processor:    processor,
		workers:      workers,
		pollInterval: time.Second,
	}
}

func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	logger.Info("Ingestion runner started", zap.Int("workers", r.workers))
}

// Stop waits for in-flight jobs to reach a phase boundary and exit.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	logger.Info("Ingestion runner stopped")
}

func (r *Runner) worker(ctx context.Context, id int) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := r.store.ClaimNextJob()
		if errors.Is(err, sqlite.ErrNotFound) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}
		if err != nil {
			logger.Error("Failed to claim job", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}

		r.runJob(ctx, id, job)
	}
}

func (r *Runner) runJob(ctx context.Context, workerID int, job *models.IngestionJob) {
	logger.Info("Job started",
		zap.Int("worker", workerID),
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
	)

	err := r.processor.Process(ctx, job)
	switch {
	case err == nil:
		if err := r.store.FinishJob(job.ID, models.JobSucceeded, "", ""); err != nil {
			logger.Error("Failed to finish job", zap.Error(err))
		}
		metrics.IngestionJobsTotal.WithLabelValues("succeeded").Inc()
		logger.Info("Job succeeded", zap.String("job_id", job.ID))

	case errors.Is(err, ErrJobCancelled) || errors.Is(err, context.Canceled):
		if err := r.store.FinishJob(job.ID, models.JobFailed, "", "cancelled"); err != nil {
			logger.Error("Failed to finish job", zap.Error(err))
		}
		if err := r.store.UpdateDocumentStatus(job.DocumentID, models.DocumentFailed, "ingestion cancelled"); err != nil {
			logger.Warn("Failed to update document status", zap.Error(err))
		}
		metrics.IngestionJobsTotal.WithLabelValues("cancelled").Inc()
		logger.Info("Job cancelled", zap.String("job_id", job.ID))

	default:
		if finishErr := r.store.FinishJob(job.ID, models.JobFailed, err.Error(), "error"); finishErr != nil {
			logger.Error("Failed to finish job", zap.Error(finishErr))
		}
		if statusErr := r.store.UpdateDocumentStatus(job.DocumentID, models.DocumentFailed, err.Error()); statusErr != nil {
			logger.Warn("Failed to update document status", zap.Error(statusErr))
		}
		metrics.IngestionJobsTotal.WithLabelValues("failed").Inc()
		logger.Error("Job failed",
			zap.String("job_id", job.ID),
			zap.String("document_id", job.DocumentID),
			zap.Error(err),
		)
	}
}
