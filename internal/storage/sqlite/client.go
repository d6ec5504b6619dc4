package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cjLee-cmd/test-PatAI/internal/storage/models"
	"github.com/cjLee-cmd/test-PatAI/pkg/logger"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate marks a unique-constraint violation, raised when two
	// concurrent uploads of the same bytes race past the hash lookup.
	ErrDuplicate = errors.New("duplicate")
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	// Immediate transactions make concurrent job claims serialize on the
	// write lock instead of failing the snapshot upgrade.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		original_filename TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		file_size INTEGER NOT NULL,
		mime_type TEXT,
		status TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		error_detail TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_hash
		ON documents(content_hash) WHERE deleted_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		section_type TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		page_start INTEGER NOT NULL,
		page_end INTEGER NOT NULL,
		token_count INTEGER NOT NULL,
		text TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS ingestion_jobs (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		phase TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error_detail TEXT,
		reason TEXT,
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		finished_at INTEGER,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON ingestion_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_document ON ingestion_jobs(document_id);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		answer_text TEXT,
		degraded INTEGER NOT NULL DEFAULT 0,
		unverified INTEGER NOT NULL DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS citations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		answer_id TEXT NOT NULL,
		chunk_id TEXT NOT NULL,
		rank INTEGER NOT NULL,
		score REAL NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (answer_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_citations_answer ON citations(answer_id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, original_filename, content_hash, file_size, mime_type,
			status, version, chunk_count, error_detail, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.OriginalFilename,
		doc.ContentHash,
		doc.FileSize,
		doc.MimeType,
		string(doc.Status),
		doc.Version,
		doc.ChunkCount,
		doc.ErrorDetail,
		doc.CreatedAt.Unix(),
		doc.UpdatedAt.Unix(),
	)

	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: content hash %s", ErrDuplicate, doc.ContentHash)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("document_id", doc.ID), zap.String("filename", doc.OriginalFilename))
	return nil
}

const documentColumns = `id, original_filename, content_hash, file_size, mime_type,
	status, version, chunk_count, error_detail, created_at, updated_at, deleted_at`

func scanDocument(row interface{ Scan(...interface{}) error }) (*models.Document, error) {
	var doc models.Document
	var errorDetail sql.NullString
	var createdAt, updatedAt int64
	var deletedAt sql.NullInt64

	err := row.Scan(
		&doc.ID,
		&doc.OriginalFilename,
		&doc.ContentHash,
		&doc.FileSize,
		&doc.MimeType,
		&doc.Status,
		&doc.Version,
		&doc.ChunkCount,
		&errorDetail,
		&createdAt,
		&updatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.ErrorDetail = errorDetail.String
	doc.CreatedAt = time.Unix(createdAt, 0)
	doc.UpdatedAt = time.Unix(updatedAt, 0)
	if deletedAt.Valid {
		t := time.Unix(deletedAt.Int64, 0)
		doc.DeletedAt = &t
	}
	return &doc, nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	row := c.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE id = ? AND deleted_at IS NULL`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// FindDocumentByHash looks up a live document by content hash. Used to
// detect duplicate uploads before any processing starts.
func (c *Client) FindDocumentByHash(contentHash string) (*models.Document, error) {
	row := c.db.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE content_hash = ? AND deleted_at IS NULL`, contentHash)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find document by hash: %w", err)
	}
	return doc, nil
}

func (c *Client) ListDocuments(limit, offset int) ([]models.Document, error) {
	rows, err := c.db.Query(`
		SELECT `+documentColumns+` FROM documents
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (c *Client) UpdateDocumentStatus(id string, status models.DocumentStatus, errorDetail string) error {
	result, err := c.db.Exec(`
		UPDATE documents SET status = ?, error_detail = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, string(status), errorDetail, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkDocumentCompleted finalizes a successful ingestion run.
func (c *Client) MarkDocumentCompleted(id string, chunkCount, version int) error {
	result, err := c.db.Exec(`
		UPDATE documents SET status = ?, chunk_count = ?, version = ?, error_detail = '', updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, string(models.DocumentCompleted), chunkCount, version, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to mark document completed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteDocument marks the document deleted and drops its chunks.
// The row itself stays so the history keeps resolving.
func (c *Client) SoftDeleteDocument(id string) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE documents SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`, time.Now().Unix(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to soft delete document: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM chunks WHERE document_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	logger.Info("Document soft deleted", zap.String("document_id", id))
	return nil
}

// ReplaceChunks swaps the full chunk set of a document in one
// transaction so readers never observe a half-written set.
func (c *Client) ReplaceChunks(documentID string, chunks []models.Chunk) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to delete old chunks: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, document_id, section_type, ordinal, start_offset, end_offset,
			page_start, page_end, token_count, text, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		_, err := stmt.Exec(
			chunk.ID,
			chunk.DocumentID,
			string(chunk.SectionType),
			chunk.Ordinal,
			chunk.StartOffset,
			chunk.EndOffset,
			chunk.PageStart,
			chunk.PageEnd,
			chunk.TokenCount,
			chunk.Text,
			chunk.ContentHash,
			chunk.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

const chunkColumns = `id, document_id, section_type, ordinal, start_offset, end_offset,
	page_start, page_end, token_count, text, content_hash, created_at`

func scanChunks(rows *sql.Rows) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for rows.Next() {
		var chunk models.Chunk
		var createdAt int64

		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.SectionType,
			&chunk.Ordinal,
			&chunk.StartOffset,
			&chunk.EndOffset,
			&chunk.PageStart,
			&chunk.PageEnd,
			&chunk.TokenCount,
			&chunk.Text,
			&chunk.ContentHash,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		chunk.CreatedAt = time.Unix(createdAt, 0)
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (c *Client) GetChunksByDocument(documentID string) ([]models.Chunk, error) {
	rows, err := c.db.Query(`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetChunksByIDs loads chunks by id. The query path uses it to swap the
// bounded index copy of chunk text for the authoritative stored text.
func (c *Client) GetChunksByIDs(ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := c.db.Query(`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// GetAllChunks streams every live chunk, used to rebuild the sparse
// index at startup.
func (c *Client) GetAllChunks() ([]models.Chunk, error) {
	rows, err := c.db.Query(`
		SELECT ` + chunkColumns + ` FROM chunks
		WHERE document_id IN (SELECT id FROM documents WHERE deleted_at IS NULL)
		ORDER BY document_id, ordinal
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

func (c *Client) CreateJob(job *models.IngestionJob) error {
	query := `
		INSERT INTO ingestion_jobs (id, document_id, phase, status, attempts, error_detail, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		job.ID,
		job.DocumentID,
		string(job.Phase),
		string(job.Status),
		job.Attempts,
		job.ErrorDetail,
		job.Reason,
		job.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	logger.Debug("Ingestion job created",
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
	)
	return nil
}

const jobColumns = `id, document_id, phase, status, attempts, error_detail, reason, created_at, started_at, finished_at`

func scanJob(row interface{ Scan(...interface{}) error }) (*models.IngestionJob, error) {
	var job models.IngestionJob
	var errorDetail, reason sql.NullString
	var createdAt int64
	var startedAt, finishedAt sql.NullInt64

	err := row.Scan(
		&job.ID,
		&job.DocumentID,
		&job.Phase,
		&job.Status,
		&job.Attempts,
		&errorDetail,
		&reason,
		&createdAt,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ErrorDetail = errorDetail.String
	job.Reason = reason.String
	job.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		job.StartedAt = &t
	}
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		job.FinishedAt = &t
	}
	return &job, nil
}

func (c *Client) GetJob(id string) (*models.IngestionJob, error) {
	row := c.db.QueryRow(`SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetLatestJobByDocument returns the most recent job for a document.
func (c *Client) GetLatestJobByDocument(documentID string) (*models.IngestionJob, error) {
	row := c.db.QueryRow(`
		SELECT `+jobColumns+` FROM ingestion_jobs
		WHERE document_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, documentID)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// HasActiveJob reports whether the document already has a pending or
// running job. Enqueue-time guard against double processing.
func (c *Client) HasActiveJob(documentID string) (bool, error) {
	var count int
	err := c.db.QueryRow(`
		SELECT COUNT(*) FROM ingestion_jobs
		WHERE document_id = ? AND status IN ('pending', 'running')
	`, documentID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check active jobs: %w", err)
	}
	return count > 0, nil
}

// ClaimNextJob atomically takes the oldest pending job whose document
// has no other running job, marking it running. Returns ErrNotFound
// when nothing is claimable. The single transaction is what enforces
// one in-flight job per document across workers.
func (c *Client) ClaimNextJob() (*models.IngestionJob, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT ` + jobColumns + ` FROM ingestion_jobs j
		WHERE j.status = 'pending'
		AND NOT EXISTS (
			SELECT 1 FROM ingestion_jobs r
			WHERE r.document_id = j.document_id AND r.status = 'running'
		)
		ORDER BY j.created_at, j.id
		LIMIT 1
	`)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select pending job: %w", err)
	}

	now := time.Now()
	result, err := tx.Exec(`
		UPDATE ingestion_jobs SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'pending'
	`, now.Unix(), job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Another worker claimed it between the select and the update.
		return nil, ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	job.Status = models.JobRunning
	job.StartedAt = &now
	return job, nil
}

// UpdateJobPhase records phase progress of a running job.
func (c *Client) UpdateJobPhase(id string, phase models.JobPhase, attempts int) error {
	_, err := c.db.Exec(`
		UPDATE ingestion_jobs SET phase = ?, attempts = ?
		WHERE id = ?
	`, string(phase), attempts, id)
	if err != nil {
		return fmt.Errorf("failed to update job phase: %w", err)
	}
	return nil
}

func (c *Client) FinishJob(id string, status models.JobStatus, errorDetail, reason string) error {
	_, err := c.db.Exec(`
		UPDATE ingestion_jobs SET status = ?, error_detail = ?, reason = ?, finished_at = ?
		WHERE id = ?
	`, string(status), errorDetail, reason, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}

// RequestJobCancel flags a pending or running job for cancellation.
// A pending job is failed immediately; a running one is stopped by the
// worker at the next phase boundary.
func (c *Client) RequestJobCancel(id string) (*models.IngestionJob, error) {
	job, err := c.GetJob(id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.JobPending:
		if err := c.FinishJob(id, models.JobFailed, "", "cancelled"); err != nil {
			return nil, err
		}
	case models.JobRunning:
		if _, err := c.db.Exec(`UPDATE ingestion_jobs SET reason = 'cancel_requested' WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("failed to request cancel: %w", err)
		}
	}
	return c.GetJob(id)
}

// CancelRequested is polled by workers at phase boundaries.
func (c *Client) CancelRequested(id string) (bool, error) {
	var reason sql.NullString
	err := c.db.QueryRow(`SELECT reason FROM ingestion_jobs WHERE id = ?`, id).Scan(&reason)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read job reason: %w", err)
	}
	return reason.String == "cancel_requested", nil
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, query_text, answer_text, degraded, unverified, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	degraded := 0
	if record.Degraded {
		degraded = 1
	}
	unverified := 0
	if record.Unverified {
		unverified = 1
	}

	_, err := c.db.Exec(
		query,
		record.ID,
		record.QueryText,
		record.AnswerText,
		degraded,
		unverified,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.Int("latency_ms", record.LatencyMS),
		zap.Bool("degraded", record.Degraded),
	)
	return nil
}

func (c *Client) InsertCitation(citation *models.Citation) error {
	query := `INSERT INTO citations (answer_id, chunk_id, rank, score, created_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		citation.AnswerID,
		citation.ChunkID,
		citation.Rank,
		citation.Score,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert citation: %w", err)
	}
	return nil
}

func (c *Client) GetCitations(answerID string) ([]models.Citation, error) {
	rows, err := c.db.Query(`
		SELECT id, answer_id, chunk_id, rank, score, created_at
		FROM citations WHERE answer_id = ? ORDER BY rank
	`, answerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get citations: %w", err)
	}
	defer rows.Close()

	var citations []models.Citation
	for rows.Next() {
		var cit models.Citation
		var createdAt int64

		if err := rows.Scan(&cit.ID, &cit.AnswerID, &cit.ChunkID, &cit.Rank, &cit.Score, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		cit.CreatedAt = time.Unix(createdAt, 0)
		citations = append(citations, cit)
	}
	return citations, rows.Err()
}

func (c *Client) GetQueryHistory(limit int) ([]models.QueryRecord, error) {
	rows, err := c.db.Query(`
		SELECT id, query_text, answer_text, degraded, unverified, latency_ms, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryRecord
	for rows.Next() {
		var r models.QueryRecord
		var degraded, unverified int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.QueryText, &r.AnswerText, &degraded, &unverified, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		r.Degraded = degraded == 1
		r.Unverified = unverified == 1
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	return records, rows.Err()
}
