package models

import "time"

// SectionType classifies a span of patent text. Unrecognized spans are
// tagged Description.
type SectionType string

const (
	SectionTitle       SectionType = "title"
	SectionAbstract    SectionType = "abstract"
	SectionClaims      SectionType = "claims"
	SectionDescription SectionType = "description"
	SectionIPC         SectionType = "ipc"
	SectionCitations   SectionType = "citations"
)

type DocumentStatus string

const (
	DocumentPending    DocumentStatus = "pending"
	DocumentProcessing DocumentStatus = "processing"
	DocumentCompleted  DocumentStatus = "completed"
	DocumentFailed     DocumentStatus = "failed"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// JobPhase names the ingestion stages in execution order.
type JobPhase string

const (
	PhaseExtract JobPhase = "extract"
	PhaseTag     JobPhase = "tag"
	PhaseChunk   JobPhase = "chunk"
	PhaseEmbed   JobPhase = "embed"
	PhaseUpsert  JobPhase = "upsert"
)

// Phases in strict execution order.
var Phases = []JobPhase{PhaseExtract, PhaseTag, PhaseChunk, PhaseEmbed, PhaseUpsert}

type Document struct {
	ID               string
	OriginalFilename string
	ContentHash      string
	FileSize         int64
	MimeType         string
	Status           DocumentStatus
	Version          int
	ChunkCount       int
	ErrorDetail      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

type IngestionJob struct {
	ID          string
	DocumentID  string
	Phase       JobPhase
	Status      JobStatus
	Attempts    int
	ErrorDetail string
	Reason      string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

type Chunk struct {
	ID          string
	DocumentID  string
	SectionType SectionType
	Ordinal     int
	StartOffset int
	EndOffset   int
	PageStart   int
	PageEnd     int
	TokenCount  int
	Text        string
	ContentHash string
	CreatedAt   time.Time
}

// Citation maps an answer's inline marker to the chunk that grounded it.
type Citation struct {
	ID        int64
	AnswerID  string
	ChunkID   string
	Rank      int
	Score     float64
	CreatedAt time.Time
}

type QueryRecord struct {
	ID         string
	QueryText  string
	AnswerText string
	Degraded   bool
	Unverified bool
	LatencyMS  int
	CreatedAt  time.Time
}
