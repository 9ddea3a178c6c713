// Package annotator runs documents through the extraction pipeline: chunk,
// prompt, model call, parse, align and merge. It also defines the request
// types of the HTTP API and the Kafka job and result payloads.
package annotator

import (
	"time"

	"github.com/nasher721/Extract721/internal/extraction"
)

// ExtractRequest is the body of POST /api/extract and the payload of a
// queued job. Optional chunking fields override the service defaults.
type ExtractRequest struct {
	Text               string                   `json:"text"`
	Prompt             string                   `json:"prompt"`
	Examples           []extraction.ExampleData `json:"examples"`
	ModelID            string                   `json:"model_id,omitempty"`
	Provider           string                   `json:"provider,omitempty"`
	APIKey             string                   `json:"api_key,omitempty"`
	AdditionalContext  string                   `json:"additional_context,omitempty"`
	DocumentID         string                   `json:"document_id,omitempty"`
	MaxChunkTokens     *int                     `json:"max_chunk_tokens,omitempty"`
	OverlapTokens      *int                     `json:"overlap_tokens,omitempty"`
	ContextWindowChars *int                     `json:"context_window_chars,omitempty"`
}

// Stats summarises one pipeline run.
type Stats struct {
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Chunks       int            `json:"chunks"`
	FailedChunks int            `json:"failed_chunks"`
	Extractions  int            `json:"extractions"`
	StatusCounts map[string]int `json:"status_counts"`
	PromptTokens int            `json:"prompt_tokens"`
	TotalTokens  int            `json:"total_tokens"`
	LatencyMs    int64          `json:"latency_ms"`
	Cached       bool           `json:"cached"`
}

// ChunkError reports a chunk whose model call or parse failed.
type ChunkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ExtractResponse is returned by POST /api/extract.
type ExtractResponse struct {
	Success     bool                          `json:"success"`
	Document    *extraction.AnnotatedDocument `json:"document"`
	Stats       Stats                         `json:"stats"`
	ChunkErrors []ChunkError                  `json:"chunk_errors,omitempty"`
}

// SchemaField names one field of a structured extraction.
type SchemaField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// StructuredRequest is the body of POST /api/extract-structured.
type StructuredRequest struct {
	Text             string        `json:"text"`
	ExtractionSchema []SchemaField `json:"extraction_schema"`
	ModelID          string        `json:"model_id,omitempty"`
	Provider         string        `json:"provider,omitempty"`
	APIKey           string        `json:"api_key,omitempty"`
}

// ClinicalRequest is the body of POST /api/clinical-extract.
type ClinicalRequest struct {
	NoteText string `json:"note_text"`
	ModelID  string `json:"model_id,omitempty"`
	Provider string `json:"provider,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

// ClinicalResult holds the parsed sections and the raw model output. When
// the output is not JSON, Data carries raw_text and _parse_error instead.
type ClinicalResult struct {
	Data map[string]any
	Raw  string
}

// BatchItem is one text of a batch request.
type BatchItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// BatchRequest is the body of POST /api/extract-batch.
type BatchRequest struct {
	Items            []BatchItem   `json:"items"`
	ExtractionSchema []SchemaField `json:"extraction_schema"`
	ModelID          string        `json:"model_id,omitempty"`
	Provider         string        `json:"provider,omitempty"`
	APIKey           string        `json:"api_key,omitempty"`
}

// BatchItemResult is the outcome for one item. A failed item carries Error
// and an empty Data.
type BatchItemResult struct {
	ID      string         `json:"id"`
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Error   string         `json:"error,omitempty"`
}

// AnnotateJob is the Kafka payload queued by POST /api/jobs. The request
// never carries an API key; workers use their configured keys.
type AnnotateJob struct {
	JobID      string         `json:"job_id"`
	DocumentID string         `json:"document_id"`
	Request    ExtractRequest `json:"request"`
	QueuedAt   time.Time      `json:"queued_at"`
}

// JobAccepted is returned by POST /api/jobs.
type JobAccepted struct {
	JobID      string `json:"job_id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// AnnotateResult is published once a job finishes.
type AnnotateResult struct {
	JobID       string    `json:"job_id"`
	DocumentID  string    `json:"document_id"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	Stats       Stats     `json:"stats"`
	CompletedAt time.Time `json:"completed_at"`
}
