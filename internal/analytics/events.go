// Package analytics records one event per annotated document and aggregates
// alignment quality across documents: status distribution, chunk counts,
// latency percentiles and the most extracted classes.
package analytics

import (
	"time"

	"github.com/nasher721/Extract721/internal/extraction"
)

type EventType string

const (
	EventDocumentAnnotated EventType = "document_annotated"
	EventDocumentFailed    EventType = "document_failed"
)

// AlignmentEvent summarises one pipeline run.
type AlignmentEvent struct {
	Type         EventType      `json:"type"`
	DocumentID   string         `json:"document_id"`
	JobID        string         `json:"job_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Chunks       int            `json:"chunks"`
	FailedChunks int            `json:"failed_chunks"`
	Extractions  int            `json:"extractions"`
	StatusCounts map[string]int `json:"status_counts"`
	Classes      map[string]int `json:"classes"`
	PromptTokens int            `json:"prompt_tokens"`
	LatencyMs    int64          `json:"latency_ms"`
	Cached       bool           `json:"cached"`
	Error        string         `json:"error,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// NewAlignmentEvent fills the extraction tallies from doc.
func NewAlignmentEvent(doc *extraction.AnnotatedDocument) AlignmentEvent {
	ev := AlignmentEvent{
		Type:         EventDocumentAnnotated,
		StatusCounts: map[string]int{},
		Classes:      map[string]int{},
		Timestamp:    time.Now().UTC(),
	}
	if doc == nil {
		return ev
	}
	ev.DocumentID = doc.DocumentID
	ev.Extractions = len(doc.Extractions)
	ev.StatusCounts = doc.StatusCounts()
	for i := range doc.Extractions {
		ev.Classes[doc.Extractions[i].ExtractionClass]++
	}
	return ev
}
