package annotator

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nasher721/Extract721/internal/extraction"
	apperrors "github.com/nasher721/Extract721/pkg/errors"
	"github.com/nasher721/Extract721/pkg/kafka"
	"github.com/nasher721/Extract721/pkg/logger"
)

// JobPublisher queues annotation jobs on Kafka for the worker.
type JobPublisher struct {
	producer kafka.Publisher
	logger   *slog.Logger
}

// NewJobPublisher creates a JobPublisher writing to producer.
func NewJobPublisher(producer kafka.Publisher) *JobPublisher {
	return &JobPublisher{
		producer: producer,
		logger:   slog.Default().With("component", "job-publisher"),
	}
}

// Enqueue assigns job and document ids and publishes the job keyed by
// document id. The API key is dropped before publishing.
func (p *JobPublisher) Enqueue(ctx context.Context, req ExtractRequest) (*JobAccepted, error) {
	job := AnnotateJob{
		JobID:      uuid.NewString(),
		DocumentID: req.DocumentID,
		Request:    req,
		QueuedAt:   time.Now().UTC(),
	}
	if job.DocumentID == "" {
		job.DocumentID = extraction.NewDocumentID()
	}
	job.Request.DocumentID = job.DocumentID
	job.Request.APIKey = ""

	event := kafka.Event{Key: job.DocumentID, Value: job}
	if id := logger.RequestID(ctx); id != "" {
		event.Headers = map[string]string{kafka.HeaderRequestID: id}
	}
	if err := p.producer.Publish(ctx, event); err != nil {
		p.logger.Error("failed to queue annotation job",
			"job_id", job.JobID,
			"document_id", job.DocumentID,
			"error", err,
		)
		return nil, apperrors.New(apperrors.ErrProviderUnavailable, http.StatusServiceUnavailable, "job queue unavailable")
	}
	p.logger.Info("annotation job queued", "job_id", job.JobID, "document_id", job.DocumentID)
	return &JobAccepted{JobID: job.JobID, DocumentID: job.DocumentID, Status: "queued"}, nil
}
