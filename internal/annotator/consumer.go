package annotator

import (
	"context"
	"log/slog"
	"time"

	"github.com/nasher721/Extract721/pkg/kafka"
	"github.com/nasher721/Extract721/pkg/logger"
	"github.com/nasher721/Extract721/pkg/metrics"
)

// HandleJob returns a Kafka MessageHandler that runs queued jobs through p
// and publishes an AnnotateResult to results. Undecodable messages and
// failed jobs are logged and committed; only cancellation leaves a message
// uncommitted. results and m may be nil.
func HandleJob(p *Pipeline, results kafka.Publisher, m *metrics.Metrics) kafka.MessageHandler {
	log := slog.Default().With("component", "job-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		job, err := kafka.DecodeJSON[AnnotateJob](value)
		if err != nil {
			log.Error("failed to decode annotation job", "error", err, "key", string(key))
			countJob(m, "invalid")
			return nil
		}

		if id := kafka.HeadersFromContext(ctx)[kafka.HeaderRequestID]; id != "" {
			ctx = logger.WithRequestID(ctx, id)
		}
		ctx = WithJobID(ctx, job.JobID)
		if job.Request.DocumentID == "" {
			job.Request.DocumentID = job.DocumentID
		}

		resp, err := p.Extract(ctx, job.Request)
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		result := AnnotateResult{
			JobID:       job.JobID,
			DocumentID:  job.DocumentID,
			Success:     err == nil,
			CompletedAt: time.Now().UTC(),
		}
		status := "ok"
		if err != nil {
			status = "failed"
			result.Error = err.Error()
			log.Error("annotation job failed", "job_id", job.JobID, "document_id", job.DocumentID, "error", err)
		} else {
			result.Stats = resp.Stats
			log.Info("annotation job done",
				"job_id", job.JobID,
				"document_id", job.DocumentID,
				"extractions", resp.Stats.Extractions,
			)
		}
		countJob(m, status)

		if results == nil {
			return nil
		}
		if err := results.Publish(ctx, kafka.Event{Key: job.DocumentID, Value: result}); err != nil {
			log.Error("failed to publish job result", "job_id", job.JobID, "error", err)
		}
		return nil
	}
}

func countJob(m *metrics.Metrics, status string) {
	if m != nil {
		m.JobsProcessedTotal.WithLabelValues(status).Inc()
	}
}
