package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler exposes an Aggregator over HTTP. The annotator mounts it at
// GET /api/analytics for its own traffic; cmd/analytics mounts it over the
// stats folded from the Kafka alignment events.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-handler"),
	}
}

// Stats writes a fresh AlignmentStats snapshot. Responses are marked
// uncacheable since the counters move with every annotated document.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats := h.aggregator.Stats()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(stats); err != nil {
		h.logger.Error("failed to write alignment stats", "error", err,
			"documents", stats.TotalDocuments)
	}
}
