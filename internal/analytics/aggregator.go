package analytics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nasher721/Extract721/pkg/kafka"
)

// maxLatencySamples bounds the latency reservoir; older samples are
// discarded first.
const maxLatencySamples = 10000

// AlignmentStats is the aggregate view served by the analytics API.
type AlignmentStats struct {
	TotalDocuments     int64            `json:"total_documents"`
	FailedDocuments    int64            `json:"failed_documents"`
	CachedDocuments    int64            `json:"cached_documents"`
	TotalChunks        int64            `json:"total_chunks"`
	FailedChunks       int64            `json:"failed_chunks"`
	TotalExtractions   int64            `json:"total_extractions"`
	StatusDistribution map[string]int64 `json:"status_distribution"`
	AlignedRate        float64          `json:"aligned_rate"`
	AvgChunksPerDoc    float64          `json:"avg_chunks_per_doc"`
	AvgLatencyMs       float64          `json:"avg_latency_ms"`
	P50LatencyMs       int64            `json:"p50_latency_ms"`
	P95LatencyMs       int64            `json:"p95_latency_ms"`
	P99LatencyMs       int64            `json:"p99_latency_ms"`
	TopClasses         []ClassCount     `json:"top_classes"`
	ByProvider         map[string]int64 `json:"by_provider"`
	DocumentsPerMinute float64          `json:"documents_per_minute"`
}

type ClassCount struct {
	Class string `json:"class"`
	Count int64  `json:"count"`
}

// Aggregator accumulates AlignmentEvents in memory.
type Aggregator struct {
	mu        sync.RWMutex
	docs      int64
	failed    int64
	cached    int64
	chunks    int64
	failedChk int64
	extracts  int64
	statuses  map[string]int64
	classes   map[string]int64
	providers map[string]int64
	latencies []int64
	startTime time.Time
	logger    *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		statuses:  make(map[string]int64),
		classes:   make(map[string]int64),
		providers: make(map[string]int64),
		latencies: make([]int64, 0, 1024),
		startTime: time.Now(),
		logger:    slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent returns a Kafka handler feeding agg. Undecodable messages are
// logged and skipped.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[AlignmentEvent](value)
		if err != nil {
			agg.logger.Error("failed to decode alignment event", "error", err, "key", string(key))
			return nil
		}
		agg.Record(event)
		return nil
	}
}

// Record adds one event.
func (a *Aggregator) Record(ev AlignmentEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.docs++
	if ev.Type == EventDocumentFailed {
		a.failed++
	}
	if ev.Cached {
		a.cached++
	}
	a.chunks += int64(ev.Chunks)
	a.failedChk += int64(ev.FailedChunks)
	a.extracts += int64(ev.Extractions)
	for status, n := range ev.StatusCounts {
		a.statuses[status] += int64(n)
	}
	for class, n := range ev.Classes {
		a.classes[class] += int64(n)
	}
	if ev.Provider != "" {
		a.providers[ev.Provider]++
	}
	if !ev.Cached {
		if len(a.latencies) == maxLatencySamples {
			copy(a.latencies, a.latencies[1:])
			a.latencies = a.latencies[:maxLatencySamples-1]
		}
		a.latencies = append(a.latencies, ev.LatencyMs)
	}
}

// Track records ev in-process, for deployments without a Kafka broker.
func (a *Aggregator) Track(ev AlignmentEvent) {
	a.Record(ev)
}

// Stats returns a snapshot of the aggregate.
func (a *Aggregator) Stats() AlignmentStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AlignmentStats{
		TotalDocuments:     a.docs,
		FailedDocuments:    a.failed,
		CachedDocuments:    a.cached,
		TotalChunks:        a.chunks,
		FailedChunks:       a.failedChk,
		TotalExtractions:   a.extracts,
		StatusDistribution: copyCounts(a.statuses),
		ByProvider:         copyCounts(a.providers),
		TopClasses:         topN(a.classes, 10),
	}
	if a.extracts > 0 {
		stats.AlignedRate = float64(a.extracts-a.statuses["unaligned"]) / float64(a.extracts)
	}
	if a.docs > 0 {
		stats.AvgChunksPerDoc = float64(a.chunks) / float64(a.docs)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	if elapsed := time.Since(a.startTime).Minutes(); elapsed > 0 {
		stats.DocumentsPerMinute = float64(a.docs) / elapsed
	}
	return stats
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []ClassCount {
	result := make([]ClassCount, 0, len(counts))
	for class, count := range counts {
		result = append(result, ClassCount{Class: class, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Class < result[j].Class
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
