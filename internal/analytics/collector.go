package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nasher721/Extract721/pkg/kafka"
)

// Collector buffers alignment events and publishes them to Kafka in
// batches, when batchSize events are waiting or every flushInterval.
// Track never blocks; events are dropped when the buffer is full.
type Collector struct {
	publisher     kafka.Publisher
	eventCh       chan AlignmentEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}
	closeOnce     sync.Once

	// local, when set, sees every tracked event in-process.
	local *Aggregator
}

// NewCollector creates a Collector. agg may be nil.
func NewCollector(publisher kafka.Publisher, bufferSize int, flushInterval time.Duration, agg *Aggregator) *Collector {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		eventCh:       make(chan AlignmentEvent, bufferSize),
		batchSize:     max(bufferSize/10, 1),
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
		local:         agg,
	}
}

// Start launches the publish loop. It returns immediately; the loop exits
// after a final flush when ctx is cancelled or Close is called.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()

		batch := make([]kafka.Event, 0, c.batchSize)
		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				return
			}
			if err := c.publisher.PublishBatch(ctx, batch); err != nil {
				c.logger.Error("failed to publish alignment events", "events", len(batch), "error", err)
			}
			batch = batch[:0]
		}

		for {
			select {
			case ev, ok := <-c.eventCh:
				if !ok {
					flush(context.Background())
					return
				}
				batch = append(batch, kafka.Event{Key: ev.DocumentID, Value: ev})
				if len(batch) >= c.batchSize {
					flush(ctx)
				}
			case <-ticker.C:
				flush(ctx)
			case <-ctx.Done():
				drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			drain:
				for {
					select {
					case ev, ok := <-c.eventCh:
						if !ok {
							break drain
						}
						batch = append(batch, kafka.Event{Key: ev.DocumentID, Value: ev})
					default:
						break drain
					}
				}
				flush(drainCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh), "flush_interval", c.flushInterval)
}

// Track queues ev for publishing.
func (c *Collector) Track(ev AlignmentEvent) {
	if c.local != nil {
		c.local.Record(ev)
	}
	select {
	case c.eventCh <- ev:
	default:
		c.logger.Warn("alignment event dropped (buffer full)", "doc_id", ev.DocumentID)
	}
}

// Close flushes queued events and waits for the loop to stop. Start must
// have been called.
func (c *Collector) Close() {
	c.closeOnce.Do(func() { close(c.eventCh) })
	<-c.done
}
