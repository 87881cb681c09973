package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Collector records search events into the local aggregator and ships them
// to Kafka in the background. Tracking never blocks: when the buffer is
// full the event still counts locally but is not published.
type Collector struct {
	publisher     Publisher
	aggregator    *Aggregator
	eventCh       chan SearchEvent
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	done          chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewCollector creates a Collector. publisher may be nil, in which case
// events are only aggregated locally.
func NewCollector(publisher Publisher, aggregator *Aggregator, bufferSize, batchSize int, flushInterval time.Duration) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}
	return &Collector{
		publisher:     publisher,
		aggregator:    aggregator,
		eventCh:       make(chan SearchEvent, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Start launches the publish loop. It exits when ctx is cancelled or Close
// is called, publishing whatever is still buffered.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		batch := make([]SearchEvent, 0, c.batchSize)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					c.flush(context.Background(), batch)
					return
				}
				batch = append(batch, event)
				if len(batch) >= c.batchSize {
					batch = c.flush(ctx, batch)
				}
			case <-ticker.C:
				batch = c.flush(ctx, batch)
			case <-ctx.Done():
				c.drainRemaining(batch)
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"buffer_size", cap(c.eventCh),
		"batch_size", c.batchSize,
		"publishing", c.publisher != nil,
	)
}

func (c *Collector) Track(event SearchEvent) {
	if c.aggregator != nil {
		c.aggregator.Record(event)
	}
	if c.publisher == nil {
		return
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("analytics event dropped (buffer full)", "site", event.Site)
	}
}

// Close stops accepting events and waits for the final flush. It must
// follow Start. Events tracked after Close are only aggregated locally.
func (c *Collector) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.eventCh)
	}
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) flush(ctx context.Context, batch []SearchEvent) []SearchEvent {
	if len(batch) == 0 || c.publisher == nil {
		return batch[:0]
	}
	if err := PublishSearchEvents(ctx, c.publisher, batch); err != nil {
		c.logger.Error("failed to publish analytics batch", "events", len(batch), "error", err)
	}
	return make([]SearchEvent, 0, c.batchSize)
}

func (c *Collector) drainRemaining(batch []SearchEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				c.flush(ctx, batch)
				return
			}
			batch = append(batch, event)
		default:
			c.flush(ctx, batch)
			return
		}
	}
}
