// Package metering provides per-tenant usage collection for IronLayer.
// Events buffer in memory and flush to a sink in the background; the
// whole pipeline is best-effort telemetry, never an audit trail.
package metering

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ironlayer/ironlayer/pkg/contracts"
)

const (
	// DefaultMaxBufferSize triggers a flush when the buffer reaches it.
	DefaultMaxBufferSize = 100
	// DefaultFlushInterval is the background flush period.
	DefaultFlushInterval = 5 * time.Second
)

// Sink receives drained event batches.
type Sink interface {
	Flush(ctx context.Context, events []contracts.MeteringEvent) error
}

// Collector buffers usage events. Record never blocks on the sink: the
// buffer is drained before the sink call, so a slow sink only delays
// its own batch. Sink failures are logged and the batch is dropped.
type Collector struct {
	sink          Sink
	maxBufferSize int
	flushInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu     sync.Mutex
	buffer []contracts.MeteringEvent

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	running   bool
}

// Option configures a Collector.
type Option func(*Collector)

// WithMaxBufferSize overrides the size-based flush trigger.
func WithMaxBufferSize(n int) Option {
	return func(c *Collector) { c.maxBufferSize = n }
}

// WithFlushInterval overrides the background flush period.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Collector) { c.flushInterval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// NewCollector creates a collector. Call StartBackgroundFlush to begin
// periodic flushing.
func NewCollector(sink Sink, opts ...Option) *Collector {
	c := &Collector{
		sink:          sink,
		maxBufferSize: DefaultMaxBufferSize,
		flushInterval: DefaultFlushInterval,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record buffers one usage event. Quantity zero is recorded as one.
func (c *Collector) Record(tenantID string, event contracts.MeteringEventType, quantity int64, metadata map[string]string) {
	if tenantID == "" || event == "" {
		return
	}
	if quantity == 0 {
		quantity = 1
	}
	now := c.now().UTC()
	e := contracts.MeteringEvent{
		EventID:   "evt-" + uuid.New().String(),
		TenantID:  tenantID,
		EventType: event,
		Quantity:  quantity,
		UsageDate: now.Format("2006-01-02"),
		Metadata:  metadata,
		Timestamp: now,
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, e)
	full := len(c.buffer) >= c.maxBufferSize
	c.mu.Unlock()

	if full {
		c.Flush(context.Background())
	}
}

// RecordCost buffers an AI-call event carrying a USD cost.
func (c *Collector) RecordCost(tenantID string, event contracts.MeteringEventType, costUSD float64, metadata map[string]string) {
	if tenantID == "" || event == "" {
		return
	}
	now := c.now().UTC()
	e := contracts.MeteringEvent{
		EventID:   "evt-" + uuid.New().String(),
		TenantID:  tenantID,
		EventType: event,
		Quantity:  1,
		CostUSD:   costUSD,
		UsageDate: now.Format("2006-01-02"),
		Metadata:  metadata,
		Timestamp: now,
	}

	c.mu.Lock()
	c.buffer = append(c.buffer, e)
	full := len(c.buffer) >= c.maxBufferSize
	c.mu.Unlock()

	if full {
		c.Flush(context.Background())
	}
}

// Flush drains the buffer and hands the batch to the sink. The buffer
// is cleared before the sink call; on sink error the events are logged
// and dropped.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if err := c.sink.Flush(ctx, batch); err != nil {
		c.logger.Error("metering flush failed, dropping events",
			"count", len(batch), "error", err)
	}
}

// StartBackgroundFlush spawns the periodic flusher. Idempotent.
func (c *Collector) StartBackgroundFlush() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	go c.loop(ctx)
}

// StopBackgroundFlush stops the flusher and performs a final flush.
// Idempotent; call during graceful shutdown.
func (c *Collector) StopBackgroundFlush() {
	c.lifecycle.Lock()
	if !c.running {
		c.lifecycle.Unlock()
		return
	}
	c.running = false
	cancel, done := c.cancel, c.done
	c.lifecycle.Unlock()

	cancel()
	<-done
	c.Flush(context.Background())
}

func (c *Collector) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Flush(ctx)
		}
	}
}

// BufferedCount reports the current buffer depth.
func (c *Collector) BufferedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}
