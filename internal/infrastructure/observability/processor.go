package observability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// BatchOptions configures a BatchSpanProcessor.
type BatchOptions struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	ExportTimeout time.Duration
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.QueueSize <= 0 {
		o.QueueSize = 2048
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 512
	}
	if o.BatchSize > o.QueueSize {
		o.BatchSize = o.QueueSize
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.ExportTimeout <= 0 {
		o.ExportTimeout = 30 * time.Second
	}
	return o
}

// ProcessorStats counts spans through the processor.
type ProcessorStats struct {
	Queued      uint64 `json:"queued"`
	Dropped     uint64 `json:"dropped"`
	Exported    uint64 `json:"exported"`
	Failed      uint64 `json:"failed"`
	Rejected    uint64 `json:"rejected"`
	QueueLength int    `json:"queue_length"`
}

type rejectionCounter interface {
	Rejected() uint64
}

// spanQueue is a fixed capacity ring. A push into a full ring evicts the
// oldest span.
type spanQueue struct {
	items []sdktrace.ReadOnlySpan
	head  int
	tail  int
	size  int
}

func newSpanQueue(capacity int) *spanQueue {
	return &spanQueue{items: make([]sdktrace.ReadOnlySpan, capacity)}
}

func (q *spanQueue) push(s sdktrace.ReadOnlySpan) (dropped bool) {
	if q.size == len(q.items) {
		q.items[q.tail] = nil
		q.tail = (q.tail + 1) % len(q.items)
		q.size--
		dropped = true
	}
	q.items[q.head] = s
	q.head = (q.head + 1) % len(q.items)
	q.size++
	return dropped
}

func (q *spanQueue) pop(limit int) []sdktrace.ReadOnlySpan {
	n := min(limit, q.size)
	if n == 0 {
		return nil
	}
	out := make([]sdktrace.ReadOnlySpan, n)
	for i := range n {
		out[i] = q.items[q.tail]
		q.items[q.tail] = nil
		q.tail = (q.tail + 1) % len(q.items)
	}
	q.size -= n
	return out
}

// BatchSpanProcessor queues ended spans and exports them in batches from a
// background goroutine, on a fixed interval or once a full batch is queued.
// OnEnd never blocks on the exporter.
type BatchSpanProcessor struct {
	exporter sdktrace.SpanExporter
	opts     BatchOptions
	logger   *zap.Logger

	mu      sync.Mutex
	queue   *spanQueue
	stopped bool

	// exportMu keeps batches in queue order.
	exportMu sync.Mutex

	kick     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	queued   atomic.Uint64
	dropped  atomic.Uint64
	exported atomic.Uint64
	failed   atomic.Uint64
}

var _ sdktrace.SpanProcessor = (*BatchSpanProcessor)(nil)

// NewBatchSpanProcessor starts a processor exporting to exporter.
func NewBatchSpanProcessor(exporter sdktrace.SpanExporter, opts BatchOptions, logger *zap.Logger) *BatchSpanProcessor {
	p := newBatchSpanProcessor(exporter, opts, logger)
	go p.run()
	return p
}

func newBatchSpanProcessor(exporter sdktrace.SpanExporter, opts BatchOptions, logger *zap.Logger) *BatchSpanProcessor {
	opts = opts.withDefaults()
	return &BatchSpanProcessor{
		exporter: exporter,
		opts:     opts,
		logger:   logger,
		queue:    newSpanQueue(opts.QueueSize),
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnStart is a no-op.
func (p *BatchSpanProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

// OnEnd queues a sampled span.
func (p *BatchSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !s.SpanContext().IsSampled() {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.dropped.Add(1)
		return
	}
	evicted := p.queue.push(s)
	full := p.queue.size >= p.opts.BatchSize
	p.mu.Unlock()

	p.queued.Add(1)
	if evicted {
		p.dropped.Add(1)
	}
	if full {
		select {
		case p.kick <- struct{}{}:
		default:
		}
	}
}

func (p *BatchSpanProcessor) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = p.drain(context.Background(), false)
		case <-p.kick:
			_ = p.drain(context.Background(), true)
		case <-p.stopCh:
			return
		}
	}
}

// drain exports queued spans batch by batch. With fullOnly set it stops once
// less than a full batch remains.
func (p *BatchSpanProcessor) drain(ctx context.Context, fullOnly bool) error {
	var errs []error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		p.exportMu.Lock()
		p.mu.Lock()
		if p.queue.size == 0 || (fullOnly && p.queue.size < p.opts.BatchSize) {
			p.mu.Unlock()
			p.exportMu.Unlock()
			return errors.Join(errs...)
		}
		batch := p.queue.pop(p.opts.BatchSize)
		p.mu.Unlock()

		err := p.export(ctx, batch)
		p.exportMu.Unlock()
		if err != nil {
			errs = append(errs, err)
		}
	}
}

func (p *BatchSpanProcessor) export(ctx context.Context, batch []sdktrace.ReadOnlySpan) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.ExportTimeout)
	defer cancel()

	if err := p.exporter.ExportSpans(ctx, batch); err != nil {
		p.failed.Add(uint64(len(batch)))
		p.logger.Warn("Span export failed",
			zap.Int("batch_size", len(batch)),
			zap.Error(err),
		)
		return err
	}
	p.exported.Add(uint64(len(batch)))
	return nil
}

// ForceFlush exports everything queued so far.
func (p *BatchSpanProcessor) ForceFlush(ctx context.Context) error {
	return p.drain(ctx, false)
}

// Shutdown stops the background goroutine, exports what is queued and shuts
// down the exporter. Spans ended afterwards are dropped.
func (p *BatchSpanProcessor) Shutdown(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		close(p.stopCh)
		select {
		case <-p.done:
		case <-ctx.Done():
			err = ctx.Err()
			return
		}

		err = errors.Join(p.drain(ctx, false), p.exporter.Shutdown(ctx))
	})
	return err
}

// Stats returns the current counters.
func (p *BatchSpanProcessor) Stats() ProcessorStats {
	p.mu.Lock()
	length := p.queue.size
	p.mu.Unlock()

	stats := ProcessorStats{
		Queued:      p.queued.Load(),
		Dropped:     p.dropped.Load(),
		Exported:    p.exported.Load(),
		Failed:      p.failed.Load(),
		QueueLength: length,
	}
	if rc, ok := p.exporter.(rejectionCounter); ok {
		stats.Rejected = rc.Rejected()
	}
	return stats
}
