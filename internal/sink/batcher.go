// Package sink exports change events to external systems. A Batcher is the
// watcher.Listener: it buffers events without ever blocking dispatch and
// hands them in batches to a Writer such as the Kafka exporter or the
// Postgres journal.
package sink

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/resilience"
)

const finalFlushTimeout = 5 * time.Second

// Writer delivers one batch. It must not retain events after returning.
type Writer interface {
	Write(ctx context.Context, events []watcher.ChangeEvent) error
}

// Batcher flushes when batchSize events are buffered or every flushInterval,
// whichever comes first. Failed batches are retried with backoff and then
// dropped.
type Batcher struct {
	name          string
	writer        Writer
	in            chan watcher.ChangeEvent
	batchSize     int
	flushInterval time.Duration
	retry         resilience.RetryConfig
	metrics       *metrics.Metrics
	logger        *slog.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
}

// NewBatcher returns an idle Batcher named name (used in logs and the
// dropped-events metric). m may be nil.
func NewBatcher(name string, w Writer, batchSize int, flushInterval time.Duration, m *metrics.Metrics) *Batcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &Batcher{
		name:          name,
		writer:        w,
		in:            make(chan watcher.ChangeEvent, batchSize*4),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		metrics: m,
		logger:  slog.Default().With("component", "event-sink", "sink", name),
		done:    make(chan struct{}),
	}
}

// OnChange buffers event. When the buffer is full the event is dropped and
// counted; the watcher is never slowed down by a sink.
func (b *Batcher) OnChange(event watcher.ChangeEvent) error {
	select {
	case b.in <- event:
	default:
		b.drop(1)
		b.logger.Warn("event dropped, buffer full", "path", event.Path, "kind", event.Kind.String())
	}
	return nil
}

// Start launches the flush loop. It stops when ctx is cancelled or Close is
// called, flushing whatever is buffered.
func (b *Batcher) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, b.cancel = context.WithCancel(ctx)
		go b.run(ctx)
		b.logger.Info("sink started", "batch_size", b.batchSize, "flush_interval", b.flushInterval)
	})
}

// Close stops the flush loop and waits for the final flush.
func (b *Batcher) Close() error {
	started := true
	b.startOnce.Do(func() { started = false })
	if !started {
		return nil
	}
	b.cancel()
	<-b.done
	return nil
}

// Stats returns how many events were delivered and dropped.
func (b *Batcher) Stats() (written, dropped uint64) {
	return b.written.Load(), b.dropped.Load()
}

func (b *Batcher) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	buf := make([]watcher.ChangeEvent, 0, b.batchSize)
	for {
		select {
		case event := <-b.in:
			buf = append(buf, event)
			if len(buf) >= b.batchSize {
				b.flush(ctx, buf)
				buf = make([]watcher.ChangeEvent, 0, b.batchSize)
			}
		case <-ticker.C:
			if len(buf) > 0 {
				b.flush(ctx, buf)
				buf = make([]watcher.ChangeEvent, 0, b.batchSize)
			}
		case <-ctx.Done():
		drain:
			for {
				select {
				case event := <-b.in:
					buf = append(buf, event)
				default:
					break drain
				}
			}
			if len(buf) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				b.flush(flushCtx, buf)
				cancel()
			}
			b.logger.Info("sink stopped", "written", b.written.Load(), "dropped", b.dropped.Load())
			return
		}
	}
}

func (b *Batcher) flush(ctx context.Context, batch []watcher.ChangeEvent) {
	err := resilience.Retry(ctx, "sink-"+b.name, b.retry, func() error {
		return b.writer.Write(ctx, batch)
	})
	if err != nil {
		b.logger.Error("batch dropped", "events", len(batch), "error", err)
		b.drop(len(batch))
		return
	}
	b.written.Add(uint64(len(batch)))
	b.logger.Debug("batch flushed", "events", len(batch))
}

func (b *Batcher) drop(n int) {
	b.dropped.Add(uint64(n))
	if b.metrics != nil {
		b.metrics.SinkDroppedTotal.WithLabelValues(b.name).Add(float64(n))
	}
}
