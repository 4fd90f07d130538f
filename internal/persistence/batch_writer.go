package persistence

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FlushFunc writes one batch, typically in a single transaction.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter buffers records and writes them in batches, either when the
// buffer fills or on a fixed interval. A failed batch is logged and dropped;
// it never blocks the producer.
type BatchWriter[T any] struct {
	flush    FlushFunc[T]
	maxSize  int
	interval time.Duration
	log      *zap.Logger

	mu     sync.Mutex
	buffer []T

	done    chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup
	metrics batchCounters
}

type batchCounters struct {
	writes, batches, errors atomic.Uint64
	lastSize                atomic.Int64
	lastFlush               atomic.Int64
}

// BatchWriterMetrics provides statistics about batch operations.
type BatchWriterMetrics struct {
	TotalWrites   uint64    `json:"total_writes"`
	TotalBatches  uint64    `json:"total_batches"`
	TotalErrors   uint64    `json:"total_errors"`
	LastBatchSize int       `json:"last_batch_size"`
	LastFlushTime time.Time `json:"last_flush_time"`
}

// NewBatchWriter starts a writer. maxSize: records before an early flush;
// interval: time-based flush.
func NewBatchWriter[T any](flush FlushFunc[T], maxSize int, interval time.Duration, log *zap.Logger) *BatchWriter[T] {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	bw := &BatchWriter[T]{
		flush:    flush,
		maxSize:  maxSize,
		interval: interval,
		log:      log.Named("batch-writer"),
		buffer:   make([]T, 0, maxSize),
		done:     make(chan struct{}),
	}
	bw.wg.Add(1)
	go bw.backgroundFlush()
	return bw
}

// Write buffers one record. Writes after Close are dropped.
func (bw *BatchWriter[T]) Write(rec T) {
	if bw.closed.Load() {
		return
	}
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, rec)
	full := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if full {
		if err := bw.Flush(context.Background()); err != nil {
			bw.log.Warn("size-triggered flush failed", zap.Error(err))
		}
	}
}

// Flush writes everything buffered so far.
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxSize)
	bw.mu.Unlock()

	bw.metrics.writes.Add(uint64(len(batch)))
	bw.metrics.batches.Add(1)
	bw.metrics.lastSize.Store(int64(len(batch)))
	bw.metrics.lastFlush.Store(time.Now().UnixNano())

	if err := bw.flush(ctx, batch); err != nil {
		bw.metrics.errors.Add(1)
		bw.log.Error("batch dropped", zap.Int("size", len(batch)), zap.Error(err))
		return err
	}
	bw.log.Debug("batch flushed", zap.Int("size", len(batch)))
	return nil
}

func (bw *BatchWriter[T]) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = bw.Flush(context.Background())
		case <-bw.done:
			_ = bw.Flush(context.Background())
			return
		}
	}
}

// Pending returns the number of buffered records.
func (bw *BatchWriter[T]) Pending() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// GetMetrics returns the current counters.
func (bw *BatchWriter[T]) GetMetrics() BatchWriterMetrics {
	m := BatchWriterMetrics{
		TotalWrites:   bw.metrics.writes.Load(),
		TotalBatches:  bw.metrics.batches.Load(),
		TotalErrors:   bw.metrics.errors.Load(),
		LastBatchSize: int(bw.metrics.lastSize.Load()),
	}
	if ns := bw.metrics.lastFlush.Load(); ns > 0 {
		m.LastFlushTime = time.Unix(0, ns)
	}
	return m
}

// Close flushes what is left and stops the background loop. It is safe to
// call more than once.
func (bw *BatchWriter[T]) Close() error {
	if bw.closed.Swap(true) {
		return nil
	}
	close(bw.done)
	bw.wg.Wait()
	return nil
}
