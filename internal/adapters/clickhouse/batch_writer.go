package clickhouse

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satoshis-endgame/sentinel/pkg/logger"
)

// BatchWriter buffers records and flushes them in batches, either when the
// buffer fills or on a timer.
type BatchWriter struct {
	buffer      []interface{}
	bufferMu    sync.Mutex
	maxBatch    int
	flushTicker *time.Ticker
	flushFunc   func(context.Context, []interface{}) error
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewBatchWriter creates new batch writer
func NewBatchWriter(maxBatch int, maxWait time.Duration, flushFunc func(context.Context, []interface{}) error) *BatchWriter {
	ctx, cancel := context.WithCancel(context.Background())

	bw := &BatchWriter{
		buffer:    make([]interface{}, 0, maxBatch),
		maxBatch:  maxBatch,
		flushFunc: flushFunc,
		ctx:       ctx,
		cancel:    cancel,
	}

	bw.flushTicker = time.NewTicker(maxWait)

	bw.wg.Add(1)
	go bw.autoFlush()

	return bw
}

// Add adds record to buffer
func (bw *BatchWriter) Add(record interface{}) {
	bw.bufferMu.Lock()
	bw.buffer = append(bw.buffer, record)
	shouldFlush := len(bw.buffer) >= bw.maxBatch
	bw.bufferMu.Unlock()

	if shouldFlush {
		bw.flush()
	}
}

// autoFlush flushes buffer periodically
func (bw *BatchWriter) autoFlush() {
	defer bw.wg.Done()

	for {
		select {
		case <-bw.flushTicker.C:
			bw.flush()
		case <-bw.ctx.Done():
			// Final flush before exit
			bw.flush()
			return
		}
	}
}

// flush writes buffered records via flushFunc
func (bw *BatchWriter) flush() {
	bw.bufferMu.Lock()
	if len(bw.buffer) == 0 {
		bw.bufferMu.Unlock()
		return
	}

	toWrite := make([]interface{}, len(bw.buffer))
	copy(toWrite, bw.buffer)
	bw.buffer = bw.buffer[:0]
	bw.bufferMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := bw.flushFunc(ctx, toWrite); err != nil {
		logger.Error("failed to flush batch to ClickHouse",
			zap.Int("records", len(toWrite)),
			zap.Error(err),
		)
		return
	}

	logger.Debug("flushed batch to ClickHouse",
		zap.Int("records", len(toWrite)),
	)
}

// Close stops the writer and flushes remaining data
func (bw *BatchWriter) Close() {
	bw.flushTicker.Stop()
	bw.cancel()
	bw.wg.Wait()
}
