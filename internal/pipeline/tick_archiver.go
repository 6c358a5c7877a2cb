// Package pipeline contains the asynchronous consumers hanging off the feed:
// the database tick archiver, the latest-price publisher, and the end-of-day
// file uploader. Each consumer owns its queue so a slow backend never touches
// the ingestion path.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/feed"
	"github.com/quantfold/etfbot/internal/metrics"
)

// shutdownGrace bounds backend calls made after the run context is cancelled.
const shutdownGrace = 5 * time.Second

// TickArchiver batches ticks from its queue into the database. A failed batch
// is logged and dropped; the archive is a convenience copy of the tape, the
// CSV recorder remains the durable record.
type TickArchiver struct {
	queue         *feed.Queue
	store         domain.TickStore
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
}

// NewTickArchiver creates a TickArchiver draining queue into store.
func NewTickArchiver(queue *feed.Queue, store domain.TickStore, batchSize int, flushInterval time.Duration, logger *slog.Logger) *TickArchiver {
	return &TickArchiver{
		queue:         queue,
		store:         store,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		logger:        logger,
	}
}

// Run consumes the queue until ctx is cancelled or the queue is closed and
// drained. Batches are written when they reach batchSize or when
// flushInterval elapses, whichever comes first. On shutdown the remaining
// backlog is drained and flushed with a bounded grace period.
func (a *TickArchiver) Run(ctx context.Context) error {
	buf := make([]domain.Tick, 0, a.batchSize)
	nextFlush := time.Now().Add(a.flushInterval)

	for {
		waitCtx, cancel := context.WithDeadline(ctx, nextFlush)
		t, ok := a.queue.Dequeue(waitCtx)
		cancel()
		if ok {
			buf = append(buf, t)
		}

		if ctx.Err() != nil {
			for {
				t, ok := a.queue.TryDequeue()
				if !ok {
					break
				}
				buf = append(buf, t)
			}
			a.finalFlush(buf)
			return ctx.Err()
		}

		// Dequeue returned without a tick and without a deadline: the queue
		// was closed and fully drained.
		if !ok && waitCtx.Err() == nil {
			a.finalFlush(buf)
			return nil
		}

		if len(buf) >= a.batchSize || !time.Now().Before(nextFlush) {
			buf = a.flush(ctx, buf)
			nextFlush = time.Now().Add(a.flushInterval)
		}
	}
}

// flush writes the buffered batch and returns an empty buffer. The batch is
// dropped on error so a dead database cannot grow the buffer without bound.
func (a *TickArchiver) flush(ctx context.Context, buf []domain.Tick) []domain.Tick {
	if len(buf) == 0 {
		return buf
	}
	if err := a.store.InsertBatch(ctx, buf); err != nil {
		a.logger.Error("tick archive batch failed, dropping batch",
			slog.Int("ticks", len(buf)),
			slog.String("error", err.Error()),
		)
	} else {
		metrics.ArchiveBatches.Inc()
		a.logger.Debug("archived tick batch", slog.Int("ticks", len(buf)))
	}
	return buf[:0]
}

func (a *TickArchiver) finalFlush(buf []domain.Tick) {
	if len(buf) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	a.flush(ctx, buf)
}
