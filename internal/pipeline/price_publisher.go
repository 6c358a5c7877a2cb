package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/feed"
)

// PricePublisher mirrors the latest price per symbol into the external cache.
// Ticks arriving between publishes are coalesced: only the newest price per
// symbol is written, so a fast tape does not translate into cache write load.
type PricePublisher struct {
	queue    *feed.Queue
	cache    domain.PriceCache
	interval time.Duration
	logger   *slog.Logger
}

// NewPricePublisher creates a PricePublisher draining queue into cache.
func NewPricePublisher(queue *feed.Queue, cache domain.PriceCache, interval time.Duration, logger *slog.Logger) *PricePublisher {
	return &PricePublisher{
		queue:    queue,
		cache:    cache,
		interval: interval,
		logger:   logger,
	}
}

// Run consumes the queue until ctx is cancelled or the queue is closed and
// drained, publishing the coalesced latest prices every interval. A final
// publish runs on shutdown so the cache reflects the last observed tape.
func (p *PricePublisher) Run(ctx context.Context) error {
	latest := make(map[string]domain.Tick)
	nextPublish := time.Now().Add(p.interval)

	for {
		waitCtx, cancel := context.WithDeadline(ctx, nextPublish)
		t, ok := p.queue.Dequeue(waitCtx)
		cancel()
		if ok {
			prev, seen := latest[t.Symbol]
			if !seen || !t.TimestampUTC.Before(prev.TimestampUTC) {
				latest[t.Symbol] = t
			}
		}

		if ctx.Err() != nil {
			for {
				t, ok := p.queue.TryDequeue()
				if !ok {
					break
				}
				latest[t.Symbol] = t
			}
			p.finalPublish(latest)
			return ctx.Err()
		}

		if !ok && waitCtx.Err() == nil {
			p.finalPublish(latest)
			return nil
		}

		if !time.Now().Before(nextPublish) {
			p.publish(ctx, latest)
			nextPublish = time.Now().Add(p.interval)
		}
	}
}

// publish writes the coalesced prices and clears the map. Individual cache
// failures are logged and skipped; the next interval retries with newer data.
func (p *PricePublisher) publish(ctx context.Context, latest map[string]domain.Tick) {
	for symbol, t := range latest {
		if err := p.cache.SetPrice(ctx, symbol, t.Price, t.TimestampUTC); err != nil {
			p.logger.Warn("price cache write failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		delete(latest, symbol)
	}
}

func (p *PricePublisher) finalPublish(latest map[string]domain.Tick) {
	if len(latest) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	p.publish(ctx, latest)
}
