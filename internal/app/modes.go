package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/feed"
	"github.com/quantfold/etfbot/internal/metrics"
	"github.com/quantfold/etfbot/internal/pipeline"
	"github.com/quantfold/etfbot/internal/platform/alpaca"
	"github.com/quantfold/etfbot/internal/recorder"
	"github.com/quantfold/etfbot/internal/state"
)

// LiveMode recovers the persisted trading state, then runs the market-data
// pipeline. The state is checkpointed again on shutdown so a restart resumes
// from the last observed session.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	stateStore := state.NewStore(a.cfg.Trading.StatePath)

	st, err := stateStore.Load(decimal.NewFromFloat(a.cfg.Trading.StartingCapital))
	if err != nil {
		return fmt.Errorf("app: load trading state: %w", err)
	}

	a.logger.Info("trading state recovered",
		slog.String("cash", st.Cash.String()),
		slog.String("position", st.PositionSymbol),
		slog.Int64("shares", st.Shares),
		slog.Bool("stopped_out", st.StoppedOut),
	)
	if st.HasOrphan() {
		// Trading must not resume until the orphan is liquidated by the
		// execution layer; the pipeline itself keeps recording.
		a.logger.Warn("orphaned position pending liquidation",
			slog.String("symbol", st.OrphanedShares.Symbol),
			slog.Int64("shares", st.OrphanedShares.Shares),
			slog.Time("created_at", st.OrphanedShares.CreatedAt),
		)
	}

	runErr := a.runPipeline(ctx, deps)

	if err := stateStore.Save(st); err != nil {
		a.logger.Error("state checkpoint failed", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	return runErr
}

// RecordMode runs the market-data pipeline without touching trading state.
func (a *App) RecordMode(ctx context.Context, deps *Dependencies) error {
	return a.runPipeline(ctx, deps)
}

// runPipeline builds the feed adapter, queues, recorder, and the enabled
// backend taps, then runs them until ctx is cancelled. Shutdown order:
// disconnect the feeds, close the queues, let every consumer drain.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies) error {
	cfg := a.cfg

	primary := alpaca.NewStreamClient("equity", cfg.Alpaca.EquityWsURL, cfg.Alpaca.KeyID, cfg.Alpaca.SecretKey, a.logger)

	var secondary feed.Stream
	if cfg.Alpaca.CryptoWsURL != "" && len(cfg.Symbols.Crypto) > 0 {
		secondary = alpaca.NewStreamClient("crypto", cfg.Alpaca.CryptoWsURL, cfg.Alpaca.KeyID, cfg.Alpaca.SecretKey, a.logger)
	}

	adapter := feed.NewAdapter(primary, secondary, a.logger)

	recQueue := feed.NewQueue("recorder")
	queues := []*feed.Queue{recQueue}
	sinks := feed.MultiSink{recQueue}

	var archiveQueue, priceQueue *feed.Queue
	if deps.TickStore != nil {
		archiveQueue = feed.NewQueue("archive")
		queues = append(queues, archiveQueue)
		sinks = append(sinks, archiveQueue)
	}
	if deps.PriceCache != nil {
		priceQueue = feed.NewQueue("price")
		queues = append(queues, priceQueue)
		sinks = append(sinks, priceQueue)
	}

	rec, err := recorder.New(cfg.Data.Dir, cfg.Data.Source, recQueue, a.logger)
	if err != nil {
		return fmt.Errorf("app: recorder: %w", err)
	}

	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect feeds: %w", err)
	}

	if err := adapter.Subscribe(ctx, a.subscriptions(), sinks); err != nil {
		_ = adapter.Disconnect()
		return fmt.Errorf("app: subscribe: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return rec.Run(gctx)
	})

	if deps.TickStore != nil {
		archiver := pipeline.NewTickArchiver(
			archiveQueue, deps.TickStore,
			cfg.Database.BatchSize, cfg.Database.FlushInterval.Duration,
			a.logger.With(slog.String("component", "tick_archiver")),
		)
		g.Go(func() error {
			return archiver.Run(gctx)
		})
	}

	if deps.PriceCache != nil {
		publisher := pipeline.NewPricePublisher(
			priceQueue, deps.PriceCache,
			cfg.Redis.PublishInterval.Duration,
			a.logger.With(slog.String("component", "price_publisher")),
		)
		g.Go(func() error {
			return publisher.Run(gctx)
		})
	}

	if deps.BlobWriter != nil {
		eod, err := pipeline.NewEODArchiver(
			cfg.Data.Dir, deps.BlobWriter, cfg.S3.ArchiveTimeUTC,
			a.logger.With(slog.String("component", "eod_archiver")),
		)
		if err != nil {
			_ = adapter.Disconnect()
			return fmt.Errorf("app: eod archiver: %w", err)
		}
		g.Go(func() error {
			return eod.Run(gctx)
		})
	}

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(gctx, cfg.Metrics.Port)
		})
	}

	// Periodic durability checkpoint for the CSV recorder.
	g.Go(func() error {
		interval := cfg.Data.FlushInterval.Duration
		if interval <= 0 {
			interval = 30 * time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := rec.FlushAll(); err != nil {
					a.logger.Warn("periodic flush failed", slog.String("error", err.Error()))
				}
			}
		}
	})

	// Teardown: stop the producers before the consumers so the queues drain
	// to empty exactly once.
	g.Go(func() error {
		<-gctx.Done()
		if err := adapter.Disconnect(); err != nil {
			a.logger.Warn("disconnect failed", slog.String("error", err.Error()))
		}
		for _, q := range queues {
			q.Close()
		}
		return gctx.Err()
	})

	a.logger.Info("pipeline running",
		slog.String("data_dir", cfg.Data.Dir),
		slog.Bool("archive", deps.TickStore != nil),
		slog.Bool("price_cache", deps.PriceCache != nil),
		slog.Bool("eod_upload", deps.BlobWriter != nil),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: pipeline: %w", err)
	}
	return nil
}

// subscriptions builds the subscription set from the configured symbols: the
// benchmark index plus the leveraged pair and any crypto pairs.
func (a *App) subscriptions() []domain.SubscriptionRequest {
	var reqs []domain.SubscriptionRequest
	if s := a.cfg.Symbols.Index; s != "" {
		reqs = append(reqs, domain.SubscriptionRequest{Symbol: s, IsBenchmark: true})
	}
	if s := a.cfg.Symbols.Bull; s != "" {
		reqs = append(reqs, domain.SubscriptionRequest{Symbol: s})
	}
	if s := a.cfg.Symbols.Bear; s != "" {
		reqs = append(reqs, domain.SubscriptionRequest{Symbol: s})
	}
	for _, s := range a.cfg.Symbols.Crypto {
		reqs = append(reqs, domain.SubscriptionRequest{Symbol: s})
	}
	return reqs
}
