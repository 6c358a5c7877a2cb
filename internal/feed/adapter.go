// Package feed composes the primary (equity) and secondary (crypto) streaming
// connections behind a single capability: connect, subscribe a set of
// symbols, receive normalized ticks, disconnect. The primary feed is
// required; the secondary feed is best-effort and its absence never prevents
// startup.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quantfold/etfbot/internal/domain"
	"github.com/quantfold/etfbot/internal/metrics"
)

// Stream is one underlying streaming connection. Both feeds implement the
// same capability; the adapter decides which one is required.
type Stream interface {
	Connect(ctx context.Context) error
	SubscribeTrades(ctx context.Context, symbols []string) error
	OnTrade(handler domain.TradeHandler)
	Connected() bool
	Disconnect() error
}

// subscription is the routing entry for one symbol.
type subscription struct {
	isBenchmark bool
	sink        Sink
}

// Adapter presents the two heterogeneous feeds as one. Trade-event callbacks
// fire on network-I/O goroutines and race with Subscribe/Disconnect, so the
// symbol → subscription map is the one shared resource, guarded by a mutex
// held only for map reads/writes — never across a network call.
type Adapter struct {
	primary   Stream
	secondary Stream // nil when no crypto feed is configured
	logger    *slog.Logger

	mu     sync.Mutex
	subs   map[string]subscription
	wired  bool
	closed bool
}

// NewAdapter creates an adapter over the required primary stream and an
// optional secondary stream (pass nil to run equities only).
func NewAdapter(primary, secondary Stream, logger *slog.Logger) *Adapter {
	return &Adapter{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(slog.String("component", "feed_adapter")),
		subs:      make(map[string]subscription),
	}
}

// Connect authenticates both feeds. A primary failure is fatal and propagated
// — the bot cannot run without equity market data. A secondary failure is
// logged and swallowed; the bot operates on equities alone.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("feed: connect: %w", domain.ErrAdapterClosed)
	}
	a.mu.Unlock()

	if err := a.primary.Connect(ctx); err != nil {
		return fmt.Errorf("feed: primary connect: %w", err)
	}

	if a.secondary != nil {
		if err := a.secondary.Connect(ctx); err != nil {
			a.logger.Warn("secondary feed unavailable, continuing on equities only",
				slog.String("error", err.Error()),
			)
		}
	}

	a.wireHandlers()
	return nil
}

// wireHandlers registers the routing callback on each stream exactly once.
func (a *Adapter) wireHandlers() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wired {
		return
	}
	a.wired = true

	a.primary.OnTrade(a.route("equity"))
	if a.secondary != nil {
		a.secondary.OnTrade(a.route("crypto"))
	}
}

// route returns the per-feed trade callback. It looks up the symbol's
// subscription under the lock and publishes into the registered sink without
// blocking; events for symbols with no routing entry (never subscribed, or
// cleared by Disconnect) are dropped.
func (a *Adapter) route(feedName string) domain.TradeHandler {
	return func(ev domain.TradeEvent) {
		a.mu.Lock()
		sub, ok := a.subs[ev.Symbol]
		a.mu.Unlock()
		if !ok {
			return
		}

		metrics.TicksIngested.WithLabelValues(feedName).Inc()
		sub.sink.Publish(domain.Tick{
			Symbol:       ev.Symbol,
			Price:        ev.Price,
			IsBenchmark:  sub.isBenchmark,
			TimestampUTC: ev.Timestamp,
		})
	}
}

// Subscribe classifies each request by symbol shape, commits subscriptions to
// the underlying feeds in per-feed batches (one network round trip per feed),
// and records the symbol → subscription routing after each successful commit.
// Unroutable requests — secondary feed requested but unavailable, or primary
// not connected — are skipped with a warning, not an error: partial
// subscription success is an accepted outcome. Re-subscribing a symbol is
// idempotent; the last sink wins.
func (a *Adapter) Subscribe(ctx context.Context, requests []domain.SubscriptionRequest, sink Sink) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("feed: subscribe: %w", domain.ErrAdapterClosed)
	}
	a.mu.Unlock()

	var equity, crypto []domain.SubscriptionRequest
	for _, req := range requests {
		if domain.IsCryptoSymbol(req.Symbol) {
			if a.secondary == nil || !a.secondary.Connected() {
				a.logger.Warn("skipping subscription: secondary feed unavailable",
					slog.String("symbol", req.Symbol),
				)
				continue
			}
			crypto = append(crypto, req)
			continue
		}

		// TODO: revisit whether an unconnected primary should fail the call
		// instead of skipping; for now partial success keeps startup order
		// flexible.
		if !a.primary.Connected() {
			a.logger.Warn("skipping subscription: primary feed not connected",
				slog.String("symbol", req.Symbol),
			)
			continue
		}
		equity = append(equity, req)
	}

	a.commitBatch(ctx, a.primary, "equity", equity, sink)
	if len(crypto) > 0 {
		a.commitBatch(ctx, a.secondary, "crypto", crypto, sink)
	}

	return nil
}

// commitBatch subscribes one feed's batch and, on success, records routing
// entries for every symbol in it.
func (a *Adapter) commitBatch(ctx context.Context, s Stream, feedName string, batch []domain.SubscriptionRequest, sink Sink) {
	if len(batch) == 0 {
		return
	}

	symbols := make([]string, len(batch))
	for i, req := range batch {
		symbols[i] = req.Symbol
	}

	if err := s.SubscribeTrades(ctx, symbols); err != nil {
		a.logger.Warn("subscription batch failed, symbols skipped",
			slog.String("feed", feedName),
			slog.Any("symbols", symbols),
			slog.String("error", err.Error()),
		)
		return
	}

	a.mu.Lock()
	for _, req := range batch {
		a.subs[req.Symbol] = subscription{isBenchmark: req.IsBenchmark, sink: sink}
	}
	a.mu.Unlock()

	a.logger.Info("subscribed",
		slog.String("feed", feedName),
		slog.Any("symbols", symbols),
	)
}

// IsConnected reports whether either feed has a live connection; the bot can
// operate on equities alone.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return false
	}
	if a.primary.Connected() {
		return true
	}
	return a.secondary != nil && a.secondary.Connected()
}

// Disconnect clears all routing state first — so late in-flight events are
// dropped rather than routed — then disconnects both feeds independently. A
// failure on one feed is logged and does not prevent disconnecting the other.
// Disconnect is idempotent; Connect and Subscribe fail fast afterwards.
func (a *Adapter) Disconnect() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.subs = make(map[string]subscription)
	a.mu.Unlock()

	if err := a.primary.Disconnect(); err != nil {
		a.logger.Warn("primary disconnect failed", slog.String("error", err.Error()))
	}
	if a.secondary != nil {
		if err := a.secondary.Disconnect(); err != nil {
			a.logger.Warn("secondary disconnect failed", slog.String("error", err.Error()))
		}
	}

	return nil
}
