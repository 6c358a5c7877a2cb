// Package domain defines the core data types and interfaces shared across the
// etfbot market-data plane: ticks, subscription requests, persistent trading
// state, and the store/cache/blob interfaces implemented elsewhere.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one normalized price observation for a symbol at a point in time.
// Ticks are immutable once constructed.
type Tick struct {
	Symbol       string
	Price        decimal.Decimal
	IsBenchmark  bool
	TimestampUTC time.Time
}

// TradeEvent is a raw trade as delivered by a streaming connection, before the
// feed adapter attaches routing metadata (benchmark flag) to produce a Tick.
type TradeEvent struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// TradeHandler consumes trade events as they arrive on a stream's read loop.
type TradeHandler func(TradeEvent)

// SubscriptionRequest asks the feed adapter to subscribe one symbol.
// Subscription identity is the symbol string; re-subscribing the same symbol
// is idempotent and the last request wins for handler wiring.
type SubscriptionRequest struct {
	Symbol      string
	IsBenchmark bool
}

// IsCryptoSymbol reports whether a symbol routes to the secondary (crypto)
// feed. Currency pairs carry a "/" separator (e.g. "BTC/USD"); everything else
// is an equity symbol on the primary feed.
func IsCryptoSymbol(symbol string) bool {
	return strings.Contains(symbol, "/")
}
