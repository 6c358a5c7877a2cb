package domain

import (
	"context"
	"time"
)

// ListOpts carries pagination and time filtering for tick queries.
type ListOpts struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// TickStore persists ticks to a queryable archive for backtesting. The CSV
// files written by the recorder remain the durable record; this store is a
// best-effort secondary copy.
type TickStore interface {
	InsertBatch(ctx context.Context, ticks []Tick) error
	GetLastTimestamp(ctx context.Context) (time.Time, error)
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]Tick, error)
}
