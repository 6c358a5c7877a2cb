package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache exposes the latest observed price per symbol to external readers
// (dashboards, strategy tooling) without touching the ingestion path.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}
