package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StopDirection identifies which side of the book a trailing stop fired on.
type StopDirection string

const (
	StopDirectionLong  StopDirection = "long"
	StopDirectionShort StopDirection = "short"
)

// OrphanedPosition records shares left over from a partial liquidation during
// a position switch. They must be liquidated (or explicitly written off)
// before normal signal-driven trading resumes.
type OrphanedPosition struct {
	Symbol    string    `json:"symbol"`
	Shares    int64     `json:"shares"`
	CreatedAt time.Time `json:"createdAt"`
}

// TradingState is the crash-recoverable risk state of the bot. It is loaded at
// startup, mutated by the strategy engine on fills, stop triggers, and phase
// transitions, and persisted after every mutation that affects recovery
// correctness. All monetary fields use exact decimal arithmetic; float64 is
// never used at this layer.
type TradingState struct {
	// Position / cash.
	Cash            decimal.Decimal `json:"cash"`
	CashFragment    decimal.Decimal `json:"cashFragment"`
	PositionSymbol  string          `json:"positionSymbol,omitempty"`
	Shares          int64           `json:"shares"`
	DayStartBalance decimal.Decimal `json:"dayStartBalance"`
	DayStartDate    string          `json:"dayStartDate,omitempty"`
	StartingCapital decimal.Decimal `json:"startingCapital"`

	// Trailing-stop protection. Watermarks apply to the side of the open
	// position only and are nil when flat.
	HighWaterMark       *decimal.Decimal `json:"highWaterMark,omitempty"`
	LowWaterMark        *decimal.Decimal `json:"lowWaterMark,omitempty"`
	TrailingStop        *decimal.Decimal `json:"trailingStop,omitempty"`
	StoppedOut          bool             `json:"stoppedOut"`
	StoppedOutDirection StopDirection    `json:"stoppedOutDirection,omitempty"`
	WashoutLevel        *decimal.Decimal `json:"washoutLevel,omitempty"`
	StoppedOutAt        *time.Time       `json:"stoppedOutAt,omitempty"`

	// Recovery bookkeeping.
	OrphanedShares *OrphanedPosition `json:"orphanedShares,omitempty"`

	// Diagnostic metadata for audit.
	BullSymbol  string `json:"bullSymbol,omitempty"`
	BearSymbol  string `json:"bearSymbol,omitempty"`
	IndexSymbol string `json:"indexSymbol,omitempty"`

	// Save metadata stamped by the state store on every checkpoint.
	SavedAt      time.Time `json:"savedAt,omitzero"`
	CheckpointID string    `json:"checkpointId,omitempty"`
}

// NewTradingState returns the uninitialized first-run state for the given
// starting capital.
func NewTradingState(startingCapital decimal.Decimal) *TradingState {
	return &TradingState{
		Cash:            startingCapital,
		StartingCapital: startingCapital,
	}
}

// RecordOrphan registers leftover shares from a partial liquidation. At most
// one orphan may be pending at a time; a second registration is rejected until
// the first is resolved.
func (s *TradingState) RecordOrphan(symbol string, shares int64, at time.Time) error {
	if s.OrphanedShares != nil {
		return ErrOrphanPending
	}
	s.OrphanedShares = &OrphanedPosition{
		Symbol:    symbol,
		Shares:    shares,
		CreatedAt: at.UTC(),
	}
	return nil
}

// ResolveOrphan clears the pending orphan after a successful liquidation or
// an explicit administrative write-off.
func (s *TradingState) ResolveOrphan() {
	s.OrphanedShares = nil
}

// HasOrphan reports whether leftover shares still require cleanup.
func (s *TradingState) HasOrphan() bool {
	return s.OrphanedShares != nil
}

// EnterStopOut marks the trailing stop as triggered for the given direction.
func (s *TradingState) EnterStopOut(direction StopDirection, at time.Time) {
	t := at.UTC()
	s.StoppedOut = true
	s.StoppedOutDirection = direction
	s.StoppedOutAt = &t
}

// ClearStopOut clears the stop-out flag and its direction together; the
// direction is meaningless without the flag.
func (s *TradingState) ClearStopOut() error {
	if !s.StoppedOut {
		return ErrNotStoppedOut
	}
	s.StoppedOut = false
	s.StoppedOutDirection = ""
	s.StoppedOutAt = nil
	s.WashoutLevel = nil
	return nil
}

// OpenPosition records a new position and seeds both watermarks at the entry
// price.
func (s *TradingState) OpenPosition(symbol string, shares int64, entry decimal.Decimal) {
	s.PositionSymbol = symbol
	s.Shares = shares
	hw, lw := entry, entry
	s.HighWaterMark = &hw
	s.LowWaterMark = &lw
}

// Flatten clears the open position and its watermarks. Watermarks are
// undefined while flat.
func (s *TradingState) Flatten() {
	s.PositionSymbol = ""
	s.Shares = 0
	s.HighWaterMark = nil
	s.LowWaterMark = nil
	s.TrailingStop = nil
}

// ObserveWatermarks widens the high/low watermarks with a new price. It is a
// no-op while flat.
func (s *TradingState) ObserveWatermarks(price decimal.Decimal) {
	if s.PositionSymbol == "" {
		return
	}
	if s.HighWaterMark == nil || price.GreaterThan(*s.HighWaterMark) {
		p := price
		s.HighWaterMark = &p
	}
	if s.LowWaterMark == nil || price.LessThan(*s.LowWaterMark) {
		p := price
		s.LowWaterMark = &p
	}
}
