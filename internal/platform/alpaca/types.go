package alpaca

import (
	"time"

	"github.com/shopspring/decimal"
)

// wsCommand is the client → server control message shape shared by the auth
// and subscribe actions.
type wsCommand struct {
	Action string   `json:"action"`
	Key    string   `json:"key,omitempty"`
	Secret string   `json:"secret,omitempty"`
	Trades []string `json:"trades,omitempty"`
}

// wsEnvelope is the minimal server → client message header. Every inbound
// frame is a JSON array of envelopes; T discriminates the payload.
type wsEnvelope struct {
	Type   string          `json:"T"`
	Msg    string          `json:"msg,omitempty"`
	Code   int             `json:"code,omitempty"`
	Symbol string          `json:"S,omitempty"`
	Price  decimal.Decimal `json:"p,omitzero"`
	Size   decimal.Decimal `json:"s,omitzero"`
	Time   time.Time       `json:"t,omitzero"`
	Trades []string        `json:"trades,omitempty"`
}

// Message type discriminators used by the stream.
const (
	msgTypeSuccess      = "success"
	msgTypeError        = "error"
	msgTypeSubscription = "subscription"
	msgTypeTrade        = "t"

	msgConnected     = "connected"
	msgAuthenticated = "authenticated"
)
