package models

import (
	"fmt"
	"strings"
	"time"
)

// AssetClass partitions instruments and sessions (equity, crypto, ...).
type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassCrypto AssetClass = "crypto"
)

// -----------------------------------------------------------------------------

// EventKind names a subscription channel on a streaming session.
type EventKind string

const (
	EventKindBar        EventKind = "bar"
	EventKindUpdatedBar EventKind = "updated_bar"
	EventKindTrade      EventKind = "trade"
)

// AllEventKinds in the order subscriptions are applied.
var AllEventKinds = []EventKind{EventKindBar, EventKindUpdatedBar, EventKindTrade}

// ParseEventKind accepts the config spellings of an event kind.
func ParseEventKind(s string) (EventKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bar", "bars":
		return EventKindBar, nil
	case "updated_bar", "updated_bars", "updatedbars":
		return EventKindUpdatedBar, nil
	case "trade", "trades":
		return EventKindTrade, nil
	}
	return "", fmt.Errorf("unknown event kind '%s'", s)
}

// -----------------------------------------------------------------------------

// MBar is an OHLCV aggregate for one interval.
type MBar struct {
	Open       float64 `json:"open" validate:"gt=0"`
	High       float64 `json:"high" validate:"gt=0"`
	Low        float64 `json:"low" validate:"gt=0"`
	Close      float64 `json:"close" validate:"gt=0"`
	Volume     float64 `json:"volume" validate:"gte=0"`
	TradeCount int64   `json:"trade_count" validate:"gte=0"`
	VWAP       float64 `json:"vwap" validate:"gte=0"`
	Interval   int     `json:"interval" validate:"gte=1"`
}

// MTrade is a single executed trade.
type MTrade struct {
	ID         int64    `json:"id"`
	Exchange   string   `json:"exchange"`
	Price      float64  `json:"price" validate:"gt=0"`
	Size       float64  `json:"size" validate:"gt=0"`
	Conditions []string `json:"conditions"`
	Tape       string   `json:"tape,omitempty"`
}

// MObservation is a normalized vendor event, consumed immediately by the sink.
type MObservation struct {
	Kind       EventKind  `json:"kind" validate:"required,oneof=bar updated_bar trade"`
	AssetClass AssetClass `json:"asset_class" validate:"required"`
	Symbol     string     `json:"symbol" validate:"required"`
	Timestamp  time.Time  `json:"timestamp" validate:"required"`
	Bar        *MBar      `json:"bar,omitempty" validate:"required_unless=Kind trade"`
	Trade      *MTrade    `json:"trade,omitempty" validate:"required_if=Kind trade"`
	ReceivedAt time.Time  `json:"received_at"`
}

// Handler consumes observations on the session's run goroutine.
type Handler func(obs *MObservation)
