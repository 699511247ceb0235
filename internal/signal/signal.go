// Package signal standardizes payloads shared between data ingestion, strategy and execution layers.
package signal

import (
	"strings"
	"time"
)

// Bar is one OHLCV observation for a symbol over a fixed interval.
type Bar struct {
	Ts     time.Time `json:"t"`
	Open   float64   `json:"o"`
	High   float64   `json:"h"`
	Low    float64   `json:"l"`
	Close  float64   `json:"c"`
	Volume float64   `json:"v"`
}

// Canonical feature names written by the indicator engine.
const (
	FeatureClose       = "close"
	FeatureSMAShort    = "sma_short"
	FeatureSMALong     = "sma_long"
	FeatureTrend       = "trend"
	FeatureRSI         = "rsi"
	FeatureVolatility  = "volatility"
	FeatureVolumeRatio = "volume_ratio"
	FeatureBBUpper     = "bb_upper"
	FeatureBBLower     = "bb_lower"
)

// FeatureSnapshot holds the indicator values computed for a symbol as of its last bar.
type FeatureSnapshot struct {
	Symbol string
	AsOf   time.Time
	Values map[string]float64
}

// Get returns a feature value and whether it was computed.
func (f FeatureSnapshot) Get(name string) (float64, bool) {
	v, ok := f.Values[name]
	return v, ok
}

// Close returns the last close price.
func (f FeatureSnapshot) Close() float64 { return f.Values[FeatureClose] }

// Trend returns +1 when the short average is above the long one, -1 below, 0 when equal.
func (f FeatureSnapshot) Trend() float64 { return f.Values[FeatureTrend] }

// RSI returns the oscillator value in [0,100].
func (f FeatureSnapshot) RSI() float64 { return f.Values[FeatureRSI] }

// VolumeRatio returns recent average volume over the longer-window average.
func (f FeatureSnapshot) VolumeRatio() float64 { return f.Values[FeatureVolumeRatio] }

// Candidate is a symbol ranked as a potential trade target during one scan.
type Candidate struct {
	Symbol   string
	Features FeatureSnapshot
	Score    float64
}

// Side is an order direction.
type Side string

const (
	// Buy opens or adds to a long.
	Buy Side = "buy"
	// Sell closes a long.
	Sell Side = "sell"
)

// OrderType is the brokerage order type.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// TradeIntent is a proposed order, not yet submitted to the brokerage.
type TradeIntent struct {
	Symbol     string
	Side       Side
	Qty        float64
	Type       OrderType
	LimitPrice float64
	RefPrice   float64
	Rationale  string
}

// Notional is the intent size valued at the reference price.
func (i TradeIntent) Notional() float64 {
	px := i.RefPrice
	if i.Type == Limit && i.LimitPrice > 0 {
		px = i.LimitPrice
	}
	return i.Qty * px
}

// IsCrypto reports whether a symbol uses the BASE/QUOTE form brokers use for crypto pairs.
func IsCrypto(symbol string) bool {
	return strings.Contains(symbol, "/")
}
