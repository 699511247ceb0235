// Package strategy turns scored candidates into trade intents.
package strategy

import (
	"strings"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/risk"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// Mode names accepted by Build.
const (
	ModeTrendRSI     = "trend_rsi"
	ModeRSIReversion = "rsi_reversion"
)

// Rationale tags attached to decisions.
const (
	RationaleBullishEntry            = "bullish_entry"
	RationaleOversoldEntry           = "oversold_entry"
	RationaleTrendReversal           = "trend_reversal"
	RationaleOverboughtExit          = "overbought_exit"
	RationaleTakeProfit              = "take_profit"
	RationaleStopLoss                = "stop_loss"
	RationaleHold                    = "hold"
	RationaleNoSignal                = "no_signal"
	RationaleInsufficientBuyingPower = "insufficient_buying_power"
	RationaleShortUnsupported        = "short_unsupported"
)

// Decision is the outcome of evaluating one candidate. A nil Intent means no action.
type Decision struct {
	Intent    *signal.TradeIntent
	Rationale string
}

// Strategy evaluates a candidate against the current position and account.
// pos is nil when the symbol is not held.
type Strategy interface {
	Decide(c signal.Candidate, pos *broker.Position, acct broker.Account) Decision
	Name() string
}

// Params expresses tunable knobs required by strategy constructors.
// TakeProfitPct and StopLossPct are used as given; zero disables the exit.
type Params struct {
	OverboughtRSI float64
	OversoldRSI   float64
	TakeProfitPct float64
	StopLossPct   float64
	Sizer         risk.Sizer
}

// ParamsFromConfig collects the strategy and risk sections into Params.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		OverboughtRSI: cfg.Strategy.Params.OverboughtRSI,
		OversoldRSI:   cfg.Strategy.Params.OversoldRSI,
		TakeProfitPct: config.Deref(cfg.Strategy.Params.TakeProfitPct, 5),
		StopLossPct:   config.Deref(cfg.Strategy.Params.StopLossPct, 2),
		Sizer:         risk.NewSizer(cfg.Risk),
	}
}

// Build returns a strategy implementation matching the configured mode.
func Build(mode string, params Params) Strategy {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeRSIReversion, "rsi", "reversion":
		return NewRSIReversion(params)
	default:
		return NewTrendRSI(params)
	}
}

// exitLevels evaluates take-profit and stop-loss against the average entry.
// Percentages of zero disable the respective check.
func exitLevels(pos broker.Position, price, takeProfitPct, stopLossPct float64) (string, bool) {
	if pos.AvgEntryPrice <= 0 || price <= 0 {
		return "", false
	}
	change := (price - pos.AvgEntryPrice) / pos.AvgEntryPrice * 100
	if takeProfitPct > 0 && change >= takeProfitPct {
		return RationaleTakeProfit, true
	}
	if stopLossPct > 0 && change <= -stopLossPct {
		return RationaleStopLoss, true
	}
	return "", false
}

func sellAll(c signal.Candidate, pos broker.Position, rationale string) Decision {
	return Decision{
		Intent: &signal.TradeIntent{
			Symbol:    c.Symbol,
			Side:      signal.Sell,
			Qty:       pos.Qty,
			Type:      signal.Market,
			RefPrice:  c.Features.Close(),
			Rationale: rationale,
		},
		Rationale: rationale,
	}
}

func buySized(c signal.Candidate, sizer risk.Sizer, acct broker.Account, rationale string) Decision {
	price := c.Features.Close()
	sizing := sizer.Size(c.Symbol, price, acct.Equity, acct.BuyingPower)
	if sizing.Qty <= 0 {
		return Decision{Rationale: RationaleInsufficientBuyingPower}
	}
	return Decision{
		Intent: &signal.TradeIntent{
			Symbol:    c.Symbol,
			Side:      signal.Buy,
			Qty:       sizing.Qty,
			Type:      signal.Market,
			RefPrice:  price,
			Rationale: rationale,
		},
		Rationale: rationale,
	}
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
