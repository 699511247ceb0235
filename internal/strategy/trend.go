package strategy

import (
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/risk"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// TrendRSI enters longs on an up-trend confirmed by volume while RSI is not
// overbought, and exits fully on a trend flip, overbought RSI or a
// take-profit/stop-loss level.
type TrendRSI struct {
	overbought float64
	takeProfit float64
	stopLoss   float64
	sizer      risk.Sizer
}

// NewTrendRSI builds the strategy. An unset overbought level falls back to 70.
func NewTrendRSI(p Params) *TrendRSI {
	return &TrendRSI{
		overbought: orDefault(p.OverboughtRSI, 70),
		takeProfit: p.TakeProfitPct,
		stopLoss:   p.StopLossPct,
		sizer:      p.Sizer,
	}
}

// Name returns the identifier used in logs and reports.
func (t *TrendRSI) Name() string { return ModeTrendRSI }

// Decide applies the entry and exit rules.
func (t *TrendRSI) Decide(c signal.Candidate, pos *broker.Position, acct broker.Account) Decision {
	f := c.Features
	if pos != nil && pos.Qty < 0 {
		return Decision{Rationale: RationaleShortUnsupported}
	}
	if pos != nil && pos.Qty > 0 {
		switch {
		case f.Trend() < 0:
			return sellAll(c, *pos, RationaleTrendReversal)
		case f.RSI() > t.overbought:
			return sellAll(c, *pos, RationaleOverboughtExit)
		}
		if rationale, hit := exitLevels(*pos, f.Close(), t.takeProfit, t.stopLoss); hit {
			return sellAll(c, *pos, rationale)
		}
		return Decision{Rationale: RationaleHold}
	}

	if f.Trend() > 0 && f.RSI() < t.overbought && f.VolumeRatio() > 1 {
		return buySized(c, t.sizer, acct, RationaleBullishEntry)
	}
	return Decision{Rationale: RationaleNoSignal}
}
