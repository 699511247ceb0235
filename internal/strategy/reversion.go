package strategy

import (
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/risk"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// RSIReversion buys oversold symbols and sells on take-profit, stop-loss or an overbought reading.
type RSIReversion struct {
	oversold   float64
	overbought float64
	takeProfit float64
	stopLoss   float64
	sizer      risk.Sizer
}

// NewRSIReversion builds the strategy with 30/70 RSI bands unless overridden.
func NewRSIReversion(p Params) *RSIReversion {
	return &RSIReversion{
		oversold:   orDefault(p.OversoldRSI, 30),
		overbought: orDefault(p.OverboughtRSI, 70),
		takeProfit: p.TakeProfitPct,
		stopLoss:   p.StopLossPct,
		sizer:      p.Sizer,
	}
}

// Name returns the identifier used in logs and reports.
func (r *RSIReversion) Name() string { return ModeRSIReversion }

// Decide applies the mean-reversion rules.
func (r *RSIReversion) Decide(c signal.Candidate, pos *broker.Position, acct broker.Account) Decision {
	f := c.Features
	if pos != nil && pos.Qty < 0 {
		return Decision{Rationale: RationaleShortUnsupported}
	}
	if pos != nil && pos.Qty > 0 {
		if rationale, hit := exitLevels(*pos, f.Close(), r.takeProfit, r.stopLoss); hit {
			return sellAll(c, *pos, rationale)
		}
		if f.RSI() > r.overbought {
			return sellAll(c, *pos, RationaleOverboughtExit)
		}
		return Decision{Rationale: RationaleHold}
	}
	if f.RSI() < r.oversold {
		return buySized(c, r.sizer, acct, RationaleOversoldEntry)
	}
	return Decision{Rationale: RationaleNoSignal}
}
