// Package risk sizes entries against account equity and hard notional limits.
package risk

import (
	"github.com/shopspring/decimal"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// Limits caps the notional a single trade may carry. Zero disables the cap.
type Limits struct {
	MaxNotionalPerTrade float64
}

// Allow reports whether notional fits within the per-trade cap.
func (l Limits) Allow(notional float64) bool {
	return l.MaxNotionalPerTrade <= 0 || notional <= l.MaxNotionalPerTrade
}

// Reasons a sizing came out as zero.
const (
	ReasonInvalidPrice            = "invalid_price"
	ReasonNoEquity                = "no_equity"
	ReasonInsufficientBuyingPower = "insufficient_buying_power"
	ReasonBelowMinNotional        = "below_min_notional"
)

// Sizing is the result of one sizing call. Qty zero means do not trade.
type Sizing struct {
	Qty      float64
	Notional float64
	Reason   string
}

// Sizer converts a risk budget into an order quantity. It fails closed: any
// missing input yields a zero quantity instead of a guess. QtyPrecision 0
// sizes whole units.
type Sizer struct {
	RiskFraction      float64
	Limits            Limits
	MinNotional       float64
	CryptoMinNotional float64
	QtyPrecision      int32
}

// NewSizer reads the risk config section.
func NewSizer(cfg config.Risk) Sizer {
	precision := int32(config.Deref(cfg.QtyPrecision, 5))
	if precision < 0 {
		precision = 0
	}
	return Sizer{
		RiskFraction:      cfg.RiskFraction,
		Limits:            Limits{MaxNotionalPerTrade: cfg.MaxPositionNotional},
		MinNotional:       cfg.MinNotional,
		CryptoMinNotional: cfg.CryptoMinNotional,
		QtyPrecision:      precision,
	}
}

// Size returns the quantity to buy at price. The notional budget is
// min(equity*risk_fraction, max_position_notional, buyingPower) and the
// quantity is truncated, never rounded up, to QtyPrecision decimals.
func (s Sizer) Size(symbol string, price, equity, buyingPower float64) Sizing {
	if price <= 0 {
		return Sizing{Reason: ReasonInvalidPrice}
	}
	if equity <= 0 || s.RiskFraction <= 0 {
		return Sizing{Reason: ReasonNoEquity}
	}
	if buyingPower <= 0 {
		return Sizing{Reason: ReasonInsufficientBuyingPower}
	}

	budget := decimal.NewFromFloat(equity).Mul(decimal.NewFromFloat(s.RiskFraction))
	if s.Limits.MaxNotionalPerTrade > 0 {
		budget = decimal.Min(budget, decimal.NewFromFloat(s.Limits.MaxNotionalPerTrade))
	}
	budget = decimal.Min(budget, decimal.NewFromFloat(buyingPower))

	px := decimal.NewFromFloat(price)
	qty := budget.Div(px).Truncate(s.QtyPrecision)
	// Div rounds at DivisionPrecision, which can land one unit above the budget.
	unit := decimal.New(1, -s.QtyPrecision)
	for qty.IsPositive() && qty.Mul(px).GreaterThan(budget) {
		qty = qty.Sub(unit)
	}
	// Callers multiply the float qty by the float price; that product must fit too.
	limit := budget.InexactFloat64()
	for qty.IsPositive() && qty.InexactFloat64()*price > limit {
		qty = qty.Sub(unit)
	}
	if !qty.IsPositive() {
		return Sizing{Reason: ReasonInsufficientBuyingPower}
	}

	notional := qty.Mul(px)
	minNotional := s.MinNotional
	if signal.IsCrypto(symbol) && s.CryptoMinNotional > minNotional {
		minNotional = s.CryptoMinNotional
	}
	if minNotional > 0 && notional.LessThan(decimal.NewFromFloat(minNotional)) {
		return Sizing{Reason: ReasonBelowMinNotional}
	}
	if !s.Limits.Allow(notional.InexactFloat64()) {
		return Sizing{Reason: ReasonInsufficientBuyingPower}
	}
	return Sizing{Qty: qty.InexactFloat64(), Notional: notional.InexactFloat64()}
}
