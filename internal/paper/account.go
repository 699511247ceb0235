// Package paper simulates a brokerage account in memory so the pipeline can run without real money.
package paper

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// Fill is one simulated execution.
type Fill struct {
	OrderID       string      `json:"order_id"`
	ClientOrderID string      `json:"client_order_id"`
	Symbol        string      `json:"symbol"`
	Side          signal.Side `json:"side"`
	Qty           float64     `json:"qty"`
	Price         float64     `json:"price"`
	Ts            time.Time   `json:"ts"`
}

// FillRecorder captures paper fills for later inspection.
type FillRecorder interface {
	Record(Fill)
}

const epsilon = 1e-9

var (
	errInsufficientCash     = errors.New("insufficient cash for buy")
	errPositionLimit        = errors.New("position limit exceeded")
	errInsufficientPosition = errors.New("insufficient position to sell")
)

type positionState struct {
	Qty     float64
	AvgCost float64
}

// Account tracks virtual cash, realized PnL, and per-symbol long positions.
type Account struct {
	mu                   sync.Mutex
	startingCash         float64
	cash                 float64
	realizedPnL          float64
	maxPositionPerSymbol float64
	positions            map[string]positionState
}

// PositionSnapshot exposes a read-only view of a single symbol position.
type PositionSnapshot struct {
	Qty         float64
	AvgCost     float64
	MarketValue float64
	Unrealized  float64
}

// Snapshot is a copy of the account state marked to market with supplied prices.
// Positions without a mark are carried at cost.
type Snapshot struct {
	Cash        float64
	RealizedPnL float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount constructs an account populated with starting cash and optional position cap.
func NewAccount(startingCash, maxPositionPerSymbol float64) *Account {
	return &Account{
		startingCash:         startingCash,
		cash:                 startingCash,
		maxPositionPerSymbol: maxPositionPerSymbol,
		positions:            make(map[string]positionState),
	}
}

// StartingCash returns the initial bankroll.
func (a *Account) StartingCash() float64 { return a.startingCash }

// MarketFill applies a fill at price, mutating balances if it is affordable.
func (a *Account) MarketFill(symbol string, side signal.Side, qty, price float64) error {
	if qty <= 0 {
		return errors.New("quantity must be positive")
	}
	if price <= 0 {
		return errors.New("price must be positive")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.positions[symbol]
	notional := qty * price

	switch side {
	case signal.Buy:
		if notional > a.cash+epsilon {
			return errInsufficientCash
		}
		newQty := state.Qty + qty
		if a.maxPositionPerSymbol > 0 && newQty*price > a.maxPositionPerSymbol+epsilon {
			return errPositionLimit
		}
		a.cash -= notional
		a.positions[symbol] = positionState{Qty: newQty, AvgCost: (state.AvgCost*state.Qty + notional) / newQty}

	case signal.Sell:
		if state.Qty <= 0 || state.Qty+epsilon < qty {
			return errInsufficientPosition
		}
		a.realizedPnL += (price - state.AvgCost) * qty
		a.cash += notional
		if newQty := state.Qty - qty; newQty <= epsilon {
			delete(a.positions, symbol)
		} else {
			a.positions[symbol] = positionState{Qty: newQty, AvgCost: state.AvgCost}
		}

	default:
		return errors.New("unknown order side")
	}
	return nil
}

// Apply replays a recorded fill.
func (a *Account) Apply(f Fill) error {
	return a.MarketFill(f.Symbol, f.Side, f.Qty, f.Price)
}

// Snapshot returns a copy of balances marked with the supplied prices.
func (a *Account) Snapshot(prices map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.cash
	for sym, pos := range a.positions {
		mark, ok := prices[sym]
		if !ok || mark <= 0 {
			mark = pos.AvgCost
		}
		marketValue := pos.Qty * mark
		positions[sym] = PositionSnapshot{
			Qty:         pos.Qty,
			AvgCost:     pos.AvgCost,
			MarketValue: marketValue,
			Unrealized:  (mark - pos.AvgCost) * pos.Qty,
		}
		equity += marketValue
	}

	return Snapshot{
		Cash:        a.cash,
		RealizedPnL: a.realizedPnL,
		Equity:      equity,
		Positions:   positions,
	}
}

// Symbols lists held symbols in sorted order.
func (a *Account) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.positions))
	for sym := range a.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// AvailableCash reports free cash that can be deployed into new longs.
func (a *Account) AvailableCash() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cash
}

// Position returns the current position size for the supplied symbol.
func (a *Account) Position(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.positions[symbol].Qty
}

// RealizedPnL returns total closed-trade profit and loss.
func (a *Account) RealizedPnL() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedPnL
}
