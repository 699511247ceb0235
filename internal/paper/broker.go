package paper

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/exchange"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// Broker serves the brokerage port from an in-memory Account. Market orders
// fill immediately at the provider's last close adjusted by slippage; limit
// orders fill only when that price crosses the limit and otherwise rest as "new".
type Broker struct {
	mu          sync.Mutex
	acct        *Account
	prices      exchange.Provider
	slippageBps float64
	recorders   []FillRecorder
	orders      map[string]broker.Order
	byClientID  map[string]string
	marks       map[string]float64
	log         zerolog.Logger
	now         func() time.Time
}

// Option configures the paper broker.
type Option func(*Broker)

// WithSlippageBps worsens every fill by bps basis points.
func WithSlippageBps(bps float64) Option {
	return func(b *Broker) {
		if bps > 0 {
			b.slippageBps = bps
		}
	}
}

// WithRecorder attaches a fill recorder.
func WithRecorder(r FillRecorder) Option {
	return func(b *Broker) {
		if r != nil {
			b.recorders = append(b.recorders, r)
		}
	}
}

// WithClock overrides the timestamp source for orders and fills.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBroker wraps an account. prices supplies fill prices.
func NewBroker(acct *Account, prices exchange.Provider, log zerolog.Logger, opts ...Option) *Broker {
	b := &Broker{
		acct:       acct,
		prices:     prices,
		orders:     make(map[string]broker.Order),
		byClientID: make(map[string]string),
		marks:      make(map[string]float64),
		log:        log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Account reports equity marked at the last known prices. Buying power is free cash.
func (b *Broker) Account(context.Context) (broker.Account, error) {
	snap := b.acct.Snapshot(b.markSnapshot())
	return broker.Account{
		Equity:      snap.Equity,
		BuyingPower: snap.Cash,
		Cash:        snap.Cash,
		Status:      "ACTIVE",
	}, nil
}

// Positions lists held symbols in sorted order.
func (b *Broker) Positions(context.Context) ([]broker.Position, error) {
	snap := b.acct.Snapshot(nil)
	out := make([]broker.Position, 0, len(snap.Positions))
	for sym, pos := range snap.Positions {
		out = append(out, broker.Position{Symbol: sym, Qty: pos.Qty, AvgEntryPrice: pos.AvgCost})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// SubmitOrder simulates an order against the account.
func (b *Broker) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	const op = "paper submit"
	if req.Qty <= 0 {
		return broker.Order{}, &broker.RejectedError{Op: op, Status: http.StatusUnprocessableEntity, Message: "qty must be positive"}
	}
	if req.Type == signal.Limit && req.LimitPrice <= 0 {
		return broker.Order{}, &broker.RejectedError{Op: op, Status: http.StatusUnprocessableEntity, Message: "limit price required"}
	}

	b.mu.Lock()
	_, dup := b.byClientID[req.ClientOrderID]
	b.mu.Unlock()
	if req.ClientOrderID != "" && dup {
		return broker.Order{}, &broker.RejectedError{Op: op, Status: http.StatusUnprocessableEntity, Message: "client_order_id must be unique"}
	}

	bars, err := b.prices.FetchBars(ctx, req.Symbol, 1)
	if err != nil {
		return broker.Order{}, &broker.TransientError{Op: op, Err: err}
	}
	if len(bars) == 0 || bars[len(bars)-1].Close <= 0 {
		return broker.Order{}, &broker.TransientError{Op: op, Err: fmt.Errorf("no price for %s", req.Symbol)}
	}
	last := bars[len(bars)-1].Close
	px := b.slipped(req.Side, last)

	order := broker.Order{
		ID:            uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Qty:           req.Qty,
		Status:        broker.StatusNew,
		SubmittedAt:   b.now(),
	}

	crosses := req.Type != signal.Limit ||
		(req.Side == signal.Buy && px <= req.LimitPrice) ||
		(req.Side == signal.Sell && px >= req.LimitPrice)
	if crosses {
		if req.Type == signal.Limit {
			px = req.LimitPrice
		}
		if err := b.acct.MarketFill(req.Symbol, req.Side, req.Qty, px); err != nil {
			return broker.Order{}, &broker.RejectedError{Op: op, Status: http.StatusForbidden, Message: err.Error()}
		}
		order.Status = broker.StatusFilled
		order.FilledQty = req.Qty
		order.FilledAvgPrice = px
		fill := Fill{
			OrderID:       order.ID,
			ClientOrderID: order.ClientOrderID,
			Symbol:        order.Symbol,
			Side:          order.Side,
			Qty:           order.Qty,
			Price:         px,
			Ts:            order.SubmittedAt,
		}
		for _, r := range b.recorders {
			r.Record(fill)
		}
	}

	b.mu.Lock()
	b.orders[order.ID] = order
	if order.ClientOrderID != "" {
		b.byClientID[order.ClientOrderID] = order.ID
	}
	b.marks[req.Symbol] = last
	b.mu.Unlock()

	b.log.Info().
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Float64("price", px).
		Str("status", string(order.Status)).
		Msg("paper order")
	return order, nil
}

// GetOrder returns a previously submitted order.
func (b *Broker) GetOrder(_ context.Context, id string) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[id]
	if !ok {
		return broker.Order{}, fmt.Errorf("paper get order %s: %w", id, broker.ErrOrderNotFound)
	}
	return order, nil
}

// FindOrderByClientID returns the order submitted under clientOrderID.
func (b *Broker) FindOrderByClientID(_ context.Context, clientOrderID string) (broker.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byClientID[clientOrderID]
	if !ok {
		return broker.Order{}, fmt.Errorf("paper find order %s: %w", clientOrderID, broker.ErrOrderNotFound)
	}
	return b.orders[id], nil
}

func (b *Broker) markSnapshot() map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.marks))
	for k, v := range b.marks {
		out[k] = v
	}
	return out
}

func (b *Broker) slipped(side signal.Side, px float64) float64 {
	adj := b.slippageBps / 10000
	if side == signal.Sell {
		return px * (1 - adj)
	}
	return px * (1 + adj)
}

var _ broker.Broker = (*Broker)(nil)

