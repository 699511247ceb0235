// Package broker defines the brokerage port used by the strategy and execution layers.
package broker

import (
	"context"
	"time"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// Account is the subset of account state the bot sizes against.
type Account struct {
	Equity      float64
	BuyingPower float64
	Cash        float64
	Status      string
}

// Position is a held quantity. Qty is negative for shorts.
type Position struct {
	Symbol        string
	Qty           float64
	AvgEntryPrice float64
}

// OrderRequest is one order submission. ClientOrderID is the idempotency key.
type OrderRequest struct {
	Symbol        string
	Side          signal.Side
	Qty           float64
	Type          signal.OrderType
	LimitPrice    float64
	TimeInForce   string
	ClientOrderID string
}

// OrderStatus mirrors the brokerage order lifecycle.
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusAccepted        OrderStatus = "accepted"
	StatusPendingNew      OrderStatus = "pending_new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCanceled        OrderStatus = "canceled"
	StatusExpired         OrderStatus = "expired"
	StatusRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

// Order is the brokerage's view of a submitted order.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           signal.Side
	Qty            float64
	FilledQty      float64
	FilledAvgPrice float64
	Status         OrderStatus
	SubmittedAt    time.Time
}

// Broker is the brokerage port. Implementations return *TransientError for
// failures worth retrying, *RejectedError for definitive refusals and
// ErrOrderNotFound when an order lookup matches nothing.
type Broker interface {
	Account(ctx context.Context) (Account, error)
	Positions(ctx context.Context) ([]Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	FindOrderByClientID(ctx context.Context, clientOrderID string) (Order, error)
}

// PositionIndex keys positions by symbol.
func PositionIndex(positions []Position) map[string]Position {
	out := make(map[string]Position, len(positions))
	for _, p := range positions {
		out[p.Symbol] = p
	}
	return out
}
