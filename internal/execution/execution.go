// Package execution submits trade intents to the brokerage with bounded retries.
package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/metrics"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// Status is the terminal classification of one intent's execution.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusFilled    Status = "filled"
	StatusRejected  Status = "rejected"
	StatusError     Status = "error"
)

// Outcome records what happened to one intent. It is never mutated after Execute returns.
type Outcome struct {
	Intent         signal.TradeIntent
	Status         Status
	OrderID        string
	ClientOrderID  string
	Attempts       int
	Reason         string
	FilledQty      float64
	FilledAvgPrice float64
	At             time.Time
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Gateway drives the submit/lookup/retry state machine against a broker.
// Executions are serialized so concurrent callers never race on buying power.
type Gateway struct {
	mu          sync.Mutex
	broker      broker.Broker
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	timeInForce string
	log         zerolog.Logger
	sleep       SleepFunc
	now         func() time.Time
	newID       func() string
}

// Option configures the gateway.
type Option func(*Gateway)

// WithSleep replaces the backoff wait, mostly for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(g *Gateway) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// WithClock overrides the outcome timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithIDGenerator overrides client order id generation.
func WithIDGenerator(newID func() string) Option {
	return func(g *Gateway) {
		if newID != nil {
			g.newID = newID
		}
	}
}

// NewGateway wraps b with the retry policy from cfg.
func NewGateway(b broker.Broker, cfg config.Execution, log zerolog.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		broker:      b,
		maxAttempts: cfg.MaxAttempts,
		backoff:     time.Duration(cfg.BackoffMs) * time.Millisecond,
		maxBackoff:  time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
		timeInForce: cfg.TimeInForce,
		log:         log,
		sleep:       sleepContext,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	if g.maxAttempts <= 0 {
		g.maxAttempts = 3
	}
	if g.backoff <= 0 {
		g.backoff = 500 * time.Millisecond
	}
	if g.maxBackoff < g.backoff {
		g.maxBackoff = 10 * g.backoff
	}
	if g.timeInForce == "" {
		g.timeInForce = "day"
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs one intent to a terminal outcome. It never returns an error:
// failures are reported through Outcome.Status and Outcome.Reason.
func (g *Gateway) Execute(ctx context.Context, intent signal.TradeIntent) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := Outcome{Intent: intent, ClientOrderID: g.newID()}
	if intent.Qty <= 0 {
		out.Status = StatusRejected
		out.Reason = "non-positive quantity"
		return g.record(out)
	}
	req := broker.OrderRequest{
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Qty:           intent.Qty,
		Type:          intent.Type,
		LimitPrice:    intent.LimitPrice,
		TimeInForce:   g.timeInForce,
		ClientOrderID: out.ClientOrderID,
	}

	var lastErr error
	delay := g.backoff
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			metrics.OrderRetriesTotal.Inc()
			g.log.Warn().
				Str("symbol", intent.Symbol).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("retrying order")
			if err := g.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
			delay = min(delay*2, g.maxBackoff)
		}
		out.Attempts = attempt

		order, err := g.attempt(ctx, req, out.OrderID, attempt)
		if order.ID != "" {
			out.OrderID = order.ID
		}
		if err == nil {
			return g.record(settle(out, order))
		}
		lastErr = err

		var rejected *broker.RejectedError
		if errors.As(err, &rejected) {
			out.Status = StatusRejected
			out.Reason = rejected.Message
			return g.record(out)
		}
		if ctx.Err() != nil {
			break
		}
	}

	out.Status = StatusError
	if lastErr != nil {
		out.Reason = lastErr.Error()
	}
	return g.record(out)
}

// attempt performs one pass of the state machine. A known order id is looked
// up directly. On retries without one, an earlier submission that reached the
// broker despite a failed response is recovered by client order id before
// anything is resubmitted.
func (g *Gateway) attempt(ctx context.Context, req broker.OrderRequest, orderID string, attempt int) (broker.Order, error) {
	if orderID != "" {
		return g.broker.GetOrder(ctx, orderID)
	}
	if attempt > 1 {
		order, err := g.broker.FindOrderByClientID(ctx, req.ClientOrderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, broker.ErrOrderNotFound) {
			return broker.Order{}, err
		}
	}
	return g.broker.SubmitOrder(ctx, req)
}

func settle(out Outcome, order broker.Order) Outcome {
	out.OrderID = order.ID
	out.FilledQty = order.FilledQty
	out.FilledAvgPrice = order.FilledAvgPrice
	switch order.Status {
	case broker.StatusFilled:
		out.Status = StatusFilled
	case broker.StatusRejected, broker.StatusCanceled, broker.StatusExpired:
		out.Status = StatusRejected
		out.Reason = "order " + string(order.Status)
	default:
		out.Status = StatusSubmitted
	}
	return out
}

func (g *Gateway) record(out Outcome) Outcome {
	out.At = g.now()
	metrics.OrdersTotal.WithLabelValues(out.Intent.Symbol, string(out.Intent.Side), string(out.Status)).Inc()
	event := g.log.Info()
	if out.Status == StatusError || out.Status == StatusRejected {
		event = g.log.Warn()
	}
	event.
		Str("sym", out.Intent.Symbol).
		Str("side", string(out.Intent.Side)).
		Float64("qty", out.Intent.Qty).
		Str("status", string(out.Status)).
		Str("client_order_id", out.ClientOrderID).
		Str("order_id", out.OrderID).
		Int("attempts", out.Attempts).
		Str("reason", out.Reason).
		Msg("order outcome")
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
