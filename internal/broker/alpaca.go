package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

type alpacaAccount struct {
	Status         string          `json:"status"`
	Equity         decimal.Decimal `json:"equity"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	Cash           decimal.Decimal `json:"cash"`
}

type alpacaPosition struct {
	Symbol        string          `json:"symbol"`
	AssetClass    string          `json:"asset_class"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	Side          string          `json:"side"`
}

type alpacaOrderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type alpacaOrder struct {
	ID             string              `json:"id"`
	ClientOrderID  string              `json:"client_order_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`
	Qty            decimal.NullDecimal `json:"qty"`
	FilledQty      decimal.Decimal     `json:"filled_qty"`
	FilledAvgPrice decimal.NullDecimal `json:"filled_avg_price"`
	Status         string              `json:"status"`
	SubmittedAt    time.Time           `json:"submitted_at"`
}

func (o alpacaOrder) toOrder() Order {
	out := Order{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          signal.Side(o.Side),
		FilledQty:     o.FilledQty.InexactFloat64(),
		Status:        OrderStatus(o.Status),
		SubmittedAt:   o.SubmittedAt,
	}
	if o.Qty.Valid {
		out.Qty = o.Qty.Decimal.InexactFloat64()
	}
	if o.FilledAvgPrice.Valid {
		out.FilledAvgPrice = o.FilledAvgPrice.Decimal.InexactFloat64()
	}
	return out
}

// AlpacaClient talks to the Alpaca trading API v2.
type AlpacaClient struct {
	baseURL string
	key     string
	secret  string
	client  *http.Client
	log     zerolog.Logger
}

// NewAlpacaClient builds a client from the broker config section. Credentials
// are expected to be populated by config.LoadSecrets.
func NewAlpacaClient(cfg config.Broker, log zerolog.Logger) (*AlpacaClient, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, errors.New("alpaca credentials missing")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("alpaca base url missing")
	}
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AlpacaClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		key:     cfg.APIKey,
		secret:  cfg.APISecret,
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}, nil
}

// Account fetches equity and buying power.
func (c *AlpacaClient) Account(ctx context.Context) (Account, error) {
	var payload alpacaAccount
	if err := c.do(ctx, "account", http.MethodGet, "/v2/account", nil, &payload); err != nil {
		return Account{}, err
	}
	equity := payload.PortfolioValue
	if equity.IsZero() {
		equity = payload.Equity
	}
	return Account{
		Equity:      equity.InexactFloat64(),
		BuyingPower: payload.BuyingPower.InexactFloat64(),
		Cash:        payload.Cash.InexactFloat64(),
		Status:      payload.Status,
	}, nil
}

// Positions lists open positions with crypto symbols normalized to BASE/QUOTE.
func (c *AlpacaClient) Positions(ctx context.Context) ([]Position, error) {
	var payload []alpacaPosition
	if err := c.do(ctx, "positions", http.MethodGet, "/v2/positions", nil, &payload); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(payload))
	for _, p := range payload {
		sym := p.Symbol
		if p.AssetClass == "crypto" {
			sym = cryptoPair(sym)
		}
		qty := p.Qty
		if p.Side == "short" && qty.IsPositive() {
			qty = qty.Neg()
		}
		out = append(out, Position{Symbol: sym, Qty: qty.InexactFloat64(), AvgEntryPrice: p.AvgEntryPrice.InexactFloat64()})
	}
	return out, nil
}

// SubmitOrder posts a new order. Quantities travel as decimal strings.
func (c *AlpacaClient) SubmitOrder(ctx context.Context, req OrderRequest) (Order, error) {
	body := alpacaOrderRequest{
		Symbol:        req.Symbol,
		Qty:           decimal.NewFromFloat(req.Qty).String(),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
	}
	if body.Type == "" {
		body.Type = string(signal.Market)
	}
	if body.TimeInForce == "" {
		body.TimeInForce = "day"
	}
	// Crypto orders only accept gtc or ioc.
	if signal.IsCrypto(req.Symbol) && body.TimeInForce == "day" {
		body.TimeInForce = "gtc"
	}
	if req.Type == signal.Limit {
		body.LimitPrice = decimal.NewFromFloat(req.LimitPrice).String()
	}
	var payload alpacaOrder
	if err := c.do(ctx, "submit order", http.MethodPost, "/v2/orders", body, &payload); err != nil {
		return Order{}, err
	}
	c.log.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Str("qty", body.Qty).
		Str("client_order_id", req.ClientOrderID).
		Str("status", payload.Status).
		Msg("alpaca order submitted")
	return payload.toOrder(), nil
}

// GetOrder fetches an order by brokerage id.
func (c *AlpacaClient) GetOrder(ctx context.Context, id string) (Order, error) {
	var payload alpacaOrder
	if err := c.do(ctx, "get order", http.MethodGet, "/v2/orders/"+url.PathEscape(id), nil, &payload); err != nil {
		return Order{}, err
	}
	return payload.toOrder(), nil
}

// FindOrderByClientID fetches an order by the idempotency key it was submitted with.
func (c *AlpacaClient) FindOrderByClientID(ctx context.Context, clientOrderID string) (Order, error) {
	var payload alpacaOrder
	path := "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(clientOrderID)
	if err := c.do(ctx, "find order", http.MethodGet, path, nil, &payload); err != nil {
		return Order{}, err
	}
	return payload.toOrder(), nil
}

func (c *AlpacaClient) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.key)
	req.Header.Set("APCA-API-SECRET-KEY", c.secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &TransientError{Op: op, Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(op, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

var cryptoQuotes = []string{"USDT", "USDC", "USD", "BTC"}

// cryptoPair turns the "BTCUSD" form used by the positions endpoint back into "BTC/USD".
func cryptoPair(symbol string) string {
	if strings.Contains(symbol, "/") {
		return symbol
	}
	for _, quote := range cryptoQuotes {
		if base, ok := strings.CutSuffix(symbol, quote); ok && base != "" {
			return base + "/" + quote
		}
	}
	return symbol
}
