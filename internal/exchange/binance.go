package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

const defaultBinanceWSURL = "wss://ws-api.binance.com:443/ws-api/v3"

// Binance caps a single klines request at 1000 rows.
const binanceMaxLimit = 1000

type binanceRequest struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type binanceResponse struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"error"`
}

// BinanceKlines requests candles over the Binance WebSocket API. Each call opens
// its own connection so nothing outlives a run.
type BinanceKlines struct {
	url      string
	interval string
	timeout  time.Duration
	dials    int
	log      zerolog.Logger
}

func newBinanceKlines(url, interval string, timeout time.Duration, log zerolog.Logger) *BinanceKlines {
	return &BinanceKlines{url: url, interval: interval, timeout: timeout, dials: 3, log: log}
}

// FetchBars returns up to lookback klines for a BASE/QUOTE pair, oldest first.
func (b *BinanceKlines) FetchBars(ctx context.Context, symbol string, lookback int) ([]signal.Bar, error) {
	bars, err := b.fetch(ctx, symbol, lookback)
	recordFetch(ProviderBinance, err)
	if err != nil {
		return nil, &FetchError{Provider: ProviderBinance, Symbol: symbol, Err: err}
	}
	return bars, nil
}

func (b *BinanceKlines) fetch(ctx context.Context, symbol string, lookback int) ([]signal.Bar, error) {
	if !signal.IsCrypto(symbol) {
		return nil, fmt.Errorf("binance serves crypto pairs only")
	}
	if lookback <= 0 || lookback > binanceMaxLimit {
		return nil, fmt.Errorf("lookback %d outside 1..%d", lookback, binanceMaxLimit)
	}
	raw, err := b.call(ctx, "klines", map[string]any{
		"symbol":   binanceSymbol(symbol),
		"interval": b.interval,
		"limit":    lookback,
	})
	if err != nil {
		return nil, err
	}
	return parseKlines(raw)
}

// Ping issues the API's ping method.
func (b *BinanceKlines) Ping(ctx context.Context) error {
	if _, err := b.call(ctx, "ping", nil); err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}
	return nil
}

func (b *BinanceKlines) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	conn, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(b.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadLimit(4 << 20)
	conn.SetWriteDeadline(deadline)
	conn.SetReadDeadline(deadline)

	req := binanceRequest{ID: uuid.NewString(), Method: method, Params: params}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", method, err)
		}
		var resp binanceResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			b.log.Warn().Err(err).Msg("failed to decode binance message")
			continue
		}
		if resp.ID != req.ID {
			continue
		}
		if resp.Status != 200 {
			if resp.Error != nil {
				return nil, fmt.Errorf("binance status %d: code %d: %s", resp.Status, resp.Error.Code, resp.Error.Msg)
			}
			return nil, fmt.Errorf("binance status %d", resp.Status)
		}
		return resp.Result, nil
	}
}

func (b *BinanceKlines) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: b.timeout}
	backoff := 250 * time.Millisecond
	const maxBackoff = 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= b.dials; attempt++ {
		conn, _, err := dialer.DialContext(ctx, b.url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == b.dials {
			break
		}
		b.log.Warn().Err(err).Int("attempt", attempt).Msg("binance dial failed, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
	return nil, fmt.Errorf("dial binance: %w", lastErr)
}

// parseKlines decodes rows of [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlines(raw json.RawMessage) ([]signal.Bar, error) {
	var rows [][]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	bars := make([]signal.Bar, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline %d: expected at least 6 fields, got %d", i, len(row))
		}
		openTime, ok := row[0].(float64)
		if !ok {
			return nil, fmt.Errorf("kline %d: invalid open time", i)
		}
		var vals [5]float64
		for j := range vals {
			s, ok := row[j+1].(string)
			if !ok {
				return nil, fmt.Errorf("kline %d: field %d is not a decimal string", i, j+1)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline %d: %w", i, err)
			}
			vals[j] = v
		}
		bars = append(bars, signal.Bar{
			Ts:     time.UnixMilli(int64(openTime)).UTC(),
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: vals[4],
		})
	}
	return bars, nil
}

// binanceSymbol maps Alpaca's "BTC/USD" form onto Binance's "BTCUSDT"; USD pairs trade against USDT.
func binanceSymbol(symbol string) string {
	base, quote, found := strings.Cut(strings.ToUpper(symbol), "/")
	if !found {
		return strings.ToUpper(symbol)
	}
	if quote == "USD" {
		quote = "USDT"
	}
	return base + quote
}

var errUnsupportedInterval = errors.New("unsupported binance interval")

// binanceInterval converts Alpaca timeframe notation into a Binance kline interval.
func binanceInterval(tf string) (string, error) {
	n, unit, err := parseTimeframe(tf)
	if err != nil {
		return "", err
	}
	suffix := map[string]string{"Min": "m", "Hour": "h", "Day": "d", "Week": "w", "Month": "M"}[unit]
	interval := strconv.Itoa(n) + suffix
	switch interval {
	case "1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d", "3d", "1w", "1M":
		return interval, nil
	}
	return "", fmt.Errorf("%w: %s", errUnsupportedInterval, tf)
}
