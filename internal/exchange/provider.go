// Package exchange hosts market data connectors that return bar series for a symbol.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/metrics"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

const (
	// ProviderStub emits deterministic synthetic bars (useful for tests/offline work).
	ProviderStub = "stub"
	// ProviderAlpaca reads historical bars from the Alpaca market data API.
	ProviderAlpaca = "alpaca"
	// ProviderBinance requests klines over the Binance WebSocket API (crypto only).
	ProviderBinance = "binance"
)

// Provider returns the most recent bars for a symbol, oldest first.
type Provider interface {
	FetchBars(ctx context.Context, symbol string, lookback int) ([]signal.Bar, error)
}

// Pinger is implemented by providers that can verify connectivity before a run.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FetchError wraps any failure to obtain bars for a symbol.
type FetchError struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: fetch %s: %v", e.Provider, e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type options struct {
	baseURL    string
	binanceURL string
	feed       string
	timeframe  string
	apiKey     string
	apiSecret  string
	client     *http.Client
	timeout    time.Duration
}

// Option configures provider construction parameters.
type Option func(*options)

const defaultTimeout = 10 * time.Second

// WithBaseURL overrides the Alpaca market data endpoint.
func WithBaseURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithBinanceURL overrides the Binance WebSocket API endpoint.
func WithBinanceURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.binanceURL = url
		}
	}
}

// WithFeed selects the Alpaca stock feed (iex, sip).
func WithFeed(feed string) Option {
	return func(o *options) { o.feed = feed }
}

// WithTimeframe sets the bar interval in Alpaca notation (1Min, 15Min, 1Hour, 1Day, 1Week).
func WithTimeframe(tf string) Option {
	return func(o *options) {
		if tf != "" {
			o.timeframe = tf
		}
	}
}

// WithCredentials injects the Alpaca key pair used for data requests.
func WithCredentials(key, secret string) Option {
	return func(o *options) {
		o.apiKey = key
		o.apiSecret = secret
	}
}

// WithHTTPClient replaces the HTTP client used by REST providers.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithTimeout bounds every request issued by the provider.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// NewProvider constructs the provider registered under name.
func NewProvider(name string, log zerolog.Logger, opts ...Option) (Provider, error) {
	o := options{
		baseURL:    defaultAlpacaDataURL,
		binanceURL: defaultBinanceWSURL,
		timeframe:  "1Day",
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: o.timeout}
	}
	switch strings.ToLower(name) {
	case "", ProviderStub:
		return NewStubProvider(), nil
	case ProviderAlpaca:
		return newAlpacaBars(o, log), nil
	case ProviderBinance:
		interval, err := binanceInterval(o.timeframe)
		if err != nil {
			return nil, err
		}
		return newBinanceKlines(o.binanceURL, interval, o.timeout, log), nil
	default:
		return nil, fmt.Errorf("unknown market data provider %q", name)
	}
}

// FromConfig builds the provider described by the data section. When a crypto
// provider is configured, BASE/QUOTE symbols are routed to it.
func FromConfig(data config.Data, brokerCfg config.Broker, log zerolog.Logger) (Provider, error) {
	opts := []Option{
		WithBaseURL(data.BaseURL),
		WithBinanceURL(data.BinanceURL),
		WithFeed(data.Feed),
		WithTimeframe(data.Timeframe),
		WithCredentials(brokerCfg.APIKey, brokerCfg.APISecret),
		WithTimeout(time.Duration(data.TimeoutMs) * time.Millisecond),
	}
	primary, err := NewProvider(data.Provider, log, opts...)
	if err != nil {
		return nil, err
	}
	if data.CryptoProvider == "" || strings.EqualFold(data.CryptoProvider, data.Provider) {
		return primary, nil
	}
	crypto, err := NewProvider(data.CryptoProvider, log, opts...)
	if err != nil {
		return nil, err
	}
	return NewRouter(primary, crypto), nil
}

// Router sends crypto pairs to one provider and everything else to another.
type Router struct {
	stocks Provider
	crypto Provider
}

// NewRouter pairs a stock provider with a crypto provider.
func NewRouter(stocks, crypto Provider) *Router {
	return &Router{stocks: stocks, crypto: crypto}
}

// FetchBars dispatches on the symbol form.
func (r *Router) FetchBars(ctx context.Context, symbol string, lookback int) ([]signal.Bar, error) {
	if signal.IsCrypto(symbol) {
		return r.crypto.FetchBars(ctx, symbol, lookback)
	}
	return r.stocks.FetchBars(ctx, symbol, lookback)
}

// Ping checks every routed provider that supports it.
func (r *Router) Ping(ctx context.Context) error {
	for _, p := range []Provider{r.stocks, r.crypto} {
		if pinger, ok := p.(Pinger); ok {
			if err := pinger.Ping(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseTimeframe splits Alpaca notation such as "15Min" into a count and unit.
func parseTimeframe(tf string) (int, string, error) {
	for _, unit := range []string{"Min", "Hour", "Day", "Week", "Month"} {
		if !strings.HasSuffix(tf, unit) {
			continue
		}
		num := strings.TrimSuffix(tf, unit)
		if num == "" {
			return 1, unit, nil
		}
		n, err := strconv.Atoi(num)
		if err != nil || n <= 0 {
			return 0, "", fmt.Errorf("invalid timeframe %q", tf)
		}
		return n, unit, nil
	}
	return 0, "", fmt.Errorf("invalid timeframe %q", tf)
}

func timeframeDuration(tf string) (time.Duration, error) {
	n, unit, err := parseTimeframe(tf)
	if err != nil {
		return 0, err
	}
	var base time.Duration
	switch unit {
	case "Min":
		base = time.Minute
	case "Hour":
		base = time.Hour
	case "Day":
		base = 24 * time.Hour
	case "Week":
		base = 7 * 24 * time.Hour
	case "Month":
		base = 31 * 24 * time.Hour
	}
	return time.Duration(n) * base, nil
}

func recordFetch(provider string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BarFetchesTotal.WithLabelValues(provider, result).Inc()
}
