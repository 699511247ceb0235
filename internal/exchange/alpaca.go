package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

const defaultAlpacaDataURL = "https://data.alpaca.markets"

type alpacaStockBarsResponse struct {
	Bars   []signal.Bar `json:"bars"`
	Symbol string       `json:"symbol"`
}

type alpacaCryptoBarsResponse struct {
	Bars map[string][]signal.Bar `json:"bars"`
}

// AlpacaBars reads historical bars from the Alpaca market data API: v2 for
// equities and v1beta3 for crypto pairs.
type AlpacaBars struct {
	baseURL   string
	feed      string
	timeframe string
	apiKey    string
	apiSecret string
	client    *http.Client
	log       zerolog.Logger
	now       func() time.Time
}

func newAlpacaBars(o options, log zerolog.Logger) *AlpacaBars {
	return &AlpacaBars{
		baseURL:   o.baseURL,
		feed:      o.feed,
		timeframe: o.timeframe,
		apiKey:    o.apiKey,
		apiSecret: o.apiSecret,
		client:    o.client,
		log:       log,
		now:       time.Now,
	}
}

// FetchBars requests the newest lookback bars in descending order and returns them oldest first.
func (a *AlpacaBars) FetchBars(ctx context.Context, symbol string, lookback int) ([]signal.Bar, error) {
	bars, err := a.fetch(ctx, symbol, lookback)
	recordFetch(ProviderAlpaca, err)
	if err != nil {
		return nil, &FetchError{Provider: ProviderAlpaca, Symbol: symbol, Err: err}
	}
	return bars, nil
}

func (a *AlpacaBars) fetch(ctx context.Context, symbol string, lookback int) ([]signal.Bar, error) {
	if lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive, got %d", lookback)
	}
	step, err := timeframeDuration(a.timeframe)
	if err != nil {
		return nil, err
	}
	// Weekends and holidays leave gaps in equity series, so reach back well beyond lookback bars.
	start := a.now().Add(-time.Duration(lookback*2+10) * step).UTC()

	params := url.Values{}
	params.Set("timeframe", a.timeframe)
	params.Set("start", start.Format(time.RFC3339))
	params.Set("limit", strconv.Itoa(lookback))
	params.Set("sort", "desc")

	var endpoint string
	crypto := signal.IsCrypto(symbol)
	if crypto {
		params.Set("symbols", symbol)
		endpoint = fmt.Sprintf("%s/v1beta3/crypto/us/bars?%s", a.baseURL, params.Encode())
	} else {
		params.Set("adjustment", "raw")
		if a.feed != "" {
			params.Set("feed", a.feed)
		}
		endpoint = fmt.Sprintf("%s/v2/stocks/%s/bars?%s", a.baseURL, url.PathEscape(symbol), params.Encode())
	}

	body, err := a.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var bars []signal.Bar
	if crypto {
		var payload alpacaCryptoBarsResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode crypto bars: %w", err)
		}
		bars = payload.Bars[symbol]
	} else {
		var payload alpacaStockBarsResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode stock bars: %w", err)
		}
		bars = payload.Bars
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	a.log.Debug().Str("symbol", symbol).Int("bars", len(bars)).Msg("fetched alpaca bars")
	return bars, nil
}

// Ping requests the latest BTC/USD bar, which needs no market-hours or feed entitlement.
func (a *AlpacaBars) Ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/v1beta3/crypto/us/latest/bars?symbols=%s", a.baseURL, url.QueryEscape("BTC/USD"))
	if _, err := a.get(ctx, endpoint); err != nil {
		return fmt.Errorf("alpaca data ping: %w", err)
	}
	return nil
}

func (a *AlpacaBars) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if a.apiKey != "" {
		req.Header.Set("APCA-API-KEY-ID", a.apiKey)
		req.Header.Set("APCA-API-SECRET-KEY", a.apiSecret)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
