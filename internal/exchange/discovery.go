package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
)

type moversResponse struct {
	Gainers    []mover `json:"gainers"`
	Losers     []mover `json:"losers"`
	MarketType string  `json:"market_type"`
}

type mover struct {
	Symbol        string  `json:"symbol"`
	PercentChange float64 `json:"percent_change"`
	Change        float64 `json:"change"`
	Price         float64 `json:"price"`
}

// Discovery widens the configured universe with the day's movers from the
// Alpaca screener: the steepest stock losers and the largest crypto moves.
type Discovery struct {
	log     zerolog.Logger
	client  *http.Client
	baseURL string
	key     string
	secret  string
	cfg     config.Discovery
}

// NewDiscovery constructs a discovery service; returns nil if disabled.
func NewDiscovery(cfg config.Discovery, data config.Data, brokerCfg config.Broker, log zerolog.Logger) *Discovery {
	if !cfg.Enabled {
		return nil
	}
	baseURL := data.BaseURL
	if baseURL == "" {
		baseURL = defaultAlpacaDataURL
	}
	timeout := time.Duration(data.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Discovery{
		log:     log,
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		key:     brokerCfg.APIKey,
		secret:  brokerCfg.APISecret,
		cfg:     cfg,
	}
}

// Discover returns discovered symbols, stocks first, each list ordered by move size.
// When one market fails the other market's symbols are still returned with the error.
func (d *Discovery) Discover(ctx context.Context) ([]string, error) {
	if d == nil {
		return nil, nil
	}
	var (
		out  []string
		errs []error
	)
	if d.cfg.Stocks > 0 {
		resp, err := d.movers(ctx, "stocks", d.cfg.Stocks)
		if err != nil {
			errs = append(errs, err)
		} else {
			out = append(out, d.rank(resp.Losers, d.cfg.Stocks)...)
		}
	}
	if d.cfg.Crypto > 0 {
		resp, err := d.movers(ctx, "crypto", d.cfg.Crypto)
		if err != nil {
			errs = append(errs, err)
		} else {
			all := append(append([]mover(nil), resp.Gainers...), resp.Losers...)
			out = append(out, d.rank(all, d.cfg.Crypto)...)
		}
	}
	d.log.Info().Strs("discovered", out).Int("failed", len(errs)).Msg("screener discovery complete")
	return out, errors.Join(errs...)
}

func (d *Discovery) rank(movers []mover, limit int) []string {
	filtered := make([]mover, 0, len(movers))
	seen := make(map[string]struct{}, len(movers))
	for _, m := range movers {
		sym := strings.ToUpper(strings.TrimSpace(m.Symbol))
		if sym == "" || m.Price < d.cfg.MinPrice {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		m.Symbol = sym
		filtered = append(filtered, m)
	}
	sort.Slice(filtered, func(i, j int) bool {
		a, b := math.Abs(filtered[i].PercentChange), math.Abs(filtered[j].PercentChange)
		if a != b {
			return a > b
		}
		return filtered[i].Symbol < filtered[j].Symbol
	})
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	out := make([]string, len(filtered))
	for i, m := range filtered {
		out[i] = m.Symbol
	}
	return out
}

func (d *Discovery) movers(ctx context.Context, market string, top int) (*moversResponse, error) {
	endpoint := fmt.Sprintf("%s/v1beta1/screener/%s/movers?top=%s", d.baseURL, market, strconv.Itoa(top))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if d.key != "" {
		req.Header.Set("APCA-API-KEY-ID", d.key)
		req.Header.Set("APCA-API-SECRET-KEY", d.secret)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s movers: unexpected status %d", market, resp.StatusCode)
	}
	var payload moversResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%s movers: decode: %w", market, err)
	}
	return &payload, nil
}

// MergeSymbols appends discovered symbols missing from base, keeping base order.
func MergeSymbols(base, discovered []string) []string {
	set := make(map[string]struct{}, len(base)+len(discovered))
	out := make([]string, 0, len(base)+len(discovered))
	for _, list := range [][]string{base, discovered} {
		for _, sym := range list {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			if _, ok := set[sym]; ok {
				continue
			}
			set[sym] = struct{}{}
			out = append(out, sym)
		}
	}
	return out
}
