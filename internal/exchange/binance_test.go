package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// newBinanceServer answers every request with reply(method, params) tagged with the request id.
func newBinanceServer(t *testing.T, reply func(method string, params map[string]any) map[string]any) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			var req binanceRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			// An unrelated frame first: responses are matched by id.
			_ = conn.WriteJSON(map[string]any{"id": "other", "status": 200, "result": []any{}})
			resp := reply(req.Method, req.Params)
			resp["id"] = req.ID
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestBinanceKlines(t *testing.T) {
	url := newBinanceServer(t, func(method string, params map[string]any) map[string]any {
		if method != "klines" {
			t.Errorf("unexpected method %s", method)
		}
		if params["symbol"] != "BTCUSDT" || params["interval"] != "1d" || params["limit"] != float64(2) {
			t.Errorf("unexpected params %+v", params)
		}
		return map[string]any{
			"status": 200,
			"result": []any{
				[]any{1717113600000, "67000.1", "68000", "66000", "67500.5", "1200.25", 1717199999999, "0", 100, "0", "0", "0"},
				[]any{1717200000000, "67500.5", "69000", "67000", "68800", "900", 1717286399999, "0", 100, "0", "0", "0"},
			},
		}
	})
	provider, err := NewProvider(ProviderBinance, zerolog.Nop(), WithBinanceURL(url), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	bars, err := provider.FetchBars(context.Background(), "BTC/USD", 2)
	if err != nil {
		t.Fatalf("FetchBars returned error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Open != 67000.1 || bars[0].Close != 67500.5 || bars[0].Volume != 1200.25 {
		t.Fatalf("unexpected first bar: %+v", bars[0])
	}
	if !bars[1].Ts.Equal(time.UnixMilli(1717200000000)) {
		t.Fatalf("unexpected timestamp %s", bars[1].Ts)
	}
}

func TestBinanceKlinesErrorStatus(t *testing.T) {
	url := newBinanceServer(t, func(string, map[string]any) map[string]any {
		return map[string]any{"status": 400, "error": map[string]any{"code": -1121, "msg": "Invalid symbol."}}
	})
	provider, err := NewProvider(ProviderBinance, zerolog.Nop(), WithBinanceURL(url), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	_, err = provider.FetchBars(context.Background(), "XYZ/USD", 5)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) || !strings.Contains(err.Error(), "Invalid symbol") {
		t.Fatalf("expected FetchError with binance message, got %v", err)
	}
}

func TestBinanceRejectsEquities(t *testing.T) {
	provider, err := NewProvider(ProviderBinance, zerolog.Nop(), WithBinanceURL("ws://127.0.0.1:1"))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if _, err := provider.FetchBars(context.Background(), "AAPL", 5); err == nil {
		t.Fatalf("expected error for equity symbol")
	}
}

func TestBinancePing(t *testing.T) {
	url := newBinanceServer(t, func(method string, _ map[string]any) map[string]any {
		if method != "ping" {
			t.Errorf("unexpected method %s", method)
		}
		return map[string]any{"status": 200, "result": map[string]any{}}
	})
	provider, err := NewProvider(ProviderBinance, zerolog.Nop(), WithBinanceURL(url), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	if err := provider.(Pinger).Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
}

func TestParseKlinesRejectsShortRows(t *testing.T) {
	raw, _ := json.Marshal([]any{[]any{1, "1", "1"}})
	if _, err := parseKlines(raw); err == nil {
		t.Fatalf("expected error for short kline row")
	}
}
