package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestAlpacaBars(t *testing.T, handler http.HandlerFunc) *AlpacaBars {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	p, err := NewProvider(ProviderAlpaca, zerolog.Nop(),
		WithBaseURL(server.URL),
		WithCredentials("key", "secret"),
		WithFeed("iex"),
	)
	if err != nil {
		t.Fatalf("NewProvider returned error: %v", err)
	}
	bars := p.(*AlpacaBars)
	bars.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return bars
}

func TestAlpacaStockBars(t *testing.T) {
	const body = `{"bars":[
		{"t":"2024-05-31T04:00:00Z","o":10,"h":11,"l":9,"c":10.5,"v":1200},
		{"t":"2024-05-30T04:00:00Z","o":9,"h":10,"l":8,"c":9.5,"v":1000}
	],"symbol":"AAPL","next_page_token":null}`
	provider := newTestAlpacaBars(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/stocks/AAPL/bars" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("timeframe") != "1Day" || q.Get("limit") != "2" || q.Get("sort") != "desc" || q.Get("feed") != "iex" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("APCA-API-KEY-ID") != "key" || r.Header.Get("APCA-API-SECRET-KEY") != "secret" {
			t.Errorf("missing auth headers")
		}
		_, _ = w.Write([]byte(body))
	})

	bars, err := provider.FetchBars(context.Background(), "AAPL", 2)
	if err != nil {
		t.Fatalf("FetchBars returned error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].Close != 9.5 || bars[1].Close != 10.5 {
		t.Fatalf("expected oldest first, got %+v", bars)
	}
	if bars[1].Volume != 1200 || !bars[1].Ts.Equal(time.Date(2024, 5, 31, 4, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected decoded bar: %+v", bars[1])
	}
}

func TestAlpacaCryptoBars(t *testing.T) {
	const body = `{"bars":{"BTC/USD":[
		{"t":"2024-05-31T00:00:00Z","o":67000,"h":68000,"l":66000,"c":67500,"v":12.5}
	]},"next_page_token":null}`
	provider := newTestAlpacaBars(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta3/crypto/us/bars" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbols") != "BTC/USD" {
			t.Errorf("unexpected symbols %q", r.URL.Query().Get("symbols"))
		}
		_, _ = w.Write([]byte(body))
	})
	bars, err := provider.FetchBars(context.Background(), "BTC/USD", 1)
	if err != nil {
		t.Fatalf("FetchBars returned error: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 67500 || bars[0].Volume != 12.5 {
		t.Fatalf("unexpected bars: %+v", bars)
	}
}

func TestAlpacaBarsErrorStatus(t *testing.T) {
	provider := newTestAlpacaBars(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
	})
	_, err := provider.FetchBars(context.Background(), "AAPL", 10)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.Provider != ProviderAlpaca || fetchErr.Symbol != "AAPL" {
		t.Fatalf("unexpected error detail: %+v", fetchErr)
	}
}

func TestAlpacaPing(t *testing.T) {
	provider := newTestAlpacaBars(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta3/crypto/us/latest/bars" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"bars":{}}`))
	})
	if err := provider.Ping(context.Background()); err != nil {
		t.Fatalf("Ping returned error: %v", err)
	}
}
