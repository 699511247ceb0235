package exchange

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// StubProvider synthesizes daily bars from a hash of the symbol so every run sees the same series.
// Seeded series take precedence, which lets tests pin exact shapes.
type StubProvider struct {
	origin time.Time
	mu     sync.RWMutex
	seeded map[string][]signal.Bar
	failed map[string]error
}

// NewStubProvider constructs an offline provider.
func NewStubProvider() *StubProvider {
	return &StubProvider{
		origin: time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC),
		seeded: make(map[string][]signal.Bar),
		failed: make(map[string]error),
	}
}

// Seed pins the series returned for symbol.
func (s *StubProvider) Seed(symbol string, bars []signal.Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded[symbol] = append([]signal.Bar(nil), bars...)
}

// Fail makes every fetch of symbol return err.
func (s *StubProvider) Fail(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[symbol] = err
}

// FetchBars returns the last lookback bars of the symbol's series.
func (s *StubProvider) FetchBars(_ context.Context, symbol string, lookback int) ([]signal.Bar, error) {
	s.mu.RLock()
	seeded, hasSeed := s.seeded[symbol]
	failure := s.failed[symbol]
	s.mu.RUnlock()

	if failure != nil {
		recordFetch(ProviderStub, failure)
		return nil, &FetchError{Provider: ProviderStub, Symbol: symbol, Err: failure}
	}
	if lookback <= 0 {
		err := fmt.Errorf("lookback must be positive, got %d", lookback)
		recordFetch(ProviderStub, err)
		return nil, &FetchError{Provider: ProviderStub, Symbol: symbol, Err: err}
	}
	recordFetch(ProviderStub, nil)
	if hasSeed {
		if len(seeded) > lookback {
			seeded = seeded[len(seeded)-lookback:]
		}
		return append([]signal.Bar(nil), seeded...), nil
	}
	return s.synthesize(symbol, lookback), nil
}

// Ping always succeeds.
func (s *StubProvider) Ping(context.Context) error { return nil }

// stubSeriesEnd anchors the synthetic series so the newest bar is the same whatever the lookback.
const stubSeriesEnd = 1000

func (s *StubProvider) synthesize(symbol string, n int) []signal.Bar {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	seed := h.Sum32()

	base := 20 + float64(seed%480)
	phase := float64(seed%97) / 97 * 2 * math.Pi
	drift := (float64(seed%7) - 3) * 0.0002
	if signal.IsCrypto(symbol) {
		base *= 10
	}

	bars := make([]signal.Bar, n)
	for k := 0; k < n; k++ {
		i := stubSeriesEnd - n + k
		x := float64(i)
		px := base * (1 + drift*x) * (1 + 0.05*math.Sin(x/6+phase))
		if px < 0.01 {
			px = 0.01
		}
		vol := 1000 * (1.5 + math.Sin(x/3+phase))
		bars[k] = signal.Bar{
			Ts:     s.origin.AddDate(0, 0, i),
			Open:   px * 0.995,
			High:   px * 1.01,
			Low:    px * 0.99,
			Close:  px,
			Volume: vol,
		}
	}
	return bars
}
