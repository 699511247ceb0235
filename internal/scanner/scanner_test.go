package scanner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/exchange"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/indicator"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// fixedComputer returns canned features per symbol and ignores the bars.
type fixedComputer struct {
	features map[string]map[string]float64
	inFlight int32
	peak     int32
}

func (f *fixedComputer) Lookback() int { return 5 }

func (f *fixedComputer) Compute(symbol string, bars []signal.Bar) (signal.FeatureSnapshot, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	vals, ok := f.features[symbol]
	if !ok {
		return signal.FeatureSnapshot{}, &indicator.InsufficientDataError{Symbol: symbol, Need: 50, Have: len(bars)}
	}
	return signal.FeatureSnapshot{Symbol: symbol, Values: vals}, nil
}

func feats(trend, rsi, volRatio float64) map[string]float64 {
	return map[string]float64{
		signal.FeatureClose:       100,
		signal.FeatureTrend:       trend,
		signal.FeatureRSI:         rsi,
		signal.FeatureVolumeRatio: volRatio,
	}
}

func defaultScannerConfig() config.Scanner {
	return config.Scanner{MaxCandidates: 10, Workers: 1, TrendWeight: 1, OscillatorWeight: 0.5, VolumeWeight: 0.5}
}

func TestScanRanksWithSymbolTieBreak(t *testing.T) {
	computer := &fixedComputer{features: map[string]map[string]float64{
		"MSFT":    feats(1, 50, 1),  // 1.0
		"AAPL":    feats(1, 50, 1),  // 1.0, ties with MSFT
		"TSLA":    feats(-1, 50, 1), // -1.0
		"BTC/USD": feats(1, 30, 1.2),
	}}
	s := New(defaultScannerConfig(), zerolog.Nop())
	res := s.Scan(context.Background(), []string{"TSLA", "MSFT", "BTC/USD", "AAPL"}, exchange.NewStubProvider(), computer)

	want := []string{"BTC/USD", "AAPL", "MSFT", "TSLA"}
	if len(res.Ranked) != len(want) {
		t.Fatalf("expected %d ranked, got %d", len(want), len(res.Ranked))
	}
	for i, sym := range want {
		if res.Ranked[i].Symbol != sym {
			t.Fatalf("rank %d: expected %s, got %s", i, sym, res.Ranked[i].Symbol)
		}
	}
	for i := 1; i < len(res.Ranked); i++ {
		if res.Ranked[i].Score > res.Ranked[i-1].Score {
			t.Fatalf("scores not descending at %d", i)
		}
	}
}

func TestScanTruncatesAndThresholds(t *testing.T) {
	computer := &fixedComputer{features: map[string]map[string]float64{
		"A": feats(1, 20, 2),
		"B": feats(1, 40, 1.5),
		"C": feats(1, 60, 1),
		"D": feats(-1, 80, 0.5),
	}}
	cfg := defaultScannerConfig()
	cfg.MaxCandidates = 2
	res := New(cfg, zerolog.Nop()).Scan(context.Background(), []string{"A", "B", "C", "D"}, exchange.NewStubProvider(), computer)
	if len(res.Candidates) != 2 || res.Candidates[0].Symbol != "A" || res.Candidates[1].Symbol != "B" {
		t.Fatalf("unexpected candidates: %+v", res.Candidates)
	}
	if len(res.Ranked) != 4 {
		t.Fatalf("expected all four ranked, got %d", len(res.Ranked))
	}

	threshold := 0.95
	cfg.MaxCandidates = 10
	cfg.MinScore = &threshold
	res = New(cfg, zerolog.Nop()).Scan(context.Background(), []string{"A", "B", "C", "D"}, exchange.NewStubProvider(), computer)
	for _, c := range res.Candidates {
		if c.Score < threshold {
			t.Fatalf("candidate %s below threshold: %.3f", c.Symbol, c.Score)
		}
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("expected A and B above threshold, got %+v", res.Candidates)
	}
}

func TestScanRecordsUnscored(t *testing.T) {
	stub := exchange.NewStubProvider()
	stub.Fail("DEAD", errors.New("delisted"))
	computer := &fixedComputer{features: map[string]map[string]float64{"AAPL": feats(1, 50, 1)}}
	res := New(defaultScannerConfig(), zerolog.Nop()).Scan(context.Background(), []string{"AAPL", "DEAD", "NEW"}, stub, computer)

	if len(res.Ranked) != 1 || res.Ranked[0].Symbol != "AAPL" {
		t.Fatalf("unexpected ranked: %+v", res.Ranked)
	}
	if len(res.Unscored) != 2 {
		t.Fatalf("expected 2 unscored, got %+v", res.Unscored)
	}
	var fetchErr *exchange.FetchError
	if res.Unscored[0].Symbol != "DEAD" || !errors.As(res.Unscored[0].Err, &fetchErr) {
		t.Fatalf("expected DEAD fetch failure, got %+v", res.Unscored[0])
	}
	if res.Unscored[1].Symbol != "NEW" || !errors.Is(res.Unscored[1].Err, indicator.ErrInsufficientData) {
		t.Fatalf("expected NEW insufficient data, got %+v", res.Unscored[1])
	}
}

func TestScanConcurrentMatchesSequential(t *testing.T) {
	features := map[string]map[string]float64{}
	universe := []string{}
	for i, sym := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		features[sym] = feats(float64(i%3-1), float64(20+i*7), 0.8+float64(i)*0.05)
		universe = append(universe, sym)
	}
	seq := New(defaultScannerConfig(), zerolog.Nop()).Scan(context.Background(), universe, exchange.NewStubProvider(), &fixedComputer{features: features})

	cfg := defaultScannerConfig()
	cfg.Workers = 3
	computer := &fixedComputer{features: features}
	par := New(cfg, zerolog.Nop()).Scan(context.Background(), universe, exchange.NewStubProvider(), computer)

	if len(seq.Ranked) != len(par.Ranked) {
		t.Fatalf("ranked lengths differ")
	}
	for i := range seq.Ranked {
		if seq.Ranked[i].Symbol != par.Ranked[i].Symbol || seq.Ranked[i].Score != par.Ranked[i].Score {
			t.Fatalf("rank %d differs: %s vs %s", i, seq.Ranked[i].Symbol, par.Ranked[i].Symbol)
		}
	}
	if peak := atomic.LoadInt32(&computer.peak); peak > 3 {
		t.Fatalf("expected at most 3 concurrent computations, saw %d", peak)
	}
}

func TestScoreMonotonic(t *testing.T) {
	s := New(config.Scanner{TrendWeight: 1, OscillatorWeight: -2, VolumeWeight: 0.5}, zerolog.Nop())
	base := signal.FeatureSnapshot{Values: feats(0, 50, 1)}
	if s.Score(base) != 0 {
		t.Fatalf("expected neutral score 0, got %.3f", s.Score(base))
	}
	lowerRSI := signal.FeatureSnapshot{Values: feats(0, 30, 1)}
	if s.Score(lowerRSI) < s.Score(base) {
		t.Fatalf("lower rsi must not reduce the score")
	}
	higherVolume := signal.FeatureSnapshot{Values: feats(0, 50, 1.5)}
	if s.Score(higherVolume) <= s.Score(base) {
		t.Fatalf("higher volume ratio must raise the score")
	}
	upTrend := signal.FeatureSnapshot{Values: feats(1, 50, 1)}
	if s.Score(upTrend) <= s.Score(base) {
		t.Fatalf("up trend must raise the score")
	}
}

func TestScanCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	computer := &fixedComputer{features: map[string]map[string]float64{"A": feats(1, 50, 1)}}
	res := New(defaultScannerConfig(), zerolog.Nop()).Scan(ctx, []string{"A", "B"}, exchange.NewStubProvider(), computer)
	if len(res.Ranked) != 0 || len(res.Unscored) != 2 {
		t.Fatalf("expected everything unscored after cancel, got %+v", res)
	}
}
