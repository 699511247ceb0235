package strategy

import (
	"testing"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/risk"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

func candidate(symbol string, close, trend, rsi, volumeRatio float64) signal.Candidate {
	return signal.Candidate{
		Symbol: symbol,
		Features: signal.FeatureSnapshot{
			Symbol: symbol,
			Values: map[string]float64{
				signal.FeatureClose:       close,
				signal.FeatureTrend:       trend,
				signal.FeatureRSI:         rsi,
				signal.FeatureVolumeRatio: volumeRatio,
			},
		},
	}
}

func testParams() Params {
	return Params{
		OverboughtRSI: 70,
		OversoldRSI:   30,
		TakeProfitPct: 5,
		StopLossPct:   2,
		Sizer:         risk.Sizer{RiskFraction: 0.1, QtyPrecision: 5},
	}
}

var richAccount = broker.Account{Equity: 10000, BuyingPower: 10000, Cash: 10000}

func TestTrendRSIBullishEntry(t *testing.T) {
	strat := NewTrendRSI(testParams())
	d := strat.Decide(candidate("AAPL", 100, 1, 55, 1.3), nil, richAccount)
	if d.Intent == nil {
		t.Fatalf("expected buy intent, got rationale %s", d.Rationale)
	}
	if d.Intent.Side != signal.Buy || d.Intent.Qty != 10 || d.Intent.Rationale != RationaleBullishEntry {
		t.Fatalf("unexpected intent %+v", d.Intent)
	}
	if d.Intent.RefPrice != 100 || d.Intent.Type != signal.Market {
		t.Fatalf("unexpected pricing on intent %+v", d.Intent)
	}
}

func TestTrendRSIEntryFilters(t *testing.T) {
	strat := NewTrendRSI(testParams())
	cases := map[string]signal.Candidate{
		"downtrend":   candidate("AAPL", 100, -1, 40, 1.5),
		"flat":        candidate("AAPL", 100, 0, 40, 1.5),
		"overbought":  candidate("AAPL", 100, 1, 75, 1.5),
		"thin volume": candidate("AAPL", 100, 1, 40, 1.0),
	}
	for name, c := range cases {
		d := strat.Decide(c, nil, richAccount)
		if d.Intent != nil || d.Rationale != RationaleNoSignal {
			t.Fatalf("%s: expected no_signal, got %+v", name, d)
		}
	}
}

func TestTrendRSISellsFullOnTrendFlip(t *testing.T) {
	strat := NewTrendRSI(testParams())
	pos := &broker.Position{Symbol: "AAPL", Qty: 10, AvgEntryPrice: 100}
	// RSI is oversold, which would otherwise argue for holding.
	d := strat.Decide(candidate("AAPL", 100.5, -1, 20, 0.8), pos, richAccount)
	if d.Intent == nil {
		t.Fatalf("expected sell intent, got rationale %s", d.Rationale)
	}
	if d.Intent.Side != signal.Sell || d.Intent.Qty != 10 || d.Intent.Rationale != RationaleTrendReversal {
		t.Fatalf("unexpected intent %+v", d.Intent)
	}
}

func TestTrendRSIExits(t *testing.T) {
	strat := NewTrendRSI(testParams())
	pos := &broker.Position{Symbol: "MSFT", Qty: 3, AvgEntryPrice: 100}
	cases := []struct {
		name string
		c    signal.Candidate
		want string
	}{
		{"overbought", candidate("MSFT", 101, 1, 80, 1), RationaleOverboughtExit},
		{"take profit", candidate("MSFT", 106, 1, 60, 1), RationaleTakeProfit},
		{"stop loss", candidate("MSFT", 97, 1, 50, 1), RationaleStopLoss},
	}
	for _, tc := range cases {
		d := strat.Decide(tc.c, pos, richAccount)
		if d.Intent == nil || d.Intent.Qty != 3 || d.Rationale != tc.want {
			t.Fatalf("%s: expected full sell with %s, got %+v", tc.name, tc.want, d)
		}
	}

	d := strat.Decide(candidate("MSFT", 101, 1, 60, 1), pos, richAccount)
	if d.Intent != nil || d.Rationale != RationaleHold {
		t.Fatalf("expected hold, got %+v", d)
	}
}

func TestZeroExitLevelsDisableTakeProfitAndStopLoss(t *testing.T) {
	params := testParams()
	params.TakeProfitPct = 0
	params.StopLossPct = 0
	pos := &broker.Position{Symbol: "MSFT", Qty: 3, AvgEntryPrice: 100}
	for _, strat := range []Strategy{NewTrendRSI(params), NewRSIReversion(params)} {
		for _, price := range []float64{110, 97} {
			d := strat.Decide(candidate("MSFT", price, 1, 50, 1), pos, richAccount)
			if d.Intent != nil || d.Rationale != RationaleHold {
				t.Fatalf("%s at %.0f: expected hold with exits disabled, got %+v", strat.Name(), price, d)
			}
		}
	}
}

func TestParamsFromConfigKeepsDisabledExits(t *testing.T) {
	cfg := &config.Config{}
	cfg.Strategy.Params.TakeProfitPct = config.Float(0)
	cfg.ApplyDefaults()
	p := ParamsFromConfig(cfg)
	if p.TakeProfitPct != 0 || p.StopLossPct != 2 {
		t.Fatalf("expected take profit off and default stop loss, got %+v", p)
	}
}

func TestTrendRSINoBuyingPower(t *testing.T) {
	strat := NewTrendRSI(testParams())
	broke := broker.Account{Equity: 10000, BuyingPower: 0}
	d := strat.Decide(candidate("AAPL", 100, 1, 55, 1.3), nil, broke)
	if d.Intent != nil || d.Rationale != RationaleInsufficientBuyingPower {
		t.Fatalf("expected insufficient_buying_power, got %+v", d)
	}
}

func TestTrendRSIShortHeld(t *testing.T) {
	strat := NewTrendRSI(testParams())
	pos := &broker.Position{Symbol: "TSLA", Qty: -5, AvgEntryPrice: 200}
	d := strat.Decide(candidate("TSLA", 150, -1, 20, 2), pos, richAccount)
	if d.Intent != nil || d.Rationale != RationaleShortUnsupported {
		t.Fatalf("expected short_unsupported, got %+v", d)
	}
}

func TestBuildSelectsMode(t *testing.T) {
	if s := Build("", testParams()); s.Name() != ModeTrendRSI {
		t.Fatalf("expected default trend_rsi, got %s", s.Name())
	}
	if s := Build(" RSI_Reversion ", testParams()); s.Name() != ModeRSIReversion {
		t.Fatalf("expected rsi_reversion, got %s", s.Name())
	}
}
