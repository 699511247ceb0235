// Package indicator computes technical indicator snapshots over bar series.
//
// Engine.Compute is a pure function of its input: it performs no I/O, reads no clock
// and never mutates the bars it is given, so identical bars always yield identical
// snapshots.
package indicator

import (
	"errors"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// ErrInsufficientData is matched by every InsufficientDataError via errors.Is.
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports a bar series shorter than the longest lookback.
type InsufficientDataError struct {
	Symbol string
	Need   int
	Have   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: need %d bars, have %d", e.Symbol, e.Need, e.Have)
}

// Is lets errors.Is(err, ErrInsufficientData) match.
func (e *InsufficientDataError) Is(target error) bool { return target == ErrInsufficientData }

// Windows holds the lookbacks of every indicator the engine computes.
type Windows struct {
	Short       int
	Long        int
	RSI         int
	Volatility  int
	VolumeShort int
	VolumeLong  int
	Bollinger   int
	BollingerK  float64
}

// WindowsFromConfig maps the YAML indicator section onto engine windows.
func WindowsFromConfig(cfg config.Indicators) Windows {
	return Windows{
		Short:       cfg.ShortWindow,
		Long:        cfg.LongWindow,
		RSI:         cfg.RSIPeriod,
		Volatility:  cfg.VolatilityWindow,
		VolumeShort: cfg.VolumeShortWindow,
		VolumeLong:  cfg.VolumeLongWindow,
		Bollinger:   cfg.BollingerWindow,
		BollingerK:  cfg.BollingerK,
	}
}

// DefaultWindows mirrors the defaults applied by config.ApplyDefaults.
func DefaultWindows() Windows {
	return Windows{Short: 20, Long: 50, RSI: 14, Volatility: 20, VolumeShort: 5, VolumeLong: 20, Bollinger: 20, BollingerK: 2}
}

// Engine turns bar series into feature snapshots.
type Engine struct {
	w       Windows
	minBars int
}

// NewEngine builds an engine, replacing non-positive windows with defaults.
func NewEngine(w Windows) *Engine {
	def := DefaultWindows()
	fill := func(v *int, d int) {
		if *v <= 0 {
			*v = d
		}
	}
	fill(&w.Short, def.Short)
	fill(&w.Long, def.Long)
	fill(&w.RSI, def.RSI)
	fill(&w.Volatility, def.Volatility)
	fill(&w.VolumeShort, def.VolumeShort)
	fill(&w.VolumeLong, def.VolumeLong)
	fill(&w.Bollinger, def.Bollinger)
	if w.BollingerK <= 0 {
		w.BollingerK = def.BollingerK
	}
	// RSI needs one extra bar for its first delta, volatility one extra for its first return.
	need := max(w.Short, w.Long, w.RSI+1, w.Volatility+1, w.VolumeShort, w.VolumeLong, w.Bollinger)
	return &Engine{w: w, minBars: need}
}

// Lookback is the minimum number of bars Compute accepts.
func (e *Engine) Lookback() int { return e.minBars }

// Windows returns the effective windows.
func (e *Engine) Windows() Windows { return e.w }

// Compute derives the feature snapshot for the last bar of the series.
func (e *Engine) Compute(symbol string, bars []signal.Bar) (signal.FeatureSnapshot, error) {
	if len(bars) < e.minBars {
		return signal.FeatureSnapshot{}, &InsufficientDataError{Symbol: symbol, Need: e.minBars, Have: len(bars)}
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	smaShort := last(talib.Sma(closes, e.w.Short))
	smaLong := last(talib.Sma(closes, e.w.Long))
	rsi := clamp(last(talib.Rsi(closes, e.w.RSI)), 0, 100)
	upper, _, lower := talib.BBands(closes, e.w.Bollinger, e.w.BollingerK, e.w.BollingerK, talib.SMA)

	values := map[string]float64{
		signal.FeatureClose:       closes[len(closes)-1],
		signal.FeatureSMAShort:    smaShort,
		signal.FeatureSMALong:     smaLong,
		signal.FeatureTrend:       sign(smaShort - smaLong),
		signal.FeatureRSI:         rsi,
		signal.FeatureVolatility:  e.volatility(closes),
		signal.FeatureVolumeRatio: e.volumeRatio(volumes),
		signal.FeatureBBUpper:     last(upper),
		signal.FeatureBBLower:     last(lower),
	}
	return signal.FeatureSnapshot{Symbol: symbol, AsOf: bars[len(bars)-1].Ts, Values: values}, nil
}

// volatility is the population standard deviation of close-to-close returns.
func (e *Engine) volatility(closes []float64) float64 {
	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] != 0 {
			returns[i-1] = closes[i]/closes[i-1] - 1
		}
	}
	return last(talib.StdDev(returns, e.w.Volatility, 1))
}

func (e *Engine) volumeRatio(volumes []float64) float64 {
	long := last(talib.Sma(volumes, e.w.VolumeLong))
	if long <= 0 {
		return 0
	}
	return last(talib.Sma(volumes, e.w.VolumeShort)) / long
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
