// Package scanner enriches a symbol universe with indicator snapshots and ranks the results.
package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/exchange"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/indicator"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/metrics"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// FeatureComputer turns a bar series into a snapshot. indicator.Engine satisfies it.
type FeatureComputer interface {
	Lookback() int
	Compute(symbol string, bars []signal.Bar) (signal.FeatureSnapshot, error)
}

// Weights blend the score components. Negative weights are treated as zero.
type Weights struct {
	Trend      float64
	Oscillator float64
	Volume     float64
}

// Unscored records a symbol dropped from ranking and why.
type Unscored struct {
	Symbol string
	Reason string
	Err    error
}

// Result is the outcome of one scan.
type Result struct {
	// Ranked holds every scored symbol, best first.
	Ranked []signal.Candidate
	// Candidates is the truncated, thresholded head of Ranked.
	Candidates []signal.Candidate
	Unscored   []Unscored
}

// Scanner scores symbols and keeps the strongest.
type Scanner struct {
	weights       Weights
	maxCandidates int
	minScore      *float64
	workers       int
	log           zerolog.Logger
}

// New builds a scanner from the scanner config section.
func New(cfg config.Scanner, log zerolog.Logger) *Scanner {
	w := Weights{
		Trend:      max(cfg.TrendWeight, 0),
		Oscillator: max(cfg.OscillatorWeight, 0),
		Volume:     max(cfg.VolumeWeight, 0),
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 10
	}
	var minScore *float64
	if cfg.MinScore != nil {
		v := *cfg.MinScore
		minScore = &v
	}
	return &Scanner{weights: w, maxCandidates: maxCandidates, minScore: minScore, workers: workers, log: log}
}

// Score favors an up trend, an oversold oscillator and rising volume.
func (s *Scanner) Score(f signal.FeatureSnapshot) float64 {
	oversold := (50 - f.RSI()) / 50
	return s.weights.Trend*f.Trend() + s.weights.Oscillator*oversold + s.weights.Volume*(f.VolumeRatio()-1)
}

type scored struct {
	candidate *signal.Candidate
	unscored  *Unscored
}

// Scan fetches, enriches and ranks every symbol. Per-symbol failures land in
// Result.Unscored; Scan itself never fails.
func (s *Scanner) Scan(ctx context.Context, universe []string, provider exchange.Provider, engine FeatureComputer) Result {
	metrics.SymbolsScannedTotal.Add(float64(len(universe)))
	slots := make([]scored, len(universe))

	if s.workers == 1 || len(universe) < 2 {
		for i, sym := range universe {
			slots[i] = s.scoreOne(ctx, sym, provider, engine)
		}
	} else {
		sem := make(chan struct{}, s.workers)
		var wg sync.WaitGroup
		for i, sym := range universe {
			wg.Add(1)
			go func(i int, sym string) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					slots[i] = scored{unscored: &Unscored{Symbol: sym, Reason: ctx.Err().Error(), Err: ctx.Err()}}
					return
				}
				defer func() { <-sem }()
				slots[i] = s.scoreOne(ctx, sym, provider, engine)
			}(i, sym)
		}
		wg.Wait()
	}

	var res Result
	for _, slot := range slots {
		switch {
		case slot.candidate != nil:
			res.Ranked = append(res.Ranked, *slot.candidate)
		case slot.unscored != nil:
			res.Unscored = append(res.Unscored, *slot.unscored)
		}
	}
	Rank(res.Ranked)
	res.Candidates = s.shortlist(res.Ranked)

	s.log.Info().
		Int("universe", len(universe)).
		Int("scored", len(res.Ranked)).
		Int("candidates", len(res.Candidates)).
		Int("unscored", len(res.Unscored)).
		Msg("scan complete")
	return res
}

func (s *Scanner) scoreOne(ctx context.Context, symbol string, provider exchange.Provider, engine FeatureComputer) scored {
	if err := ctx.Err(); err != nil {
		return scored{unscored: &Unscored{Symbol: symbol, Reason: err.Error(), Err: err}}
	}
	bars, err := provider.FetchBars(ctx, symbol, engine.Lookback())
	if err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("bar fetch failed")
		return scored{unscored: &Unscored{Symbol: symbol, Reason: "fetch failed: " + err.Error(), Err: err}}
	}
	snap, err := engine.Compute(symbol, bars)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, indicator.ErrInsufficientData) {
			reason = "insufficient data: " + reason
		}
		s.log.Debug().Err(err).Str("symbol", symbol).Msg("symbol not scored")
		return scored{unscored: &Unscored{Symbol: symbol, Reason: reason, Err: err}}
	}
	return scored{candidate: &signal.Candidate{Symbol: symbol, Features: snap, Score: s.Score(snap)}}
}

func (s *Scanner) shortlist(ranked []signal.Candidate) []signal.Candidate {
	out := make([]signal.Candidate, 0, min(len(ranked), s.maxCandidates))
	for _, c := range ranked {
		if len(out) == s.maxCandidates {
			break
		}
		if s.minScore != nil && c.Score < *s.minScore {
			break
		}
		out = append(out, c)
	}
	return out
}

// Rank sorts candidates by descending score; equal scores fall back to symbol order.
func Rank(cands []signal.Candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Symbol < cands[j].Symbol
	})
}
