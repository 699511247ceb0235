// Package run coordinates one scan, decide and execute cycle.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/exchange"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/execution"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/journal"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/metrics"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/notify"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/scanner"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/strategy"
)

// ConnectionSetupError aborts a run before any trading happens.
type ConnectionSetupError struct {
	Op  string
	Err error
}

func (e *ConnectionSetupError) Error() string {
	return fmt.Sprintf("connection setup: %s: %v", e.Op, e.Err)
}

func (e *ConnectionSetupError) Unwrap() error { return e.Err }

// Executor runs one intent to an outcome. *execution.Gateway satisfies it.
type Executor interface {
	Execute(ctx context.Context, intent signal.TradeIntent) execution.Outcome
}

// Discoverer supplies extra symbols for the universe. *exchange.Discovery satisfies it.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// Journal persists finished reports. *journal.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, run journal.Run, outcomes []execution.Outcome) error
}

// Deps are the collaborators every run needs.
type Deps struct {
	Broker   broker.Broker
	Provider exchange.Provider
	Engine   scanner.FeatureComputer
	Scanner  *scanner.Scanner
	Strategy strategy.Strategy
	Gateway  Executor
}

// Coordinator owns the pipeline for a single invocation.
type Coordinator struct {
	deps      Deps
	universe  []string
	mode      string
	dryRun    bool
	discovery Discoverer
	journal   Journal
	sink      notify.Sink
	log       zerolog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures the coordinator.
type Option func(*Coordinator)

// WithMode labels runs as paper or live.
func WithMode(mode string) Option {
	return func(c *Coordinator) {
		if mode != "" {
			c.mode = mode
		}
	}
}

// WithDryRun decides but never submits orders.
func WithDryRun(dryRun bool) Option {
	return func(c *Coordinator) { c.dryRun = dryRun }
}

// WithDiscovery widens the universe with discovered symbols.
func WithDiscovery(d Discoverer) Option {
	return func(c *Coordinator) { c.discovery = d }
}

// WithJournal records every finished run.
func WithJournal(j Journal) Option {
	return func(c *Coordinator) { c.journal = j }
}

// WithSink notifies an operator after every run.
func WithSink(s notify.Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

// WithClock overrides the report timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a coordinator over a configured universe.
func New(universe []string, deps Deps, log zerolog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		deps:     deps,
		universe: append([]string(nil), universe...),
		mode:     ModePaper,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Preflight verifies the broker and data provider are reachable.
func (c *Coordinator) Preflight(ctx context.Context) (broker.Account, []broker.Position, error) {
	acct, err := c.deps.Broker.Account(ctx)
	if err != nil {
		return broker.Account{}, nil, &ConnectionSetupError{Op: "broker account", Err: err}
	}
	positions, err := c.deps.Broker.Positions(ctx)
	if err != nil {
		return broker.Account{}, nil, &ConnectionSetupError{Op: "broker positions", Err: err}
	}
	if pinger, ok := c.deps.Provider.(exchange.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			return broker.Account{}, nil, &ConnectionSetupError{Op: "market data", Err: err}
		}
	}
	return acct, positions, nil
}

// RunOnce performs one full cycle. Only a failed pre-flight returns an error;
// everything after it is captured in the report.
func (c *Coordinator) RunOnce(ctx context.Context) (*Report, error) {
	mode := c.mode
	if c.dryRun {
		mode = ModeDryRun
	}
	report := &Report{
		RunID:     c.newID(),
		Mode:      mode,
		Strategy:  c.deps.Strategy.Name(),
		StartedAt: c.now(),
	}
	log := c.log.With().Str("run_id", report.RunID).Str("mode", mode).Logger()

	acct, positions, err := c.Preflight(ctx)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(mode, "setup_error").Inc()
		log.Error().Err(err).Msg("pre-flight failed")
		c.notify(ctx, log, notify.Alert{
			Level:   notify.LevelCritical,
			Title:   "Run aborted",
			Message: err.Error(),
		})
		return nil, err
	}
	log.Info().
		Float64("equity", acct.Equity).
		Float64("buying_power", acct.BuyingPower).
		Int("positions", len(positions)).
		Msg("pre-flight ok")

	held := broker.PositionIndex(positions)
	universe := c.universe
	if c.discovery != nil {
		discovered, err := c.discovery.Discover(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("discovery failed")
			report.Errors = append(report.Errors, fmt.Sprintf("discovery: %v", err))
		}
		universe = exchange.MergeSymbols(universe, discovered)
	}
	heldSymbols := make([]string, 0, len(positions))
	for _, p := range positions {
		heldSymbols = append(heldSymbols, p.Symbol)
	}
	universe = exchange.MergeSymbols(universe, heldSymbols)
	report.SymbolsConsidered = len(universe)

	result := c.deps.Scanner.Scan(ctx, universe, c.deps.Provider, c.deps.Engine)
	report.Unscored = result.Unscored
	for _, u := range result.Unscored {
		var fetchErr *exchange.FetchError
		if errors.As(u.Err, &fetchErr) {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", u.Symbol, u.Reason))
		}
	}
	candidates := withHeld(result, held)
	report.CandidatesFound = len(candidates)
	metrics.CandidatesTotal.Add(float64(len(candidates)))

	for _, cand := range candidates {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("run interrupted: %v", ctx.Err()))
			break
		}
		var pos *broker.Position
		if p, ok := held[cand.Symbol]; ok {
			pos = &p
		}
		decision, err := c.decide(cand, pos, acct)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", cand.Symbol, err))
			continue
		}
		report.Decisions = append(report.Decisions, Decision{
			Symbol:    cand.Symbol,
			Score:     cand.Score,
			Rationale: decision.Rationale,
			Intent:    decision.Intent,
		})
		log.Debug().
			Str("symbol", cand.Symbol).
			Float64("score", cand.Score).
			Str("rationale", decision.Rationale).
			Bool("intent", decision.Intent != nil).
			Msg("decision")
		if decision.Intent == nil {
			continue
		}
		intent := *decision.Intent
		report.IntentsGenerated++
		metrics.IntentsTotal.WithLabelValues(string(intent.Side)).Inc()

		if c.dryRun {
			if intent.Side == signal.Buy {
				acct.BuyingPower -= intent.Notional()
			}
			continue
		}
		outcome := c.deps.Gateway.Execute(ctx, intent)
		report.Outcomes = append(report.Outcomes, outcome)
		if intent.Side == signal.Buy && (outcome.Status == execution.StatusFilled || outcome.Status == execution.StatusSubmitted) {
			acct.BuyingPower -= spent(outcome)
		}
	}

	report.FinishedAt = c.now()
	metrics.RunsTotal.WithLabelValues(mode, "ok").Inc()
	metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	if c.journal != nil {
		if err := c.journal.Record(ctx, report.JournalEntry(), report.Outcomes); err != nil {
			log.Error().Err(err).Msg("journal write failed")
		}
	}
	log.Info().Msg(report.Summary())
	c.notify(ctx, log, report.Alert())
	return report, nil
}

// decide shields the run from a misbehaving strategy.
func (c *Coordinator) decide(cand signal.Candidate, pos *broker.Position, acct broker.Account) (d strategy.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", c.deps.Strategy.Name(), r)
		}
	}()
	return c.deps.Strategy.Decide(cand, pos, acct), nil
}

func (c *Coordinator) notify(ctx context.Context, log zerolog.Logger, alert notify.Alert) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Send(ctx, alert); err != nil {
		log.Warn().Err(err).Msg("notification failed")
	}
}

// withHeld extends the shortlisted candidates with ranked entries for held
// symbols, so exits are evaluated even for positions that did not make the cut.
func withHeld(result scanner.Result, held map[string]broker.Position) []signal.Candidate {
	out := append([]signal.Candidate(nil), result.Candidates...)
	seen := make(map[string]struct{}, len(out))
	for _, c := range out {
		seen[c.Symbol] = struct{}{}
	}
	for _, c := range result.Ranked {
		if _, ok := held[c.Symbol]; !ok {
			continue
		}
		if _, ok := seen[c.Symbol]; ok {
			continue
		}
		seen[c.Symbol] = struct{}{}
		out = append(out, c)
	}
	return out
}

func spent(o execution.Outcome) float64 {
	if o.FilledQty > 0 && o.FilledAvgPrice > 0 {
		return o.FilledQty * o.FilledAvgPrice
	}
	return o.Intent.Notional()
}
