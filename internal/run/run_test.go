package run

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/exchange"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/execution"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/indicator"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/journal"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/notify"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/risk"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/scanner"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/strategy"
)

// fixedEngine returns canned snapshots instead of computing indicators.
type fixedEngine map[string]map[string]float64

func (fixedEngine) Lookback() int { return 1 }

func (e fixedEngine) Compute(symbol string, _ []signal.Bar) (signal.FeatureSnapshot, error) {
	values, ok := e[symbol]
	if !ok {
		return signal.FeatureSnapshot{}, &indicator.InsufficientDataError{Symbol: symbol, Need: 50, Have: 1}
	}
	return signal.FeatureSnapshot{Symbol: symbol, Values: values}, nil
}

func features(close, trend, rsi, volumeRatio float64) map[string]float64 {
	return map[string]float64{
		signal.FeatureClose:       close,
		signal.FeatureTrend:       trend,
		signal.FeatureRSI:         rsi,
		signal.FeatureVolumeRatio: volumeRatio,
	}
}

type fakeBroker struct {
	account    broker.Account
	positions  []broker.Position
	accountErr error
	rejects    map[string]bool
	submitted  []broker.OrderRequest
}

func (f *fakeBroker) Account(context.Context) (broker.Account, error) {
	return f.account, f.accountErr
}

func (f *fakeBroker) Positions(context.Context) ([]broker.Position, error) {
	return f.positions, nil
}

func (f *fakeBroker) SubmitOrder(_ context.Context, req broker.OrderRequest) (broker.Order, error) {
	f.submitted = append(f.submitted, req)
	if f.rejects[req.Symbol] {
		return broker.Order{}, &broker.RejectedError{Op: "submit", Status: http.StatusForbidden, Message: "asset not tradable"}
	}
	return broker.Order{
		ID:             fmt.Sprintf("ord-%d", len(f.submitted)),
		ClientOrderID:  req.ClientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Qty:            req.Qty,
		FilledQty:      req.Qty,
		FilledAvgPrice: 100,
		Status:         broker.StatusFilled,
	}, nil
}

func (f *fakeBroker) GetOrder(context.Context, string) (broker.Order, error) {
	return broker.Order{}, broker.ErrOrderNotFound
}

func (f *fakeBroker) FindOrderByClientID(context.Context, string) (broker.Order, error) {
	return broker.Order{}, broker.ErrOrderNotFound
}

type captureSink struct{ alerts []notify.Alert }

func (c *captureSink) Send(_ context.Context, a notify.Alert) error {
	c.alerts = append(c.alerts, a)
	return nil
}

type captureJournal struct {
	runs     []journal.Run
	outcomes int
}

func (c *captureJournal) Record(_ context.Context, r journal.Run, outcomes []execution.Outcome) error {
	c.runs = append(c.runs, r)
	c.outcomes += len(outcomes)
	return nil
}

type harness struct {
	broker   *fakeBroker
	provider *exchange.StubProvider
	sink     *captureSink
	journal  *captureJournal
}

func newCoordinator(h *harness, engine fixedEngine, universe []string, opts ...Option) *Coordinator {
	log := zerolog.Nop()
	strat := strategy.Build(strategy.ModeTrendRSI, strategy.Params{
		OverboughtRSI: 70,
		Sizer:         risk.Sizer{RiskFraction: 0.1, QtyPrecision: 5},
	})
	gateway := execution.NewGateway(h.broker, config.Execution{MaxAttempts: 3}, log,
		execution.WithSleep(func(context.Context, time.Duration) error { return nil }))
	deps := Deps{
		Broker:   h.broker,
		Provider: h.provider,
		Engine:   engine,
		Scanner:  scanner.New(config.Scanner{MaxCandidates: 2, TrendWeight: 1, OscillatorWeight: 0.5, VolumeWeight: 0.5}, log),
		Strategy: strat,
		Gateway:  gateway,
	}
	opts = append([]Option{WithSink(h.sink), WithJournal(h.journal)}, opts...)
	return New(universe, deps, log, opts...)
}

func newHarness() *harness {
	return &harness{
		broker: &fakeBroker{
			account: broker.Account{Equity: 10000, BuyingPower: 10000, Cash: 10000, Status: "ACTIVE"},
			rejects: map[string]bool{},
		},
		provider: exchange.NewStubProvider(),
		sink:     &captureSink{},
		journal:  &captureJournal{},
	}
}

func TestRunOnceOneFillOneRejection(t *testing.T) {
	h := newHarness()
	h.broker.rejects["TSLA"] = true
	h.provider.Fail("NFLX", errors.New("upstream 503"))
	engine := fixedEngine{
		"AAPL": features(100, 1, 50, 1.5),
		"TSLA": features(200, 1, 45, 1.2),
		"MSFT": features(300, -1, 60, 0.9),
	}
	coord := newCoordinator(h, engine, []string{"AAPL", "TSLA", "MSFT", "NFLX"})

	report, err := coord.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.IntentsGenerated != 2 || len(report.Outcomes) != report.IntentsGenerated {
		t.Fatalf("expected one outcome per intent, got %d intents and %d outcomes", report.IntentsGenerated, len(report.Outcomes))
	}
	if report.Count(execution.StatusFilled) != 1 || report.Count(execution.StatusRejected) != 1 {
		t.Fatalf("expected one fill and one rejection, got %+v", report.Outcomes)
	}
	want := "4 symbols scanned, 2 candidates, 2 intents generated, 1 orders filled, 0 submitted, 1 rejected, 1 errors"
	if got := report.Summary(); got != want {
		t.Fatalf("summary mismatch:\n got %s\nwant %s", got, want)
	}
	if len(h.broker.submitted) != 2 || h.broker.submitted[0].Symbol != "AAPL" || h.broker.submitted[0].Qty != 10 {
		t.Fatalf("unexpected submissions %+v", h.broker.submitted)
	}
	if h.broker.submitted[1].Qty != 5 {
		t.Fatalf("expected TSLA sized at 5, got %v", h.broker.submitted[1].Qty)
	}
	if len(h.sink.alerts) != 1 || !strings.Contains(h.sink.alerts[0].Message, want) || h.sink.alerts[0].Level != notify.LevelWarning {
		t.Fatalf("unexpected alerts %+v", h.sink.alerts)
	}
	if len(h.journal.runs) != 1 || h.journal.outcomes != 2 || h.journal.runs[0].RunID != report.RunID {
		t.Fatalf("unexpected journal writes %+v", h.journal)
	}
	if len(report.Unscored) != 1 || report.Unscored[0].Symbol != "NFLX" {
		t.Fatalf("expected NFLX unscored, got %+v", report.Unscored)
	}
}

func TestRunOncePreflightFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.broker.accountErr = &broker.TransientError{Op: "account", Err: errors.New("dial tcp: refused")}
	coord := newCoordinator(h, fixedEngine{"AAPL": features(100, 1, 50, 1.5)}, []string{"AAPL"})

	report, err := coord.RunOnce(context.Background())
	var setupErr *ConnectionSetupError
	if !errors.As(err, &setupErr) || report != nil {
		t.Fatalf("expected ConnectionSetupError, got report=%v err=%v", report, err)
	}
	if len(h.broker.submitted) != 0 {
		t.Fatalf("no orders may be placed after a failed pre-flight")
	}
	if len(h.sink.alerts) != 1 || h.sink.alerts[0].Level != notify.LevelCritical {
		t.Fatalf("expected a critical alert, got %+v", h.sink.alerts)
	}
	if len(h.journal.runs) != 0 {
		t.Fatalf("aborted runs are not journaled")
	}
}

func TestRunOnceEvaluatesHeldSymbols(t *testing.T) {
	h := newHarness()
	h.broker.positions = []broker.Position{{Symbol: "MSFT", Qty: 4, AvgEntryPrice: 310}}
	engine := fixedEngine{
		"AAPL": features(100, 1, 50, 1.5),
		"TSLA": features(200, 1, 45, 1.2),
		"MSFT": features(300, -1, 60, 0.9),
	}
	// MSFT is only held, not configured, and ranks below the cut.
	coord := newCoordinator(h, engine, []string{"AAPL", "TSLA"})

	report, err := coord.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.SymbolsConsidered != 3 || report.CandidatesFound != 3 {
		t.Fatalf("expected held symbol in universe and candidates, got %+v", report)
	}
	var exit *execution.Outcome
	for i := range report.Outcomes {
		if report.Outcomes[i].Intent.Symbol == "MSFT" {
			exit = &report.Outcomes[i]
		}
	}
	if exit == nil || exit.Intent.Side != signal.Sell || exit.Intent.Qty != 4 || exit.Intent.Rationale != strategy.RationaleTrendReversal {
		t.Fatalf("expected full MSFT exit, got %+v", exit)
	}
}

func TestRunOnceDryRunDecrementsBuyingPower(t *testing.T) {
	h := newHarness()
	h.broker.account.BuyingPower = 1000
	engine := fixedEngine{
		"AAPL": features(100, 1, 50, 1.5),
		"TSLA": features(200, 1, 45, 1.2),
	}
	coord := newCoordinator(h, engine, []string{"AAPL", "TSLA"}, WithDryRun(true))

	report, err := coord.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.Mode != ModeDryRun || len(h.broker.submitted) != 0 || len(report.Outcomes) != 0 {
		t.Fatalf("dry run must not submit, got %+v", report)
	}
	if report.IntentsGenerated != 1 {
		t.Fatalf("expected the first buy to consume buying power, got %d intents", report.IntentsGenerated)
	}
	if len(report.Decisions) != 2 || report.Decisions[1].Rationale != strategy.RationaleInsufficientBuyingPower {
		t.Fatalf("unexpected decisions %+v", report.Decisions)
	}
	if !strings.Contains(h.sink.alerts[0].Message, "would buy AAPL 10") {
		t.Fatalf("dry run alert should list intents: %s", h.sink.alerts[0].Message)
	}
}

type staticDiscovery []string

func (s staticDiscovery) Discover(context.Context) ([]string, error) { return s, nil }

type panickyStrategy struct{}

func (panickyStrategy) Name() string { return "panicky" }

func (panickyStrategy) Decide(signal.Candidate, *broker.Position, broker.Account) strategy.Decision {
	panic("boom")
}

func TestRunOnceIsolatesStrategyPanics(t *testing.T) {
	h := newHarness()
	coord := newCoordinator(h, fixedEngine{"AAPL": features(100, 1, 50, 1.5)}, []string{"AAPL"})
	coord.deps.Strategy = panickyStrategy{}

	report, err := coord.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "panicked") {
		t.Fatalf("expected isolated strategy error, got %+v", report.Errors)
	}
}

func TestRunOnceMergesDiscoveredSymbols(t *testing.T) {
	h := newHarness()
	engine := fixedEngine{
		"AAPL":    features(100, 1, 50, 1.5),
		"ETH/USD": features(2000, 1, 40, 1.4),
	}
	coord := newCoordinator(h, engine, []string{"AAPL"}, WithDiscovery(staticDiscovery{"eth/usd", "AAPL"}), WithDryRun(true))

	report, err := coord.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.SymbolsConsidered != 2 || report.CandidatesFound != 2 {
		t.Fatalf("expected discovered symbol to be scanned, got %+v", report)
	}
}
