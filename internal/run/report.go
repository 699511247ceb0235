package run

import (
	"fmt"
	"strings"
	"time"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/execution"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/journal"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/notify"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/scanner"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// Run modes reported in Report.Mode and the runs metric.
const (
	ModePaper  = "paper"
	ModeLive   = "live"
	ModeDryRun = "dry-run"
)

// Decision records what the strategy concluded for one candidate.
type Decision struct {
	Symbol    string
	Score     float64
	Rationale string
	Intent    *signal.TradeIntent
}

// Report aggregates one run.
type Report struct {
	RunID             string
	Mode              string
	Strategy          string
	StartedAt         time.Time
	FinishedAt        time.Time
	SymbolsConsidered int
	CandidatesFound   int
	IntentsGenerated  int
	Unscored          []scanner.Unscored
	Decisions         []Decision
	Outcomes          []execution.Outcome
	Errors            []string
}

// Count returns how many outcomes ended in status.
func (r *Report) Count(status execution.Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// ErrorCount is failed outcomes plus run-level errors.
func (r *Report) ErrorCount() int {
	return r.Count(execution.StatusError) + len(r.Errors)
}

// Summary renders the one-line run summary.
func (r *Report) Summary() string {
	return fmt.Sprintf("%d symbols scanned, %d candidates, %d intents generated, %d orders filled, %d submitted, %d rejected, %d errors",
		r.SymbolsConsidered, r.CandidatesFound, r.IntentsGenerated,
		r.Count(execution.StatusFilled), r.Count(execution.StatusSubmitted), r.Count(execution.StatusRejected),
		r.ErrorCount())
}

// Alert renders the report for notification sinks. Failures raise the level to warning.
func (r *Report) Alert() notify.Alert {
	var b strings.Builder
	b.WriteString(r.Summary())
	for _, o := range r.Outcomes {
		fmt.Fprintf(&b, "\n%s %s %g: %s", strings.ToUpper(string(o.Intent.Side)), o.Intent.Symbol, o.Intent.Qty, o.Status)
		if o.FilledAvgPrice > 0 {
			fmt.Fprintf(&b, " @ %.4f", o.FilledAvgPrice)
		}
		if o.Reason != "" {
			fmt.Fprintf(&b, " (%s)", o.Reason)
		}
	}
	if r.Mode == ModeDryRun {
		for _, d := range r.Decisions {
			if d.Intent != nil {
				fmt.Fprintf(&b, "\nwould %s %s %g (%s)", d.Intent.Side, d.Symbol, d.Intent.Qty, d.Rationale)
			}
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "\nerror: %s", e)
	}

	level := notify.LevelInfo
	if r.ErrorCount() > 0 {
		level = notify.LevelWarning
	}
	return notify.Alert{
		Level:   level,
		Title:   fmt.Sprintf("%s run %s", r.Strategy, r.Mode),
		Message: b.String(),
	}
}

// JournalEntry converts the report header into a journal row.
func (r *Report) JournalEntry() journal.Run {
	return journal.Run{
		RunID:      r.RunID,
		Mode:       r.Mode,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Symbols:    r.SymbolsConsidered,
		Candidates: r.CandidatesFound,
		Intents:    r.IntentsGenerated,
		Errors:     r.ErrorCount(),
		Summary:    r.Summary(),
	}
}
