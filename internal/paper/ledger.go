package paper

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

// Ledger collects the fills of the current session. The run loop drains it
// after every cycle to report what the paper account traded.
type Ledger struct {
	mu    sync.Mutex
	fills []Fill
}

// NewLedger creates an empty ledger with room for capacity fills.
func NewLedger(capacity int) *Ledger {
	return &Ledger{fills: make([]Fill, 0, max(capacity, 0))}
}

// Record implements FillRecorder.
func (l *Ledger) Record(fill Fill) {
	l.mu.Lock()
	l.fills = append(l.fills, fill)
	l.mu.Unlock()
}

// Snapshot returns a copy of the fills recorded so far.
func (l *Ledger) Snapshot() []Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Fill(nil), l.fills...)
}

// Drain returns the recorded fills and empties the ledger.
func (l *Ledger) Drain() []Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.fills
	l.fills = make([]Fill, 0, cap(out))
	return out
}

// SessionSummary totals a batch of fills.
type SessionSummary struct {
	Fills   int
	Bought  float64
	Sold    float64
	Symbols []string
}

// Summarize totals fills by side and lists the symbols traded, sorted.
func Summarize(fills []Fill) SessionSummary {
	var s SessionSummary
	seen := make(map[string]struct{}, len(fills))
	for _, f := range fills {
		s.Fills++
		switch f.Side {
		case signal.Buy:
			s.Bought += f.Qty * f.Price
		case signal.Sell:
			s.Sold += f.Qty * f.Price
		}
		if _, ok := seen[f.Symbol]; !ok {
			seen[f.Symbol] = struct{}{}
			s.Symbols = append(s.Symbols, f.Symbol)
		}
	}
	sort.Strings(s.Symbols)
	return s
}

// String renders the summary as one line, e.g.
// "paper fills: 2, bought $1001.00, sold $0.00 (AAPL, MSFT)".
func (s SessionSummary) String() string {
	line := fmt.Sprintf("paper fills: %d, bought $%.2f, sold $%.2f", s.Fills, s.Bought, s.Sold)
	if len(s.Symbols) > 0 {
		line += " (" + strings.Join(s.Symbols, ", ") + ")"
	}
	return line
}
