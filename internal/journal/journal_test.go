package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/execution"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
)

func TestRecordAndReadBack(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer j.Close()

	now := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)
	run := Run{RunID: "run-1", Mode: "paper", StartedAt: now, FinishedAt: now.Add(time.Second), Symbols: 4, Candidates: 2, Intents: 2, Summary: "ok"}
	outcomes := []execution.Outcome{
		{
			Intent:         signal.TradeIntent{Symbol: "AAPL", Side: signal.Buy, Qty: 3, Rationale: "bullish_entry"},
			Status:         execution.StatusFilled,
			OrderID:        "ord-1",
			ClientOrderID:  "cid-1",
			Attempts:       1,
			FilledQty:      3,
			FilledAvgPrice: 101.5,
			At:             now,
		},
		{
			Intent:        signal.TradeIntent{Symbol: "TSLA", Side: signal.Sell, Qty: 1},
			Status:        execution.StatusRejected,
			ClientOrderID: "cid-2",
			Attempts:      1,
			Reason:        "insufficient qty",
			At:            now,
		},
	}
	ctx := context.Background()
	if err := j.Record(ctx, run, outcomes); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	n, err := j.RunCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one run, got %d (%v)", n, err)
	}
	recs, err := j.RecentOutcomes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentOutcomes returned error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(recs))
	}
	if recs[0].Symbol != "TSLA" || recs[0].Status != "rejected" || recs[0].Reason != "insufficient qty" {
		t.Fatalf("unexpected newest outcome %+v", recs[0])
	}
	if recs[1].OrderID != "ord-1" || recs[1].FilledAvgPrice != 101.5 || !recs[1].At.Equal(now) {
		t.Fatalf("unexpected oldest outcome %+v", recs[1])
	}

	if err := j.Record(ctx, run, nil); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}
	if n, _ := j.RunCount(ctx); n != 1 {
		t.Fatalf("failed record must not leave partial rows, got %d runs", n)
	}
}
