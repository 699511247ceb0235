// Package journal keeps an SQLite audit trail of runs and order outcomes.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/execution"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	mode        TEXT NOT NULL,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	symbols     INTEGER NOT NULL,
	candidates  INTEGER NOT NULL,
	intents     INTEGER NOT NULL,
	errors      INTEGER NOT NULL,
	summary     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS outcomes (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL REFERENCES runs(run_id),
	symbol           TEXT NOT NULL,
	side             TEXT NOT NULL,
	qty              REAL NOT NULL,
	rationale        TEXT,
	status           TEXT NOT NULL,
	order_id         TEXT,
	client_order_id  TEXT NOT NULL,
	attempts         INTEGER NOT NULL,
	reason           TEXT,
	filled_qty       REAL NOT NULL DEFAULT 0,
	filled_avg_price REAL NOT NULL DEFAULT 0,
	at               DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_symbol ON outcomes(symbol);
`

// Run is the per-run row written alongside its outcomes.
type Run struct {
	RunID      string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Symbols    int
	Candidates int
	Intents    int
	Errors     int
	Summary    string
}

// OutcomeRecord is one row of the outcomes table.
type OutcomeRecord struct {
	ID             int64
	RunID          string
	Symbol         string
	Side           string
	Qty            float64
	Rationale      string
	Status         string
	OrderID        string
	ClientOrderID  string
	Attempts       int
	Reason         string
	FilledQty      float64
	FilledAvgPrice float64
	At             time.Time
}

// Journal persists run reports to SQLite.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_sync=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record writes a run and its outcomes in one transaction.
func (j *Journal) Record(ctx context.Context, run Run, outcomes []execution.Outcome) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, mode, started_at, finished_at, symbols, candidates, intents, errors, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Mode,
		run.StartedAt.UTC().Format(time.RFC3339Nano), run.FinishedAt.UTC().Format(time.RFC3339Nano),
		run.Symbols, run.Candidates, run.Intents, run.Errors, run.Summary,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outcomes (run_id, symbol, side, qty, rationale, status, order_id, client_order_id, attempts, reason, filled_qty, filled_avg_price, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare outcome insert: %w", err)
	}
	defer stmt.Close()
	for _, o := range outcomes {
		_, err := stmt.ExecContext(ctx,
			run.RunID, o.Intent.Symbol, string(o.Intent.Side), o.Intent.Qty, o.Intent.Rationale,
			string(o.Status), o.OrderID, o.ClientOrderID, o.Attempts, o.Reason,
			o.FilledQty, o.FilledAvgPrice, o.At.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.Intent.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal tx: %w", err)
	}
	return nil
}

// RecentOutcomes returns the last limit outcomes, newest first.
func (j *Journal) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, run_id, symbol, side, qty, rationale, status, order_id, client_order_id, attempts, reason, filled_qty, filled_avg_price, at
		 FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var (
			r   OutcomeRecord
			at  string
			opt [3]sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Symbol, &r.Side, &r.Qty, &opt[0], &r.Status, &opt[1],
			&r.ClientOrderID, &r.Attempts, &opt[2], &r.FilledQty, &r.FilledAvgPrice, &at); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		r.Rationale, r.OrderID, r.Reason = opt[0].String, opt[1].String, opt[2].String
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil {
			r.At = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunCount returns how many runs have been journaled.
func (j *Journal) RunCount(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var n int
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
