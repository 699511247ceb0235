package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/exchange"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/execution"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/indicator"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/journal"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/metrics"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/paper"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/run"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/scanner"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/signal"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/strategy"
)

func runCmd() *cobra.Command {
	var (
		dryRun bool
		every  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan, decide and execute one cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := loadApp(ctx, configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg, log := a.cfg, a.log

			if cfg.App.MetricsAddr != "" {
				srv := metrics.Serve(cfg.App.MetricsAddr)
				defer srv.Close()
				log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
			}

			engine := indicator.NewEngine(indicator.WindowsFromConfig(cfg.Indicators))
			deps := run.Deps{
				Broker:   a.brk,
				Provider: a.provider,
				Engine:   engine,
				Scanner:  scanner.New(cfg.Scanner, log),
				Strategy: strategy.Build(cfg.Strategy.Mode, strategy.ParamsFromConfig(cfg)),
				Gateway:  execution.NewGateway(a.brk, cfg.Execution, log),
			}
			opts := []run.Option{
				run.WithMode(cfg.Broker.Mode),
				run.WithDryRun(dryRun || cfg.Execution.DryRun),
				run.WithSink(a.sinks()),
			}
			if d := exchange.NewDiscovery(cfg.Discovery, cfg.Data, cfg.Broker, log); d != nil {
				opts = append(opts, run.WithDiscovery(d))
			}
			if cfg.Journal.Path != "" {
				j, err := journal.Open(cfg.Journal.Path)
				if err != nil {
					return err
				}
				defer j.Close()
				opts = append(opts, run.WithJournal(j))
			}
			coord := run.New(cfg.Universe.Symbols(), deps, log, opts...)

			for {
				report, err := coord.RunOnce(ctx)
				if cfg.App.MetricsTextfile != "" {
					if werr := metrics.WriteTextfile(cfg.App.MetricsTextfile); werr != nil {
						log.Warn().Err(werr).Msg("metrics textfile write failed")
					}
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), report.Summary())
				if a.session != nil {
					fmt.Fprintln(cmd.OutOrStdout(), paper.Summarize(a.session.Drain()))
				}
				if every <= 0 {
					return nil
				}
				select {
				case <-ctx.Done():
					log.Info().Msg("shutting down")
					return nil
				case <-time.After(every):
				}
			}
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Decide without submitting orders")
	cmd.Flags().DurationVar(&every, "every", 0, "Repeat the cycle at this interval until interrupted")
	return cmd
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Rank the universe without trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			universe := cfg.Universe.Symbols()
			if d := exchange.NewDiscovery(cfg.Discovery, cfg.Data, cfg.Broker, a.log); d != nil {
				discovered, err := d.Discover(ctx)
				if err != nil {
					a.log.Warn().Err(err).Msg("discovery failed")
				}
				universe = exchange.MergeSymbols(universe, discovered)
			}
			engine := indicator.NewEngine(indicator.WindowsFromConfig(cfg.Indicators))
			res := scanner.New(cfg.Scanner, a.log).Scan(ctx, universe, a.provider, engine)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tSCORE\tCLOSE\tTREND\tRSI\tVOL RATIO\tSHORTLIST")
			shortlisted := make(map[string]bool, len(res.Candidates))
			for _, c := range res.Candidates {
				shortlisted[c.Symbol] = true
			}
			for _, c := range res.Ranked {
				f := c.Features
				fmt.Fprintf(w, "%s\t%.3f\t%.4f\t%+.0f\t%.1f\t%.2f\t%v\n",
					c.Symbol, c.Score, f.Close(), f.Trend(), f.RSI(), f.VolumeRatio(), shortlisted[c.Symbol])
			}
			for _, u := range res.Unscored {
				fmt.Fprintf(w, "%s\t-\t-\t-\t-\t-\t%s\n", u.Symbol, u.Reason)
			}
			return w.Flush()
		},
	}
}

func accountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account",
		Short: "Show account balances and open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			a, err := loadApp(ctx, configPath, true)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.brk.Account(ctx)
			if err != nil {
				return err
			}
			positions, err := a.brk.Positions(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s account (%s)\n", a.cfg.Broker.Name, a.cfg.Broker.Mode, acct.Status)
			fmt.Fprintf(out, "equity $%.2f | buying power $%.2f | cash $%.2f\n", acct.Equity, acct.BuyingPower, acct.Cash)
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tQTY\tAVG ENTRY\tKIND")
			for _, p := range positions {
				kind := "stock"
				if signal.IsCrypto(p.Symbol) {
					kind = "crypto"
				}
				fmt.Fprintf(w, "%s\t%g\t%.4f\t%s\n", p.Symbol, p.Qty, p.AvgEntryPrice, kind)
			}
			return w.Flush()
		},
	}
}

func journalCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent order outcomes from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, configPath, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.Journal.Path == "" {
				return fmt.Errorf("journal.path is not configured")
			}
			j, err := journal.Open(a.cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()

			recs, err := j.RecentOutcomes(ctx, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "AT\tSYMBOL\tSIDE\tQTY\tSTATUS\tPRICE\tRATIONALE\tREASON")
			for _, r := range recs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%g\t%s\t%.4f\t%s\t%s\n",
					r.At.Format(time.RFC3339), r.Symbol, r.Side, r.Qty, r.Status, r.FilledAvgPrice, r.Rationale, r.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of outcomes to show")
	return cmd
}
