package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/broker"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/exchange"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/notify"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/paper"
	"github.com/nikolaikk/AlpacaAlgoTrading/internal/util"
)

// app holds the long-lived collaborators shared by every command.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	provider exchange.Provider
	brk      broker.Broker
	session  *paper.Ledger // paper fills since the last cycle; nil for alpaca
	closers  []func() error
}

func loadApp(ctx context.Context, path string, withBroker bool) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.LoadSecrets(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	a := &app{cfg: cfg, log: util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat)}

	raw, err := exchange.FromConfig(cfg.Data, cfg.Broker, a.log)
	if err != nil {
		return nil, err
	}
	a.provider = raw
	if cfg.Data.Cache.Enabled && cfg.Data.Cache.RedisURL != "" {
		client, err := exchange.DialRedis(ctx, cfg.Data.Cache.RedisURL)
		if err != nil {
			a.log.Warn().Err(err).Msg("bar cache unavailable, fetching directly")
		} else {
			a.closers = append(a.closers, client.Close)
			namespace := cfg.Data.Provider + ":" + cfg.Data.Timeframe
			ttl := time.Duration(cfg.Data.Cache.TTLSecs) * time.Second
			a.provider = exchange.NewCachedProvider(raw, exchange.NewRedisStore(client), namespace, ttl, a.log)
		}
	}

	if withBroker {
		if err := a.openBroker(raw); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// openBroker picks the brokerage. Paper fills are priced from the uncached
// provider so they reflect the latest bar.
func (a *app) openBroker(prices exchange.Provider) error {
	cfg := a.cfg
	switch cfg.Broker.Name {
	case "alpaca":
		client, err := broker.NewAlpacaClient(cfg.Broker, a.log)
		if err != nil {
			return err
		}
		a.brk = client
		return nil
	case "paper":
		acct := paper.NewAccount(cfg.Paper.StartingCash, cfg.Paper.MaxPositionPerSymbol)
		a.session = paper.NewLedger(16)
		opts := []paper.Option{paper.WithSlippageBps(cfg.Paper.SlippageBps), paper.WithRecorder(a.session)}
		if cfg.Paper.FillsPath != "" {
			n, err := paper.Restore(acct, cfg.Paper.FillsPath)
			if err != nil {
				return fmt.Errorf("restore paper account: %w", err)
			}
			rec, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath)
			if err != nil {
				return fmt.Errorf("open fills recorder: %w", err)
			}
			a.closers = append(a.closers, rec.Close)
			opts = append(opts, paper.WithRecorder(rec))
			a.log.Info().Int("fills", n).Str("path", cfg.Paper.FillsPath).Msg("paper account restored")
		}
		a.brk = paper.NewBroker(acct, prices, a.log, opts...)
		return nil
	default:
		return fmt.Errorf("unknown broker %q", cfg.Broker.Name)
	}
}

func (a *app) sinks() notify.Sink {
	sinks := notify.Multi{notify.NewLogSink(a.log)}
	if a.cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(a.cfg.Notify.Telegram)
		if err != nil {
			a.log.Warn().Err(err).Msg("telegram disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}
	return sinks
}

// Close releases everything opened by loadApp, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
