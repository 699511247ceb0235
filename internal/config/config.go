// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name            string `yaml:"name"`
	Env             string `yaml:"env"`
	MetricsAddr     string `yaml:"metrics_addr"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"` // json|console
}

// Broker describes the brokerage connectivity parameters. Credentials never live in YAML.
type Broker struct {
	Name      string `yaml:"name"` // alpaca|paper
	Mode      string `yaml:"mode"` // paper|live
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// Cache configures the optional Redis bar cache in front of the market data provider.
type Cache struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redis_url"`
	TTLSecs  int    `yaml:"ttl_secs"`
}

// Data selects and tunes the market data provider.
type Data struct {
	Provider       string `yaml:"provider"`        // stub|alpaca|binance
	CryptoProvider string `yaml:"crypto_provider"` // optional override for BASE/QUOTE symbols
	BaseURL        string `yaml:"base_url"`
	Feed           string `yaml:"feed"`
	BinanceURL     string `yaml:"binance_url"`
	Timeframe      string `yaml:"timeframe"`
	TimeoutMs      int    `yaml:"timeout_ms"`
	Cache          Cache  `yaml:"cache"`
}

// Discovery widens the universe with the day's movers reported by the Alpaca screener.
type Discovery struct {
	Enabled  bool    `yaml:"enabled"`
	Stocks   int     `yaml:"stocks"`
	Crypto   int     `yaml:"crypto"`
	MinPrice float64 `yaml:"min_price"`
}

// Universe lists the symbols considered by every scan. Crypto symbols use Alpaca's BASE/QUOTE form.
type Universe struct {
	Stocks []string `yaml:"stocks"`
	Crypto []string `yaml:"crypto"`
}

// Symbols returns stocks followed by crypto, trimmed and deduplicated.
func (u Universe) Symbols() []string {
	seen := make(map[string]struct{}, len(u.Stocks)+len(u.Crypto))
	out := make([]string, 0, len(u.Stocks)+len(u.Crypto))
	for _, sym := range append(append([]string(nil), u.Stocks...), u.Crypto...) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// Indicators holds the lookback windows used by the indicator engine.
type Indicators struct {
	ShortWindow       int     `yaml:"short_window"`
	LongWindow        int     `yaml:"long_window"`
	RSIPeriod         int     `yaml:"rsi_period"`
	VolatilityWindow  int     `yaml:"volatility_window"`
	VolumeShortWindow int     `yaml:"volume_short_window"`
	VolumeLongWindow  int     `yaml:"volume_long_window"`
	BollingerWindow   int     `yaml:"bollinger_window"`
	BollingerK        float64 `yaml:"bollinger_k"`
}

// Scanner tunes candidate ranking. MinScore is optional; nil disables the threshold.
type Scanner struct {
	MaxCandidates    int      `yaml:"max_candidates"`
	MinScore         *float64 `yaml:"min_score"`
	Workers          int      `yaml:"workers"`
	TrendWeight      float64  `yaml:"trend_weight"`
	OscillatorWeight float64  `yaml:"oscillator_weight"`
	VolumeWeight     float64  `yaml:"volume_weight"`
}

// StrategyParams groups tunable knobs for a strategy implementation.
// TakeProfitPct and StopLossPct are pointers so an explicit 0 (exit disabled)
// survives ApplyDefaults.
type StrategyParams struct {
	OverboughtRSI float64  `yaml:"overbought_rsi"`
	OversoldRSI   float64  `yaml:"oversold_rsi"`
	TakeProfitPct *float64 `yaml:"take_profit_pct"`
	StopLossPct   *float64 `yaml:"stop_loss_pct"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode   string         `yaml:"mode"`
	Params StrategyParams `yaml:"params"`
}

// Risk encodes guard-rails for how much size a single entry may take on.
type Risk struct {
	RiskFraction        float64 `yaml:"risk_fraction"`
	MaxPositionNotional float64 `yaml:"max_position_notional"`
	MinNotional         float64 `yaml:"min_notional"`
	CryptoMinNotional   float64 `yaml:"crypto_min_notional"`
	QtyPrecision        *int    `yaml:"qty_precision"` // 0 sizes whole units
}

// Execution bounds the order retry state machine.
type Execution struct {
	MaxAttempts  int    `yaml:"max_attempts"`
	BackoffMs    int    `yaml:"backoff_ms"`
	MaxBackoffMs int    `yaml:"max_backoff_ms"`
	TimeInForce  string `yaml:"time_in_force"`
	DryRun       bool   `yaml:"dry_run"`
}

// Telegram configures the Telegram notification sink. Token and chat come from the environment.
type Telegram struct {
	Enabled  bool   `yaml:"enabled"`
	BaseURL  string `yaml:"base_url"`
	BotToken string `yaml:"-"`
	ChatID   string `yaml:"-"`
}

// Notify groups the notification sinks.
type Notify struct {
	Telegram Telegram `yaml:"telegram"`
}

// Journal configures the SQLite outcome journal. An empty path disables it.
type Journal struct {
	Path string `yaml:"path"`
}

// Paper captures paper-trading account settings used when broker.name is "paper".
// MaxPositionPerSymbol caps the notional held in any one symbol; zero disables it.
type Paper struct {
	StartingCash         float64 `yaml:"starting_cash"`
	MaxPositionPerSymbol float64 `yaml:"max_position_per_symbol"`
	SlippageBps          float64 `yaml:"slippage_bps"`
	FillsPath            string  `yaml:"fills_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App        App        `yaml:"app"`
	Broker     Broker     `yaml:"broker"`
	Data       Data       `yaml:"data"`
	Universe   Universe   `yaml:"universe"`
	Discovery  Discovery  `yaml:"discovery"`
	Indicators Indicators `yaml:"indicators"`
	Scanner    Scanner    `yaml:"scanner"`
	Strategy   Strategy   `yaml:"strategy"`
	Risk       Risk       `yaml:"risk"`
	Execution  Execution  `yaml:"execution"`
	Notify     Notify     `yaml:"notify"`
	Journal    Journal    `yaml:"journal"`
	Paper      Paper      `yaml:"paper"`
}

// Load reads a YAML file from disk, hydrates a Config struct and fills unset knobs with defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyDefaults fills zero-valued knobs with the values the bot was tuned with.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tradebot"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Broker.Name == "" {
		c.Broker.Name = "alpaca"
	}
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
	}
	if c.Broker.TimeoutMs <= 0 {
		c.Broker.TimeoutMs = 10000
	}
	if c.Data.Provider == "" {
		c.Data.Provider = "alpaca"
	}
	if c.Data.Timeframe == "" {
		c.Data.Timeframe = "1Day"
	}
	if c.Data.TimeoutMs <= 0 {
		c.Data.TimeoutMs = 10000
	}
	if c.Data.Cache.TTLSecs <= 0 {
		c.Data.Cache.TTLSecs = 900
	}

	if c.Discovery.Enabled {
		if c.Discovery.Stocks == 0 && c.Discovery.Crypto == 0 {
			c.Discovery.Stocks = 25
			c.Discovery.Crypto = 25
		}
		if c.Discovery.MinPrice <= 0 {
			c.Discovery.MinPrice = 1
		}
	}

	ind := &c.Indicators
	setInt(&ind.ShortWindow, 20)
	setInt(&ind.LongWindow, 50)
	setInt(&ind.RSIPeriod, 14)
	setInt(&ind.VolatilityWindow, 20)
	setInt(&ind.VolumeShortWindow, 5)
	setInt(&ind.VolumeLongWindow, 20)
	setInt(&ind.BollingerWindow, 20)
	if ind.BollingerK <= 0 {
		ind.BollingerK = 2
	}

	setInt(&c.Scanner.MaxCandidates, 10)
	setInt(&c.Scanner.Workers, 1)
	if c.Scanner.TrendWeight == 0 && c.Scanner.OscillatorWeight == 0 && c.Scanner.VolumeWeight == 0 {
		c.Scanner.TrendWeight = 1
		c.Scanner.OscillatorWeight = 0.5
		c.Scanner.VolumeWeight = 0.5
	}

	if c.Strategy.Mode == "" {
		c.Strategy.Mode = "trend_rsi"
	}
	p := &c.Strategy.Params
	if p.OverboughtRSI <= 0 {
		p.OverboughtRSI = 70
	}
	if p.OversoldRSI <= 0 {
		p.OversoldRSI = 30
	}
	if p.TakeProfitPct == nil {
		p.TakeProfitPct = Float(5)
	}
	if p.StopLossPct == nil {
		p.StopLossPct = Float(2)
	}

	if c.Risk.RiskFraction <= 0 {
		c.Risk.RiskFraction = 0.01
	}
	if c.Risk.CryptoMinNotional <= 0 {
		c.Risk.CryptoMinNotional = 1
	}
	if c.Risk.QtyPrecision == nil {
		c.Risk.QtyPrecision = Int(5)
	}

	setInt(&c.Execution.MaxAttempts, 3)
	setInt(&c.Execution.BackoffMs, 500)
	setInt(&c.Execution.MaxBackoffMs, 5000)
	if c.Execution.TimeInForce == "" {
		c.Execution.TimeInForce = "day"
	}

	if c.Paper.StartingCash <= 0 {
		c.Paper.StartingCash = 100000
	}
}

// Validate rejects configurations that would make the pipeline meaningless.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Universe.Symbols()) == 0 {
		errs = append(errs, errors.New("universe is empty"))
	}
	if c.Indicators.ShortWindow >= c.Indicators.LongWindow {
		errs = append(errs, fmt.Errorf("short_window %d must be below long_window %d", c.Indicators.ShortWindow, c.Indicators.LongWindow))
	}
	if c.Indicators.VolumeShortWindow >= c.Indicators.VolumeLongWindow {
		errs = append(errs, fmt.Errorf("volume_short_window %d must be below volume_long_window %d", c.Indicators.VolumeShortWindow, c.Indicators.VolumeLongWindow))
	}
	if c.Strategy.Params.OversoldRSI >= c.Strategy.Params.OverboughtRSI {
		errs = append(errs, fmt.Errorf("oversold_rsi %.1f must be below overbought_rsi %.1f", c.Strategy.Params.OversoldRSI, c.Strategy.Params.OverboughtRSI))
	}
	if v := c.Strategy.Params.TakeProfitPct; v != nil && *v < 0 {
		errs = append(errs, fmt.Errorf("take_profit_pct %.2f is negative", *v))
	}
	if v := c.Strategy.Params.StopLossPct; v != nil && *v < 0 {
		errs = append(errs, fmt.Errorf("stop_loss_pct %.2f is negative", *v))
	}
	if v := c.Risk.QtyPrecision; v != nil && (*v < 0 || *v > 9) {
		errs = append(errs, fmt.Errorf("qty_precision %d outside 0..9", *v))
	}
	if c.Risk.RiskFraction > 1 {
		errs = append(errs, fmt.Errorf("risk_fraction %.4f above 1", c.Risk.RiskFraction))
	}
	switch c.Broker.Mode {
	case "paper", "live":
	default:
		errs = append(errs, fmt.Errorf("unknown broker mode %q", c.Broker.Mode))
	}
	return errors.Join(errs...)
}

// Float returns a pointer to v, for optional knobs.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v, for optional knobs.
func Int(v int) *int { return &v }

// Deref returns *v, or def when v is nil.
func Deref[T any](v *T, def T) T {
	if v == nil {
		return def
	}
	return *v
}

func setInt(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}
