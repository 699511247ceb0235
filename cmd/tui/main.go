// Command tui is an interactive editor for the tradebot config file.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== Tradebot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit strategy")
		fmt.Println("3) Edit risk and sizing")
		fmt.Println("4) Edit universe")
		fmt.Println("5) Save config")
		fmt.Println("6) Dry-run one cycle")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		switch strings.TrimSpace(input) {
		case "1":
			printSummary(cfg)
		case "2":
			editStrategy(reader, cfg)
		case "3":
			editRisk(reader, cfg)
		case "4":
			editUniverse(reader, cfg)
		case "5":
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			launchDryRun(reader)
		case "7":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Broker: %s (%s) | data: %s %s\n", cfg.Broker.Name, cfg.Broker.Mode, cfg.Data.Provider, cfg.Data.Timeframe)
	fmt.Printf("Strategy: %s | RSI %.0f/%.0f | TP %.1f%% SL %.1f%%\n",
		cfg.Strategy.Mode, cfg.Strategy.Params.OversoldRSI, cfg.Strategy.Params.OverboughtRSI,
		config.Deref(cfg.Strategy.Params.TakeProfitPct, 0), config.Deref(cfg.Strategy.Params.StopLossPct, 0))
	fmt.Printf("Risk per trade: %.2f%% of equity | max position $%.2f | min notional $%.2f\n",
		cfg.Risk.RiskFraction*100, cfg.Risk.MaxPositionNotional, cfg.Risk.MinNotional)
	fmt.Printf("Max candidates: %d | retries: %d\n", cfg.Scanner.MaxCandidates, cfg.Execution.MaxAttempts)
	fmt.Println("Stocks:", strings.Join(cfg.Universe.Stocks, ", "))
	fmt.Println("Crypto:", strings.Join(cfg.Universe.Crypto, ", "))
	if cfg.Discovery.Enabled {
		fmt.Printf("Discovery: top %d stocks, %d crypto, min price $%.2f\n", cfg.Discovery.Stocks, cfg.Discovery.Crypto, cfg.Discovery.MinPrice)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("WARNING: %v\n", err)
	}
}

func editStrategy(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Strategy ---")
	fmt.Printf("Mode (trend_rsi|rsi_reversion) [%s]: ", cfg.Strategy.Mode)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Strategy.Mode = strings.TrimSpace(line)
	}
	p := &cfg.Strategy.Params
	p.OverboughtRSI = promptFloat(reader, "Overbought RSI", p.OverboughtRSI)
	p.OversoldRSI = promptFloat(reader, "Oversold RSI", p.OversoldRSI)
	p.TakeProfitPct = config.Float(promptFloat(reader, "Take profit (%, 0 disables)", config.Deref(p.TakeProfitPct, 0)))
	p.StopLossPct = config.Float(promptFloat(reader, "Stop loss (%, 0 disables)", config.Deref(p.StopLossPct, 0)))
	cfg.Scanner.MaxCandidates = int(promptFloat(reader, "Max candidates", float64(cfg.Scanner.MaxCandidates)))
}

func editRisk(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Risk / Sizing ---")
	cfg.Risk.RiskFraction = promptPercent(reader, "Risk per trade (% of equity)", cfg.Risk.RiskFraction)
	cfg.Risk.MaxPositionNotional = promptFloat(reader, "Max position notional (USD)", cfg.Risk.MaxPositionNotional)
	cfg.Risk.MinNotional = promptFloat(reader, "Min order notional (USD)", cfg.Risk.MinNotional)
	cfg.Risk.QtyPrecision = config.Int(int(promptFloat(reader, "Qty decimals (0 for whole units)", float64(config.Deref(cfg.Risk.QtyPrecision, 5)))))
	cfg.Execution.MaxAttempts = int(promptFloat(reader, "Max order attempts", float64(cfg.Execution.MaxAttempts)))
	if cfg.Broker.Name == "paper" {
		cfg.Paper.StartingCash = promptFloat(reader, "Paper starting cash", cfg.Paper.StartingCash)
	}
}

func editUniverse(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Universe ---")
	cfg.Universe.Stocks = promptList(reader, "Stocks", cfg.Universe.Stocks)
	cfg.Universe.Crypto = promptList(reader, "Crypto pairs (BASE/QUOTE)", cfg.Universe.Crypto)
	fmt.Printf("Discovery enabled [%v] (y/n): ", cfg.Discovery.Enabled)
	if line, _ := reader.ReadString('\n'); strings.TrimSpace(line) != "" {
		cfg.Discovery.Enabled = strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
	}
	if cfg.Discovery.Enabled {
		cfg.Discovery.Stocks = int(promptFloat(reader, "Discovered stocks", float64(cfg.Discovery.Stocks)))
		cfg.Discovery.Crypto = int(promptFloat(reader, "Discovered crypto", float64(cfg.Discovery.Crypto)))
	}
}

func launchDryRun(reader *bufio.Reader) {
	fmt.Println("Running one dry-run cycle...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", "./cmd/tradebot", "run", "--dry-run", "--config", locateConfig())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
	}
	fmt.Print("\nPress ENTER to return to menu...")
	_, _ = reader.ReadString('\n')
}

func promptList(reader *bufio.Reader, label string, current []string) []string {
	fmt.Printf("%s [%s] (comma-separated, blank to keep): ", label, strings.Join(current, ", "))
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	var out []string
	for _, p := range strings.Split(line, ",") {
		if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if path := os.Getenv("TRADEBOT_CONFIG"); path != "" {
		return filepath.Clean(path)
	}
	return filepath.Clean(defaultConfigPath)
}
