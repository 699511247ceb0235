package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultPaperBaseURL = "https://paper-api.alpaca.markets"
	defaultLiveBaseURL  = "https://api.alpaca.markets"
)

// LoadSecrets reads broker and notification credentials from the environment, loading .env first.
// ALPACA_MODE overrides broker.mode and selects which key pair is used.
func LoadSecrets(cfg *Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	_ = godotenv.Load() // best-effort

	if mode := strings.ToLower(strings.TrimSpace(os.Getenv("ALPACA_MODE"))); mode != "" {
		cfg.Broker.Mode = mode
	}
	suffix := "PAPER"
	if cfg.Broker.Mode == "live" {
		suffix = "LIVE"
	}
	cfg.Broker.APIKey = os.Getenv("ALPACA_API_KEY_ID_" + suffix)
	cfg.Broker.APISecret = os.Getenv("ALPACA_API_SECRET_KEY_" + suffix)
	if cfg.Broker.BaseURL == "" {
		cfg.Broker.BaseURL = defaultPaperBaseURL
		if cfg.Broker.Mode == "live" {
			cfg.Broker.BaseURL = defaultLiveBaseURL
		}
	}

	cfg.Notify.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Notify.Telegram.ChatID = os.Getenv("TELEGRAM_CHAT_ID")
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Data.Cache.RedisURL = url
	}

	if cfg.Broker.Name == "alpaca" && (cfg.Broker.APIKey == "" || cfg.Broker.APISecret == "") {
		return errors.New("ALPACA_API_KEY_ID and ALPACA_API_SECRET_KEY must be set for mode " + cfg.Broker.Mode)
	}
	return nil
}
