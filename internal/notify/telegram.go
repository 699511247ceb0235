package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nikolaikk/AlpacaAlgoTrading/internal/config"
)

const defaultTelegramURL = "https://api.telegram.org"

// telegramMaxText is the Bot API limit for one message.
const telegramMaxText = 4096

// TelegramSink posts alerts through the Telegram Bot API sendMessage method.
type TelegramSink struct {
	baseURL  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramSink builds a sink from config. Token and chat id must be set.
func NewTelegramSink(cfg config.Telegram) (*TelegramSink, error) {
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return nil, fmt.Errorf("telegram: bot token and chat id are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultTelegramURL
	}
	return &TelegramSink{
		baseURL:  base,
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send delivers alert as a MarkdownV2 message.
func (t *TelegramSink) Send(ctx context.Context, alert Alert) error {
	header := fmt.Sprintf("%s *%s*\n\n", levelMarker(alert.Level), escapeMarkdown(alert.Title))
	text := header + escapeMarkdownLimit(alert.Message, max(0, telegramMaxText-utf8.RuneCountInString(header)))
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		return fmt.Errorf("telegram: encode: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	var payload telegramResponse
	_ = json.Unmarshal(raw, &payload)
	if resp.StatusCode != http.StatusOK || !payload.OK {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, payload.Description)
	}
	return nil
}

func levelMarker(level Level) string {
	switch level {
	case LevelWarning:
		return "⚠️"
	case LevelCritical:
		return "🚨"
	}
	return "ℹ️"
}

// escapeMarkdown escapes the characters MarkdownV2 reserves.
func escapeMarkdown(s string) string {
	return escapeMarkdownLimit(s, -1)
}

// escapeMarkdownLimit escapes s and stops before the output would exceed
// limit runes. An escape pair is never split. A negative limit means no limit.
func escapeMarkdownLimit(s string, limit int) string {
	const specials = "_*[]()~`>#+-=|{}.!\\"
	var buf strings.Builder
	buf.Grow(len(s))
	n := 0
	for _, r := range s {
		width := 1
		if strings.ContainsRune(specials, r) {
			width = 2
		}
		if limit >= 0 && n+width > limit {
			break
		}
		if width == 2 {
			buf.WriteByte('\\')
		}
		buf.WriteRune(r)
		n += width
	}
	return buf.String()
}
