// Package notify delivers operator alerts when a run needs attention.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Alerter sends a short text to an operator.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Nop discards alerts.
type Nop struct{}

func (Nop) Alert(context.Context, string) error { return nil }

// TelegramConfig configures the Telegram alerter.
type TelegramConfig struct {
	Token  string
	ChatID string
	// Endpoint overrides the Bot API URL template, e.g. in tests. It has
	// two %s verbs: token and method.
	Endpoint string
	Logger   *slog.Logger
}

// Telegram posts alerts to one chat. The bot connects on first use, so a
// bad token surfaces when the first alert is sent rather than at startup.
type Telegram struct {
	token    string
	chatID   int64
	endpoint string
	logger   *slog.Logger

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.ChatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat ID %q: %w", cfg.ChatID, err)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:    cfg.Token,
		chatID:   id,
		endpoint: cfg.Endpoint,
		logger:   cfg.Logger,
	}, nil
}

func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(t.token, t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	t.logger.Debug("telegram bot connected", "username", bot.Self.UserName)
	t.bot = bot
	return bot, nil
}

// Alert sends text, split into chunks below Telegram's message limit.
func (t *Telegram) Alert(ctx context.Context, text string) error {
	bot, err := t.connect()
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(ctx, bot, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendChunk(ctx context.Context, bot *tgbotapi.BotAPI, text string) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		_, err := bot.Send(tgbotapi.NewMessage(t.chatID, text))
		if err == nil {
			return nil
		}
		lastErr = err

		var tgErr *tgbotapi.Error
		if !errors.As(err, &tgErr) || tgErr.Code != 429 {
			return fmt.Errorf("telegram send: %w", err)
		}
		wait := time.Duration(tgErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Duration(attempt+1) * 3 * time.Second
		}
		t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("telegram send: %w", lastErr)
}

// splitMessage cuts text at a newline in the second half of each window,
// or hard at the last rune boundary before max when there is none.
func splitMessage(text string, max int) []string {
	var out []string
	for len(text) > max {
		cut := strings.LastIndex(text[:max], "\n")
		if cut < max/2 {
			cut = max
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = max
			}
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
