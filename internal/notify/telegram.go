package notify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig configures a TelegramSender.
type TelegramConfig struct {
	Token      string
	ChatID     string
	MaxRetries int
	RetryDelay time.Duration
	// APIEndpoint overrides tgbotapi.APIEndpoint; tests point it at a fake.
	APIEndpoint string
}

// TelegramSender delivers notifications through the Telegram Bot API.
type TelegramSender struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	maxRetries int
	retryDelay time.Duration
}

// NewTelegramSender authenticates the bot (getMe) and returns a sender for
// one chat.
func NewTelegramSender(cfg TelegramConfig) (*TelegramSender, error) {
	chatID, err := strconv.ParseInt(cfg.ChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id: %w", err)
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}

	s := &TelegramSender{
		bot:        bot,
		chatID:     chatID,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if s.retryDelay <= 0 {
		s.retryDelay = time.Second
	}
	return s, nil
}

// Send posts title in bold followed by message, retrying with linear backoff.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("*%s*\n%s", escapeMarkdownV2(title), escapeMarkdownV2(message)))
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < t.maxRetries; i++ {
		if _, err := t.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("telegram: send: %w", ctx.Err())
		case <-time.After(t.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("telegram: send failed after %d attempts: %w", t.maxRetries, lastErr)
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

// escapeMarkdownV2 escapes every character MarkdownV2 reserves.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
