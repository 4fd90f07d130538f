package notify

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"autotrader/internal/events"
)

// Telegram sends plain-text alerts to one chat.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
}

// NewTelegram returns nil when the bot is not configured.
func NewTelegram(token string, chatID int64, opts ...telego.BotOption) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, a events.Alert) error {
	if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(t.chatID), plainText(a))); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
