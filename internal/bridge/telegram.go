package bridge

import (
	"context"
	"fmt"

	"support-chat-be/internal/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SecretHeader carries the webhook secret configured with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type TelegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramChannel(token string, chatID int64) (*TelegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	return &TelegramChannel{bot: bot, chatID: chatID}, nil
}

func (t *TelegramChannel) Send(_ context.Context, text string, replyTo int) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// LogChannel stands in for the group when no bot token is configured.
type LogChannel struct {
	logger logger.ILogger
}

func NewLogChannel(log logger.ILogger) *LogChannel {
	return &LogChannel{logger: log}
}

func (l *LogChannel) Send(_ context.Context, text string, replyTo int) error {
	l.logger.Info(module, "Operator notification", map[string]interface{}{
		"text":     text,
		"reply_to": replyTo,
	})
	return nil
}

// FromTelegram extracts the operator message of a webhook update. Updates
// without a text message are skipped.
func FromTelegram(u tgbotapi.Update) (Update, bool) {
	msg := u.Message
	if msg == nil {
		return Update{}, false
	}

	out := Update{
		UpdateID:  u.UpdateID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}
	if msg.Chat != nil {
		out.ChatID = msg.Chat.ID
	}
	if msg.From != nil {
		out.From = msg.From.UserName
	}
	if msg.ReplyToMessage != nil {
		out.ReplyToText = msg.ReplyToMessage.Text
		if out.ReplyToText == "" {
			out.ReplyToText = msg.ReplyToMessage.Caption
		}
	}
	return out, out.Text != ""
}
