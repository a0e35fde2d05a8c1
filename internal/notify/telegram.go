package notify

import (
	"context"
	"fmt"

	"bookslot/internal/domain"
	"bookslot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier mirrors host notifications into a Telegram chat.
type TelegramNotifier struct {
	bot    TelegramSender
	chatID int64
}

func NewTelegramNotifier(bot TelegramSender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

func (n *TelegramNotifier) Send(_ context.Context, kind string, payload domain.NotificationPayload, tmpl *models.EmailTemplate) error {
	if n == nil || n.bot == nil || kind != models.NotifyHostNotification {
		return nil
	}
	chatID := payload.HostChatID
	if chatID == 0 {
		chatID = n.chatID
	}
	if chatID == 0 {
		return nil
	}

	rendered, err := Render(kind, payload, tmpl)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, rendered.Subject+"\n\n"+rendered.Body)
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		return fmt.Errorf("%w: telegram: %v", domain.ErrUpstreamUnavailable, err)
	}
	return nil
}
