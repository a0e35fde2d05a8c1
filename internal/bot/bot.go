package bot

import (
	"context"
	"io"
	"time"

	"bookslot/internal/export"
	"bookslot/internal/logging"
	"bookslot/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TelegramAPI is the part of the Bot API client the host bot uses.
type TelegramAPI interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

type HostAgenda interface {
	Agenda(ctx context.Context, at time.Time, days int) ([]export.Row, *time.Location, error)
	ExportBookings(ctx context.Context, from, to string, w io.Writer) (string, error)
}

type BookingManager interface {
	Summary(ctx context.Context, uid string) (*service.BookingSummary, error)
	Cancel(ctx context.Context, uid, reason string) (*service.CancelResult, error)
}

type ReminderRunner interface {
	SendTodayReminders(ctx context.Context) (service.ReminderReport, error)
}

// Bot answers the host's commands in the configured chat. Messages from
// any other chat are ignored.
type Bot struct {
	api       TelegramAPI
	hosts     HostAgenda
	bookings  BookingManager
	reminders ReminderRunner
	chatID    int64
	now       func() time.Time
	logger    *zerolog.Logger
}

// NewBot wires the host bot. reminders may be nil.
func NewBot(api TelegramAPI, chatID int64, hosts HostAgenda, bookings BookingManager, reminders ReminderRunner, logger *zerolog.Logger) *Bot {
	return &Bot{
		api:       api,
		hosts:     hosts,
		bookings:  bookings,
		reminders: reminders,
		chatID:    chatID,
		now:       time.Now,
		logger:    logging.Component(logger, "telegram-bot"),
	}
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()
	b.logger.Info().Int64("chat_id", b.chatID).Msg("host bot started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("host bot stopping")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.Chat.ID != b.chatID {
		b.logger.Debug().Int64("chat_id", msg.Chat.ID).Msg("ignoring message from foreign chat")
		return
	}

	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Int("update_id", update.UpdateID).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(msg.Chat.ID, func() {
		b.handleMessage(updateCtx, msg)
	})
}

func (b *Bot) withRecovery(chatID int64, handler func()) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Msg("recovered from panic in update handler")
			b.reply(chatID, "Something went wrong, please try again.")
		}
	}()
	handler()
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send reply")
	}
}
