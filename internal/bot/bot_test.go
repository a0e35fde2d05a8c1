package bot

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/export"
	"bookslot/internal/models"
	"bookslot/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostChat int64 = 4242

type fakeTelegram struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    []tgbotapi.Chattable
	stopped bool
}

func (f *fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeTelegram) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeTelegram) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

type fakeHosts struct {
	rows     []export.Row
	days     int
	from, to string
	err      error
}

func (f *fakeHosts) Agenda(_ context.Context, _ time.Time, days int) ([]export.Row, *time.Location, error) {
	f.days = days
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.rows, time.UTC, nil
}

func (f *fakeHosts) ExportBookings(_ context.Context, from, to string, w io.Writer) (string, error) {
	f.from, f.to = from, to
	_, _ = w.Write([]byte("xlsx"))
	return fmt.Sprintf("bookings_%s_to_%s.xlsx", from, to), nil
}

type fakeBookings struct {
	cancelled map[string]string
}

func (f *fakeBookings) Summary(_ context.Context, uid string) (*service.BookingSummary, error) {
	if uid != "b-1" {
		return nil, domain.ErrNotFound
	}
	return &service.BookingSummary{
		UID:       uid,
		Title:     "Intro call",
		StartTime: time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC),
		Status:    models.BookingAccepted,
		GuestName: "Grace",
	}, nil
}

func (f *fakeBookings) Cancel(_ context.Context, uid, reason string) (*service.CancelResult, error) {
	if _, ok := f.cancelled[uid]; ok {
		return nil, domain.ErrAlreadyCancelled
	}
	f.cancelled[uid] = reason
	return &service.CancelResult{RefundProcessed: true, RefundID: "re_1"}, nil
}

type fakeReminders struct{}

func (fakeReminders) SendTodayReminders(context.Context) (service.ReminderReport, error) {
	return service.ReminderReport{Candidates: 3, Sent: 2, Skipped: 1}, nil
}

type botFixture struct {
	api      *fakeTelegram
	hosts    *fakeHosts
	bookings *fakeBookings
	bot      *Bot
}

func newBotFixture(reminders ReminderRunner) *botFixture {
	logger := zerolog.New(io.Discard)
	f := &botFixture{
		api:      &fakeTelegram{updates: make(chan tgbotapi.Update, 16)},
		hosts:    &fakeHosts{},
		bookings: &fakeBookings{cancelled: map[string]string{}},
	}
	f.bot = NewBot(f.api, hostChat, f.hosts, f.bookings, reminders, &logger)
	f.bot.now = func() time.Time { return time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC) }
	return f
}

func command(chatID int64, text string) tgbotapi.Update {
	length := len(text)
	for i, r := range text {
		if r == ' ' {
			length = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

func (f *botFixture) run(updates ...tgbotapi.Update) []string {
	for _, u := range updates {
		f.api.updates <- u
	}
	close(f.api.updates)
	f.bot.Start(context.Background())
	return f.api.texts()
}

func TestBot_Agenda(t *testing.T) {
	f := newBotFixture(nil)
	f.hosts.rows = []export.Row{
		{
			Booking:  models.Booking{UID: "b-1", Title: "Intro call", StartTime: time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC), Status: models.BookingAccepted},
			Attendee: &models.Attendee{Name: "Grace"},
		},
		{
			Booking: models.Booking{UID: "b-2", Title: "Consult", StartTime: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC), Status: models.BookingCancelled},
		},
	}

	texts := f.run(command(hostChat, "/week"))
	require.Len(t, texts, 1)
	assert.Equal(t, 7, f.hosts.days)
	assert.Contains(t, texts[0], "14:00 Intro call with Grace")
	assert.Contains(t, texts[0], "Tue 05 Mar")
	assert.Contains(t, texts[0], "Consult with unknown guest [cancelled]")
	assert.True(t, f.api.stopped)
}

func TestBot_EmptyToday(t *testing.T) {
	f := newBotFixture(nil)
	texts := f.run(command(hostChat, "/today"))
	require.Len(t, texts, 1)
	assert.Equal(t, "Today: no bookings.", texts[0])
	assert.Equal(t, 1, f.hosts.days)
}

func TestBot_IgnoresForeignChats(t *testing.T) {
	f := newBotFixture(nil)
	texts := f.run(command(999, "/today"), tgbotapi.Update{})
	assert.Empty(t, texts)
	assert.Zero(t, f.hosts.days)
}

func TestBot_BookingAndCancel(t *testing.T) {
	f := newBotFixture(nil)
	texts := f.run(
		command(hostChat, "/booking b-1"),
		command(hostChat, "/booking nope"),
		command(hostChat, "/cancel b-1 host is ill"),
		command(hostChat, "/cancel b-1"),
		command(hostChat, "/cancel"),
	)
	require.Len(t, texts, 5)
	assert.Contains(t, texts[0], "Intro call")
	assert.Contains(t, texts[0], "Guest: Grace")
	assert.Equal(t, "Booking not found.", texts[1])
	assert.Equal(t, "Booking b-1 cancelled. Refund re_1 issued.", texts[2])
	assert.Equal(t, "host is ill", f.bookings.cancelled["b-1"])
	assert.Equal(t, "That booking is already cancelled.", texts[3])
	assert.Contains(t, texts[4], "Usage")
}

func TestBot_Reminders(t *testing.T) {
	f := newBotFixture(fakeReminders{})
	texts := f.run(command(hostChat, "/reminders"))
	require.Len(t, texts, 1)
	assert.Equal(t, "Reminders: 2 sent, 1 skipped, 0 failed of 3.", texts[0])

	off := newBotFixture(nil)
	texts = off.run(command(hostChat, "/reminders"))
	assert.Equal(t, []string{"Reminders are not configured."}, texts)
}

func TestBot_Export(t *testing.T) {
	f := newBotFixture(nil)
	f.run(command(hostChat, "/export"))

	assert.Equal(t, "2024-03-04", f.hosts.from)
	assert.Equal(t, "2024-03-10", f.hosts.to)
	require.Len(t, f.api.sent, 1)
	doc, ok := f.api.sent[0].(tgbotapi.DocumentConfig)
	require.True(t, ok)
	file, ok := doc.File.(tgbotapi.FileBytes)
	require.True(t, ok)
	assert.Equal(t, "bookings_2024-03-04_to_2024-03-10.xlsx", file.Name)
	assert.Equal(t, []byte("xlsx"), file.Bytes)
}

func TestBot_HelpAndUnknown(t *testing.T) {
	f := newBotFixture(nil)
	plain := tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: hostChat}, Text: "hello"}}
	texts := f.run(command(hostChat, "/help"), command(hostChat, "/dance"), plain)
	require.Len(t, texts, 3)
	assert.Equal(t, helpText, texts[0])
	assert.Contains(t, texts[1], "Unknown command.")
	assert.Equal(t, helpText, texts[2])
}
