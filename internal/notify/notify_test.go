package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func samplePayload() domain.NotificationPayload {
	start := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	return domain.NotificationPayload{
		BookingUID:    "uid-1",
		GuestName:     "Grace",
		GuestEmail:    "grace@example.com",
		GuestTimezone: "Europe/London",
		HostName:      "Ada",
		HostEmail:     "ada@example.com",
		EventTitle:    "Intro call",
		Start:         start,
		End:           start.Add(30 * time.Minute),
		ManageURL:     "https://book.example.com/booking/uid-1",
	}
}

func TestRender_Defaults(t *testing.T) {
	msg, err := Render(models.NotifyConfirmation, samplePayload(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Confirmed: Intro call on Monday, March 4, 2024 3:00 PM (Europe/London)", msg.Subject)
	assert.Contains(t, msg.Body, "Hi Grace,")
	assert.Contains(t, msg.Body, "https://book.example.com/booking/uid-1")
}

func TestRender_CustomTemplateAndRefund(t *testing.T) {
	p := samplePayload()
	p.RefundCents = 5000
	p.Currency = "usd"
	p.Reason = "conflict"

	tmpl := &models.EmailTemplate{Kind: models.NotifyCancellation, Subject: "Sorry {{.GuestName}}", Enabled: true}
	msg, err := Render(models.NotifyCancellation, p, tmpl)
	require.NoError(t, err)
	assert.Equal(t, "Sorry Grace", msg.Subject)
	assert.Contains(t, msg.Body, "Reason: conflict")
	assert.Contains(t, msg.Body, "A refund of 50.00 USD has been issued.")
}

func TestRender_Rescheduled(t *testing.T) {
	p := samplePayload()
	p.PreviousStart = p.Start.Add(-24 * time.Hour)
	msg, err := Render(models.NotifyRescheduled, p, nil)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "from Sunday, March 3, 2024 3:00 PM (Europe/London) to Monday, March 4, 2024 3:00 PM")
}

func TestRender_Errors(t *testing.T) {
	_, err := Render("sms", samplePayload(), nil)
	assert.Error(t, err)

	_, err = Render(models.NotifyReminder, samplePayload(), &models.EmailTemplate{Body: "{{.Broken"})
	assert.Error(t, err)
}

func TestEmailNotifier(t *testing.T) {
	var sent []*mail.Msg
	n := newEmailNotifier("bookings@example.com", func(_ context.Context, m *mail.Msg) error {
		sent = append(sent, m)
		return nil
	}, nil)

	require.NoError(t, n.Send(context.Background(), models.NotifyConfirmation, samplePayload(), nil))
	require.NoError(t, n.Send(context.Background(), models.NotifyHostNotification, samplePayload(), nil))
	require.Len(t, sent, 2)

	var buf bytes.Buffer
	_, err := sent[0].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "grace@example.com")
	assert.Contains(t, buf.String(), "Hi Grace,")

	buf.Reset()
	_, err = sent[1].WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ada@example.com")
	assert.Contains(t, buf.String(), "Hi Ada,")
}

func TestEmailNotifier_Failures(t *testing.T) {
	n := newEmailNotifier("bookings@example.com", func(context.Context, *mail.Msg) error {
		return errors.New("connection refused")
	}, nil)

	err := n.Send(context.Background(), models.NotifyReminder, samplePayload(), nil)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)

	p := samplePayload()
	p.GuestEmail = ""
	assert.NoError(t, n.Send(context.Background(), models.NotifyReminder, p, nil), "no recipient is a skip")

	var nilNotifier *EmailNotifier
	assert.NoError(t, nilNotifier.Send(context.Background(), models.NotifyReminder, p, nil))
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier(t *testing.T) {
	bot := &fakeBot{}
	n := NewTelegramNotifier(bot, 42)

	require.NoError(t, n.Send(context.Background(), models.NotifyConfirmation, samplePayload(), nil))
	assert.Empty(t, bot.sent, "only host notifications go to Telegram")

	require.NoError(t, n.Send(context.Background(), models.NotifyHostNotification, samplePayload(), nil))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Contains(t, bot.sent[0].Text, "New booking: Intro call with Grace")

	p := samplePayload()
	p.HostChatID = 7
	require.NoError(t, n.Send(context.Background(), models.NotifyHostNotification, p, nil))
	assert.Equal(t, int64(7), bot.sent[1].ChatID)

	bot.err = errors.New("blocked")
	assert.ErrorIs(t, n.Send(context.Background(), models.NotifyHostNotification, p, nil), domain.ErrUpstreamUnavailable)
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Send(context.Context, string, domain.NotificationPayload, *models.EmailTemplate) error {
	c.calls++
	return c.err
}

func TestDispatcher(t *testing.T) {
	var unconfigured *EmailNotifier
	failing := &countingNotifier{err: errors.New("smtp down")}
	ok := &countingNotifier{}
	d := NewDispatcher(unconfigured, failing, ok)
	assert.True(t, d.Configured())

	err := d.Send(context.Background(), models.NotifyConfirmation, samplePayload(), nil)
	assert.ErrorContains(t, err, "smtp down")
	assert.Equal(t, 1, ok.calls, "a failing channel does not block the others")

	disabled := &models.EmailTemplate{Enabled: false}
	require.NoError(t, d.Send(context.Background(), models.NotifyConfirmation, samplePayload(), disabled))
	assert.Equal(t, 1, ok.calls, "a disabled template is a silent no-op")

	assert.False(t, NewDispatcher(unconfigured).Configured())
}
