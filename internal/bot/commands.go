package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/export"
	"bookslot/internal/metrics"
	"bookslot/internal/timeutil"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const helpText = `Commands:
/today - bookings starting today
/week - bookings for the next 7 days
/booking <uid> - booking details
/cancel <uid> [reason] - cancel a booking
/reminders - send today's reminders now
/export [from] [to] - xlsx of bookings, dates as YYYY-MM-DD`

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		b.reply(msg.Chat.ID, helpText)
		return
	}

	command := msg.Command()
	args := strings.Fields(msg.CommandArguments())
	metrics.IncBotCommand(command)
	zerolog.Ctx(ctx).Debug().Str("command", command).Strs("args", args).Msg("handling command")

	switch command {
	case "start", "help":
		b.reply(msg.Chat.ID, helpText)
	case "today":
		b.sendAgenda(ctx, msg.Chat.ID, 1)
	case "week":
		b.sendAgenda(ctx, msg.Chat.ID, 7)
	case "booking":
		b.showBooking(ctx, msg.Chat.ID, args)
	case "cancel":
		b.cancelBooking(ctx, msg.Chat.ID, args)
	case "reminders":
		b.runReminders(ctx, msg.Chat.ID)
	case "export":
		b.sendExport(ctx, msg.Chat.ID, args)
	default:
		b.reply(msg.Chat.ID, "Unknown command.\n\n"+helpText)
	}
}

func (b *Bot) sendAgenda(ctx context.Context, chatID int64, days int) {
	rows, loc, err := b.hosts.Agenda(ctx, b.now(), days)
	if err != nil {
		b.fail(ctx, chatID, "load agenda", err)
		return
	}
	b.reply(chatID, formatAgenda(rows, loc, days))
}

func (b *Bot) showBooking(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		b.reply(chatID, "Usage: /booking <uid>")
		return
	}
	summary, err := b.bookings.Summary(ctx, args[0])
	if err != nil {
		b.fail(ctx, chatID, "load booking", err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", summary.Title)
	fmt.Fprintf(&sb, "%s - %s UTC\n", summary.StartTime.UTC().Format("Mon 02 Jan 15:04"), summary.EndTime.UTC().Format("15:04"))
	fmt.Fprintf(&sb, "Status: %s\n", summary.Status)
	if summary.GuestName != "" {
		fmt.Fprintf(&sb, "Guest: %s (%s)\n", summary.GuestName, summary.GuestTimezone)
	}
	if summary.Location != "" {
		fmt.Fprintf(&sb, "Location: %s\n", summary.Location)
	}
	if summary.CancellationReason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", summary.CancellationReason)
	}
	b.reply(chatID, strings.TrimSpace(sb.String()))
}

func (b *Bot) cancelBooking(ctx context.Context, chatID int64, args []string) {
	if len(args) == 0 {
		b.reply(chatID, "Usage: /cancel <uid> [reason]")
		return
	}
	reason := strings.Join(args[1:], " ")
	if reason == "" {
		reason = "Cancelled by host"
	}

	res, err := b.bookings.Cancel(ctx, args[0], reason)
	if err != nil {
		b.fail(ctx, chatID, "cancel booking", err)
		return
	}

	text := fmt.Sprintf("Booking %s cancelled.", args[0])
	if res.RefundProcessed {
		text += fmt.Sprintf(" Refund %s issued.", res.RefundID)
	}
	b.reply(chatID, text)
}

func (b *Bot) runReminders(ctx context.Context, chatID int64) {
	if b.reminders == nil {
		b.reply(chatID, "Reminders are not configured.")
		return
	}
	report, err := b.reminders.SendTodayReminders(ctx)
	if err != nil {
		b.fail(ctx, chatID, "send reminders", err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Reminders: %d sent, %d skipped, %d failed of %d.",
		report.Sent, report.Skipped, report.Failed, report.Candidates))
}

func (b *Bot) sendExport(ctx context.Context, chatID int64, args []string) {
	from := b.now().Format(timeutil.DateLayout)
	to := b.now().AddDate(0, 0, 6).Format(timeutil.DateLayout)
	if len(args) > 0 {
		from = args[0]
		to = from
	}
	if len(args) > 1 {
		to = args[1]
	}

	var buf bytes.Buffer
	name, err := b.hosts.ExportBookings(ctx, from, to, &buf)
	if err != nil {
		b.fail(ctx, chatID, "export bookings", err)
		return
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: buf.Bytes()})
	doc.Caption = fmt.Sprintf("Bookings %s to %s", from, to)
	if _, err := b.api.Send(doc); err != nil {
		b.logger.Error().Err(err).Msg("send export")
	}
}

// fail tells the host what went wrong in plain words.
func (b *Bot) fail(ctx context.Context, chatID int64, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		b.reply(chatID, "Booking not found.")
	case errors.Is(err, domain.ErrAlreadyCancelled):
		b.reply(chatID, "That booking is already cancelled.")
	case errors.Is(err, domain.ErrInvalidInput):
		b.reply(chatID, "Invalid input: "+err.Error())
	default:
		zerolog.Ctx(ctx).Error().Err(err).Str("op", op).Msg("bot command failed")
		b.reply(chatID, "Failed to "+op+", please try again later.")
	}
}

func formatAgenda(rows []export.Row, loc *time.Location, days int) string {
	title := "Today"
	if days > 1 {
		title = fmt.Sprintf("Next %d days", days)
	}
	if len(rows) == 0 {
		return title + ": no bookings."
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s):\n", title, loc)
	lastDay := ""
	for _, r := range rows {
		start := r.Booking.StartTime.In(loc)
		if days > 1 {
			if day := start.Format("Mon 02 Jan"); day != lastDay {
				fmt.Fprintf(&sb, "\n%s\n", day)
				lastDay = day
			}
		}
		guest := "unknown guest"
		if r.Attendee != nil {
			guest = r.Attendee.Name
		}
		line := fmt.Sprintf("%s %s with %s", start.Format("15:04"), r.Booking.Title, guest)
		if !r.Booking.IsActive() {
			line += " [" + strings.ToLower(r.Booking.Status) + "]"
		}
		fmt.Fprintf(&sb, "%s\n  %s\n", line, r.Booking.UID)
	}
	return strings.TrimSpace(sb.String())
}
