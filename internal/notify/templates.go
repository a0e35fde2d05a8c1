package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/models"
	"bookslot/internal/timeutil"
)

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// TemplateData is what subject, greeting, body and footer templates see.
type TemplateData struct {
	domain.NotificationPayload
	StartTime         string
	EndTime           string
	PreviousStartTime string
	RefundAmount      string
}

type defaultTemplate struct {
	subject, greeting, body, footer string
}

var defaults = map[string]defaultTemplate{
	models.NotifyConfirmation: {
		subject:  "Confirmed: {{.EventTitle}} on {{.StartTime}}",
		greeting: "Hi {{.GuestName}},",
		body:     "Your booking for {{.EventTitle}} with {{.HostName}} is confirmed for {{.StartTime}}.{{if .MeetingURL}}\nJoin: {{.MeetingURL}}{{else if .Location}}\nLocation: {{.Location}}{{end}}",
		footer:   "Need to change plans? {{.ManageURL}}",
	},
	models.NotifyReminder: {
		subject:  "Reminder: {{.EventTitle}} today at {{.StartTime}}",
		greeting: "Hi {{.GuestName}},",
		body:     "This is a reminder of {{.EventTitle}} with {{.HostName}} at {{.StartTime}}.{{if .MeetingURL}}\nJoin: {{.MeetingURL}}{{end}}",
		footer:   "Need to change plans? {{.ManageURL}}",
	},
	models.NotifyCancellation: {
		subject:  "Cancelled: {{.EventTitle}} on {{.StartTime}}",
		greeting: "Hi {{.GuestName}},",
		body:     "Your booking for {{.EventTitle}} on {{.StartTime}} has been cancelled.{{if .Reason}}\nReason: {{.Reason}}{{end}}{{if .RefundAmount}}\nA refund of {{.RefundAmount}} has been issued.{{end}}",
		footer:   "",
	},
	models.NotifyRescheduled: {
		subject:  "Rescheduled: {{.EventTitle}} moved to {{.StartTime}}",
		greeting: "Hi {{.GuestName}},",
		body:     "Your booking for {{.EventTitle}} has moved from {{.PreviousStartTime}} to {{.StartTime}}.",
		footer:   "Need to change plans? {{.ManageURL}}",
	},
	models.NotifyHostNotification: {
		subject:  "New booking: {{.EventTitle}} with {{.GuestName}}",
		greeting: "Hi {{.HostName}},",
		body:     "{{.GuestName}} ({{.GuestEmail}}) booked {{.EventTitle}} for {{.StartTime}}.{{if .Notes}}\nNotes: {{.Notes}}{{end}}",
		footer:   "",
	},
}

// Render builds the message for kind. A nil tmpl, or an empty template
// field, falls back to the built-in text for that kind.
func Render(kind string, payload domain.NotificationPayload, tmpl *models.EmailTemplate) (Message, error) {
	def, ok := defaults[kind]
	if !ok {
		return Message{}, fmt.Errorf("unknown notification kind %q", kind)
	}
	if tmpl != nil {
		def.subject = pick(tmpl.Subject, def.subject)
		def.greeting = pick(tmpl.Greeting, def.greeting)
		def.body = pick(tmpl.Body, def.body)
		def.footer = pick(tmpl.Footer, def.footer)
	}

	data := newTemplateData(payload)

	subject, err := execute(kind+"_subject", def.subject, data)
	if err != nil {
		return Message{}, err
	}

	var parts []string
	for i, src := range []string{def.greeting, def.body, def.footer} {
		text, err := execute(fmt.Sprintf("%s_%d", kind, i), src, data)
		if err != nil {
			return Message{}, err
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return Message{Subject: strings.TrimSpace(subject), Body: strings.Join(parts, "\n\n")}, nil
}

func newTemplateData(p domain.NotificationPayload) TemplateData {
	tz := p.GuestTimezone
	if tz == "" {
		tz = "UTC"
	}
	data := TemplateData{
		NotificationPayload: p,
		StartTime:           formatWhen(p.Start, tz),
		EndTime:             formatWhen(p.End, tz),
		PreviousStartTime:   formatWhen(p.PreviousStart, tz),
	}
	if p.RefundCents > 0 {
		data.RefundAmount = fmt.Sprintf("%.2f %s", float64(p.RefundCents)/100, strings.ToUpper(p.Currency))
	}
	return data
}

func formatWhen(t time.Time, tz string) string {
	if t.IsZero() {
		return ""
	}
	loc, err := timeutil.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
		tz = "UTC"
	}
	local := t.In(loc)
	return fmt.Sprintf("%s %s (%s)", local.Format("Monday, January 2, 2006"), timeutil.FormatIn(t, loc, timeutil.Format12h), tz)
}

func execute(name, src string, data TemplateData) (string, error) {
	t, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

func pick(custom, fallback string) string {
	if strings.TrimSpace(custom) != "" {
		return custom
	}
	return fallback
}
