package notify

import (
	"context"
	"fmt"

	"bookslot/internal/config"
	"bookslot/internal/domain"
	"bookslot/internal/models"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

type sendFunc func(ctx context.Context, msg *mail.Msg) error

// EmailNotifier delivers notifications over SMTP. host_notification goes to
// the host, every other kind to the guest.
type EmailNotifier struct {
	from   string
	send   sendFunc
	logger *zerolog.Logger
}

// NewEmailNotifier returns nil when SMTP is not configured.
func NewEmailNotifier(cfg config.EmailConfig, logger *zerolog.Logger) (*EmailNotifier, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	opts := []mail.Option{mail.WithPort(cfg.Port), mail.WithTLSPolicy(mail.TLSOpportunistic)}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}

	return newEmailNotifier(cfg.From, func(ctx context.Context, msg *mail.Msg) error {
		return client.DialAndSendWithContext(ctx, msg)
	}, logger), nil
}

func newEmailNotifier(from string, send sendFunc, logger *zerolog.Logger) *EmailNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EmailNotifier{from: from, send: send, logger: logger}
}

func (n *EmailNotifier) Send(ctx context.Context, kind string, payload domain.NotificationPayload, tmpl *models.EmailTemplate) error {
	if n == nil {
		return nil
	}

	to := payload.GuestEmail
	if kind == models.NotifyHostNotification {
		to = payload.HostEmail
	}
	if to == "" {
		n.logger.Debug().Str("kind", kind).Str("booking_uid", payload.BookingUID).Msg("no recipient, email skipped")
		return nil
	}

	rendered, err := Render(kind, payload, tmpl)
	if err != nil {
		return err
	}

	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		return fmt.Errorf("email from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("email to: %w", err)
	}
	msg.Subject(rendered.Subject)
	msg.SetBodyString(mail.TypeTextPlain, rendered.Body)

	if err := n.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: send %s email: %v", domain.ErrUpstreamUnavailable, kind, err)
	}
	return nil
}
