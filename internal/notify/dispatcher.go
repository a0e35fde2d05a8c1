package notify

import (
	"context"
	"errors"

	"bookslot/internal/domain"
	"bookslot/internal/models"
)

// Dispatcher fans a notification out to every configured channel.
type Dispatcher struct {
	channels []domain.Notifier
}

// NewDispatcher skips nil channels, so unconfigured senders can be passed as is.
func NewDispatcher(channels ...domain.Notifier) *Dispatcher {
	d := &Dispatcher{}
	for _, c := range channels {
		if c == nil || isNilNotifier(c) {
			continue
		}
		d.channels = append(d.channels, c)
	}
	return d
}

func isNilNotifier(n domain.Notifier) bool {
	switch v := n.(type) {
	case *EmailNotifier:
		return v == nil
	case *TelegramNotifier:
		return v == nil
	}
	return false
}

// Send is a no-op when the host disabled the template for this kind.
// Every channel is attempted; their errors are joined.
func (d *Dispatcher) Send(ctx context.Context, kind string, payload domain.NotificationPayload, tmpl *models.EmailTemplate) error {
	if tmpl != nil && !tmpl.Enabled {
		return nil
	}
	var errs []error
	for _, c := range d.channels {
		if err := c.Send(ctx, kind, payload, tmpl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Configured reports whether any channel is available.
func (d *Dispatcher) Configured() bool {
	return len(d.channels) > 0
}
