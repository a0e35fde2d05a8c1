package service

import (
	"time"

	"bookslot/internal/config"
	"bookslot/internal/models"
)

// Settings are the engine knobs taken from configuration.
type Settings struct {
	HostID            int64
	SlotStep          time.Duration
	UpstreamTimeout   time.Duration
	PublicURL         string
	BookingRateLimit  int
	BookingRateWindow time.Duration
	SlotLockTTL       time.Duration
	ReminderTimezone  string
	Currency          string
	SuccessURL        string
	CancelURL         string
}

func NewSettings(cfg *config.Config) Settings {
	return Settings{
		HostID:            cfg.Scheduler.HostID,
		SlotStep:          cfg.Scheduler.SlotStep(),
		UpstreamTimeout:   cfg.Scheduler.UpstreamTimeout(),
		PublicURL:         cfg.App.PublicURL,
		BookingRateLimit:  cfg.Scheduler.BookingRateLimit,
		BookingRateWindow: cfg.Scheduler.RateWindow(),
		SlotLockTTL:       cfg.Scheduler.LockTTL(),
		ReminderTimezone:  cfg.Scheduler.ReminderTimezone,
		Currency:          cfg.Payment.Currency,
		SuccessURL:        cfg.Payment.SuccessURL,
		CancelURL:         cfg.Payment.CancelURL,
	}
}

func (s Settings) withDefaults() Settings {
	if s.SlotStep <= 0 {
		s.SlotStep = models.SlotStepMinutes * time.Minute
	}
	if s.UpstreamTimeout <= 0 {
		s.UpstreamTimeout = models.DefaultUpstreamTimeoutSeconds * time.Second
	}
	if s.BookingRateWindow <= 0 {
		s.BookingRateWindow = time.Hour
	}
	if s.SlotLockTTL <= 0 {
		s.SlotLockTTL = 30 * time.Second
	}
	if s.ReminderTimezone == "" {
		s.ReminderTimezone = "UTC"
	}
	if s.Currency == "" {
		s.Currency = "usd"
	}
	return s
}
