package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"bookslot/internal/config"
	"bookslot/internal/database"
	"bookslot/internal/events"
	"bookslot/internal/export"
	"bookslot/internal/models"
	"bookslot/internal/repository"
	"bookslot/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	hostKey   = "dash-key"
	hostExtra = "dash-extra"
	readKey   = "read-key"
	readExtra = "read-extra"
)

type harness struct {
	t      *testing.T
	db     *database.DB
	host   *models.Host
	et     *models.EventType
	server *HTTPServer
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: hostKey, Extra: hostExtra, Name: "dashboard"},
				{Key: readKey, Extra: readExtra, Name: "reports", Permissions: []string{permHostRead}},
			},
		},
	}
}

func newHarness(t *testing.T, mutate ...func(*config.APIConfig, *Services)) *harness {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.New(io.Discard)

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	host := &models.Host{Name: "Ada", Email: "ada@example.com", Timezone: "UTC"}
	require.NoError(t, db.CreateHost(ctx, host))

	var rules []models.AvailabilityRule
	for day := 1; day <= 5; day++ {
		rules = append(rules, models.AvailabilityRule{DayOfWeek: day, StartTime: "09:00", EndTime: "17:00"})
	}
	require.NoError(t, db.SaveDefaultSchedule(ctx, &models.Schedule{HostID: host.ID, Name: "Working hours", Timezone: "UTC", Rules: rules}))

	et := &models.EventType{HostID: host.ID, Title: "Intro call", Slug: "intro", DurationMinutes: 30, LocationKind: models.LocationLink, LocationValue: "https://zoom.example.com/ada"}
	require.NoError(t, db.CreateEventType(ctx, et))

	settings := service.Settings{HostID: host.ID, BookingRateLimit: 100, PublicURL: "https://book.example.com"}
	slots := service.NewSlotService(db, nil, settings, &logger)
	bookings := service.NewBookingService(service.BookingDeps{
		Repo:     db,
		Guard:    repository.NewMemoryGuardStore(),
		EventBus: events.NewEventBus(&logger),
	}, slots, settings, &logger)

	svc := Services{
		Slots:     slots,
		Bookings:  bookings,
		Hosts:     service.NewHostService(db, export.NewExporter(t.TempDir(), &logger), settings, &logger),
		Reminders: service.NewReminderService(db, nil, settings, &logger),
		Ready: map[string]ReadinessCheck{
			"database": func(ctx context.Context) error { return db.PingContext(ctx) },
		},
	}
	cfg := testAPIConfig()
	for _, m := range mutate {
		m(&cfg, &svc)
	}

	return &harness{t: t, db: db, host: host, et: et, server: NewHTTPServer(cfg, svc, &logger)}
}

func (h *harness) do(method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) asHost(method, target string, body any) *httptest.ResponseRecorder {
	return h.do(method, target, body, apiKeyHeaderDefault, hostKey, apiExtraHeaderDefault, hostExtra)
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}

// nextMonday is a working day far enough ahead to be bookable.
func nextMonday() string {
	d := time.Now().UTC().AddDate(0, 0, 7)
	for d.Weekday() != time.Monday {
		d = d.AddDate(0, 0, 1)
	}
	return d.Format("2006-01-02")
}

