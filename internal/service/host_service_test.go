package service

import (
	"bytes"
	"context"
	"testing"

	"bookslot/internal/domain"
	"bookslot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestHostService_EventTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	et := &models.EventType{HostID: 42, Title: "Deep dive", Slug: " Deep-Dive ", DurationMinutes: 60, IsPaid: true, PriceCents: 9900}
	require.NoError(t, f.hosts.CreateEventType(ctx, et))
	assert.Equal(t, f.host.ID, et.HostID)
	assert.Equal(t, "deep-dive", et.Slug)
	assert.Equal(t, "usd", et.Currency)

	list, err := f.hosts.ListEventTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	bad := &models.EventType{Title: "Nope", Slug: "nope", DurationMinutes: 0}
	assert.ErrorIs(t, f.hosts.CreateEventType(ctx, bad), domain.ErrInvalidInput)

	host, err := f.hosts.Host(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ada", host.Name)
}

func TestHostService_SaveDefaultSchedule(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := &models.Schedule{Timezone: "Europe/Berlin", Rules: []models.AvailabilityRule{
		{DayOfWeek: 1, StartTime: "9:00 AM", EndTime: "5:30 PM"},
	}}
	require.NoError(t, f.hosts.SaveDefaultSchedule(ctx, s))

	got, err := f.hosts.DefaultSchedule(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", got.Timezone)
	assert.Equal(t, "Working hours", got.Name)
	require.Len(t, got.Rules, 1)
	assert.Equal(t, "09:00", got.Rules[0].StartTime)
	assert.Equal(t, "17:30", got.Rules[0].EndTime)

	tests := []struct {
		name string
		s    models.Schedule
	}{
		{name: "bad day", s: models.Schedule{Timezone: "UTC", Rules: []models.AvailabilityRule{{DayOfWeek: 7, StartTime: "09:00", EndTime: "10:00"}}}},
		{name: "end before start", s: models.Schedule{Timezone: "UTC", Rules: []models.AvailabilityRule{{DayOfWeek: 1, StartTime: "10:00", EndTime: "09:00"}}}},
		{name: "bad time", s: models.Schedule{Timezone: "UTC", Rules: []models.AvailabilityRule{{DayOfWeek: 1, StartTime: "nine", EndTime: "10:00"}}}},
		{name: "bad timezone", s: models.Schedule{Timezone: "Nowhere/Land"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.s
			assert.Error(t, f.hosts.SaveDefaultSchedule(ctx, &s))
		})
	}
}

func TestHostService_DefaultScheduleMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &models.Host{Name: "Bob", Email: "bob@example.com", Timezone: "UTC"}
	require.NoError(t, f.db.CreateHost(ctx, other))

	settings := f.settings
	settings.HostID = other.ID
	hosts := NewHostService(f.db, nil, settings, nil)
	_, err := hosts.DefaultSchedule(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHostService_UpsertEmailTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.hosts.UpsertEmailTemplate(ctx, &models.EmailTemplate{Kind: models.NotifyConfirmation, Subject: "Booked!", Enabled: true}))
	got, err := f.db.GetEmailTemplate(ctx, f.host.ID, models.NotifyConfirmation)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Booked!", got.Subject)

	err = f.hosts.UpsertEmailTemplate(ctx, &models.EmailTemplate{Kind: "birthday"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestHostService_ExportBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	monday10 := f.book(f.et, monday, "10:00 AM")
	f.book(f.et, "2024-03-06", "10:00 AM")

	var buf bytes.Buffer
	name, err := f.hosts.ExportBookings(ctx, monday, monday, &buf)
	require.NoError(t, err)
	assert.Equal(t, "bookings_2024-03-04_to_2024-03-04.xlsx", name)

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()

	uid, err := book.GetCellValue("Bookings", "A3")
	require.NoError(t, err)
	assert.Equal(t, monday10.UID, uid)
	next, err := book.GetCellValue("Bookings", "A4")
	require.NoError(t, err)
	assert.Empty(t, next, "the range is one day")

	_, err = f.hosts.ExportBookings(ctx, "2024-03-05", monday, &buf)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	path, err := f.hosts.ArchiveBookings(ctx, monday, "2024-03-08")
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestHostService_Agenda(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.book(f.et, monday, "10:00 AM")

	rows, loc, err := f.hosts.Agenda(ctx, utc(4, 12, 0), 1)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
	require.Len(t, rows, 1)
	assert.Equal(t, created.UID, rows[0].Booking.UID)
	require.NotNil(t, rows[0].Attendee)
	assert.Equal(t, "Grace", rows[0].Attendee.Name)

	rows, _, err = f.hosts.Agenda(ctx, testNow, 2)
	require.NoError(t, err)
	assert.Empty(t, rows, "friday and saturday are free")

	rows, _, err = f.hosts.Agenda(ctx, testNow, 7)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
