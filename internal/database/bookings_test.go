package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateBookingWithLock_PersistsBookingAndAttendee(t *testing.T) {
	db := setupTestDB(t)
	host, et := seedEventType(t, db)
	ctx := context.Background()

	start := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	b := newBooking(host, et, "uid-1", start)
	a := &models.Attendee{Name: "Grace", Email: "grace@example.com", Timezone: "Europe/London"}

	var seen []models.Booking
	err := db.CreateBookingWithLock(ctx, b, a, func(existing []models.Booking) error {
		seen = existing
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, seen)
	assert.NotZero(t, b.ID)
	assert.Equal(t, b.ID, a.BookingID)

	details, err := db.GetBookingDetails(ctx, "uid-1")
	require.NoError(t, err)
	assert.Equal(t, start, details.Booking.StartTime)
	assert.Equal(t, start.Add(30*time.Minute), details.Booking.EndTime)
	assert.Equal(t, models.BookingAccepted, details.Booking.Status)
	require.NotNil(t, details.Attendee)
	assert.Equal(t, "grace@example.com", details.Attendee.Email)
	assert.Equal(t, et.ID, details.EventType.ID)
	assert.Equal(t, host.ID, details.Host.ID)
	assert.Empty(t, details.References)
	assert.Nil(t, details.Booking.PaymentID)
}

func TestCreateBookingWithLock_GuardSeesNeighboursAndCanRefuse(t *testing.T) {
	db := setupTestDB(t)
	host, et := seedEventType(t, db)
	ctx := context.Background()

	start := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(host, et, "first", start), nil, nil))

	refuse := errors.New("nope")
	var seen []models.Booking
	err := db.CreateBookingWithLock(ctx, newBooking(host, et, "second", start.Add(2*time.Hour)), nil, func(existing []models.Booking) error {
		seen = existing
		return refuse
	})
	assert.ErrorIs(t, err, refuse)
	require.Len(t, seen, 1)
	assert.Equal(t, "first", seen[0].UID)

	_, err = db.GetBookingByUID(ctx, "second")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateBookingWithLock_SameStartIsSlotTaken(t *testing.T) {
	db := setupTestDB(t)
	host, et := seedEventType(t, db)
	ctx := context.Background()

	start := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(host, et, "a", start), nil, nil))

	// without a guard the partial unique index still refuses the slot
	err := db.CreateBookingWithLock(ctx, newBooking(host, et, "b", start), nil, nil)
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	// once cancelled the start instant is free again
	first, err := db.GetBookingByUID(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, db.CancelBooking(ctx, first.ID, "changed plans"))
	assert.NoError(t, db.CreateBookingWithLock(ctx, newBooking(host, et, "c", start), nil, nil))
}

func TestCreateBookingWithLock_DuplicateSession(t *testing.T) {
	db := setupTestDB(t)
	host, et := seedEventType(t, db)
	ctx := context.Background()

	start := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	b := newBooking(host, et, "paid-1", start)
	b.CheckoutSessionID = "cs_test_1"
	require.NoError(t, db.CreateBookingWithLock(ctx, b, nil, nil))

	again := newBooking(host, et, "paid-2", start)
	again.CheckoutSessionID = "cs_test_1"
	err := db.CreateBookingWithLock(ctx, again, nil, nil)
	assert.ErrorIs(t, err, domain.ErrDuplicateSession)

	found, err := db.GetBookingBySession(ctx, "cs_test_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "paid-1", found.UID)

	missing, err := db.GetBookingBySession(ctx, "cs_other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRescheduleBookingWithLock(t *testing.T) {
	db := setupTestDB(t)
	host, et := seedEventType(t, db)
	ctx := context.Background()

	start := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	b := newBooking(host, et, "move-me", start)
	require.NoError(t, db.CreateBookingWithLock(ctx, b, nil, nil))
	require.NoError(t, db.CreateBookingWithLock(ctx, newBooking(host, et, "other", start.Add(3*time.Hour)), nil, nil))
	require.NoError(t, db.UpdateReminderStatus(ctx, b.ID, models.ReminderSent))

	newStart := start.Add(time.Hour)
	var seen []models.Booking
	moved, err := db.RescheduleBookingWithLock(ctx, b.ID, newStart, newStart.Add(30*time.Minute), "move-me", func(existing []models.Booking) error {
		seen = existing
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1, "the booking itself is excluded from the guard")
	assert.Equal(t, "other", seen[0].UID)
	assert.Equal(t, newStart, moved.StartTime)
	assert.Equal(t, int64(2), moved.Version)

	stored, err := db.GetBookingByUID(ctx, "move-me")
	require.NoError(t, err)
	assert.Equal(t, newStart, stored.StartTime)
	assert.Equal(t, "move-me", stored.RescheduledFromUID)
	assert.Equal(t, models.ReminderPending, stored.ReminderStatus)
	assert.Equal(t, b.ID, stored.ID)

	// onto another live booking's start
	_, err = db.RescheduleBookingWithLock(ctx, b.ID, start.Add(3*time.Hour), start.Add(3*time.Hour+30*time.Minute), "move-me", nil)
	assert.ErrorIs(t, err, domain.ErrSlotTaken)

	require.NoError(t, db.CancelBooking(ctx, b.ID, ""))
	_, err = db.RescheduleBookingWithLock(ctx, b.ID, start, start.Add(30*time.Minute), "move-me", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = db.RescheduleBookingWithLock(ctx, 9999, start, start.Add(30*time.Minute), "x", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCancelBooking(t *testing.T) {
	db := setupTestDB(t)
	host, et := seedEventType(t, db)
	ctx := context.Background()

	b := newBooking(host, et, "cancel-me", time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC))
	require.NoError(t, db.CreateBookingWithLock(ctx, b, nil, nil))

	require.NoError(t, db.CancelBooking(ctx, b.ID, "sick"))
	stored, err := db.GetBookingByUID(ctx, "cancel-me")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, stored.Status)
	assert.Equal(t, "sick", stored.CancellationReason)

	assert.ErrorIs(t, db.CancelBooking(ctx, b.ID, "again"), domain.ErrAlreadyCancelled)
	assert.ErrorIs(t, db.CancelBooking(ctx, 4242, ""), domain.ErrNotFound)

	stored, err = db.GetBookingByUID(ctx, "cancel-me")
	require.NoError(t, err)
	assert.Equal(t, "sick", stored.CancellationReason)
}

func TestListBookingQueries(t *testing.T) {
	db := setupTestDB(t)
	host, et := seedEventType(t, db)
	ctx := context.Background()

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	morning := newBooking(host, et, "morning", day.Add(9*time.Hour))
	noon := newBooking(host, et, "noon", day.Add(12*time.Hour))
	nextDay := newBooking(host, et, "next", day.Add(33*time.Hour))
	for _, b := range []*models.Booking{morning, noon, nextDay} {
		require.NoError(t, db.CreateBookingWithLock(ctx, b, nil, nil))
	}
	require.NoError(t, db.CancelBooking(ctx, noon.ID, ""))

	all, err := db.ListBookingsForEventType(ctx, et.ID, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 2, "cancelled bookings are still listed")

	hostDay, err := db.ListHostBookings(ctx, host.ID, day, day.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Len(t, hostDay, 3)

	candidates, err := db.ListReminderCandidates(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "morning", candidates[0].UID)

	require.NoError(t, db.UpdateReminderStatus(ctx, morning.ID, models.ReminderSent))
	candidates, err = db.ListReminderCandidates(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestBookingReferencesAndLocation(t *testing.T) {
	db := setupTestDB(t)
	host, et := seedEventType(t, db)
	ctx := context.Background()

	b := newBooking(host, et, "ref", time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC))
	require.NoError(t, db.CreateBookingWithLock(ctx, b, nil, nil))

	ref := &models.BookingReference{BookingID: b.ID, CredentialID: 7, Type: models.ReferenceGoogleCalendar, ExternalID: "evt1", CalendarID: "primary", MeetingURL: "https://meet.google.com/abc"}
	require.NoError(t, db.CreateBookingReference(ctx, ref))
	require.NoError(t, db.UpdateBookingLocation(ctx, b.ID, ref.MeetingURL))

	refs, err := db.ListBookingReferences(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "evt1", refs[0].ExternalID)

	stored, err := db.GetBookingByUID(ctx, "ref")
	require.NoError(t, err)
	assert.Equal(t, "https://meet.google.com/abc", stored.LocationValue)

	attendee, err := db.GetAttendee(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, attendee)
}
