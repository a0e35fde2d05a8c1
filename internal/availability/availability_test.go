package availability

import (
	"errors"
	"testing"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/models"
	"bookslot/internal/timeutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func booking(start, end time.Time, status string) models.Booking {
	return models.Booking{EventTypeID: 1, StartTime: start, EndTime: end, Status: status}
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := timeutil.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestIntervalOverlapsIsHalfOpen(t *testing.T) {
	a := Interval{Start: utc(2024, 1, 1, 9, 0), End: utc(2024, 1, 1, 10, 0)}
	touching := Interval{Start: utc(2024, 1, 1, 10, 0), End: utc(2024, 1, 1, 11, 0)}
	inside := Interval{Start: utc(2024, 1, 1, 9, 59), End: utc(2024, 1, 1, 11, 0)}

	assert.False(t, a.Overlaps(touching))
	assert.False(t, touching.Overlaps(a))
	assert.True(t, a.Overlaps(inside))
	assert.True(t, a.Contains(Interval{Start: a.Start, End: a.End}))
}

func TestResolveWindows(t *testing.T) {
	rules := []models.AvailabilityRule{
		{ID: 1, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00"},
		{ID: 2, DayOfWeek: 1, StartTime: "1:00 PM", EndTime: "5:00 PM"},
		{ID: 3, DayOfWeek: 1, StartTime: "18:00", EndTime: "18:00"},
		{ID: 4, DayOfWeek: 2, StartTime: "09:00", EndTime: "17:00"},
	}

	windows, err := ResolveWindows(mustDate(t, "2024-03-04"), rules, "America/New_York")
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, utc(2024, 3, 4, 14, 0), windows[0].Start)
	assert.Equal(t, utc(2024, 3, 4, 17, 0), windows[0].End)
	assert.Equal(t, utc(2024, 3, 4, 18, 0), windows[1].Start)
	assert.Equal(t, utc(2024, 3, 4, 22, 0), windows[1].End)

	none, err := ResolveWindows(mustDate(t, "2024-03-03"), rules, "America/New_York")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = ResolveWindows(mustDate(t, "2024-03-04"), []models.AvailabilityRule{{DayOfWeek: 1, StartTime: "nine", EndTime: "17:00"}}, "UTC")
	assert.ErrorIs(t, err, domain.ErrInvalidTimeFormat)

	_, err = ResolveWindows(mustDate(t, "2024-03-04"), rules, "Nowhere/City")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBusySetExcludesCancelled(t *testing.T) {
	set := NewBusySet([]models.Booking{
		booking(utc(2024, 3, 4, 10, 0), utc(2024, 3, 4, 10, 30), models.BookingCancelled),
		booking(utc(2024, 3, 4, 11, 0), utc(2024, 3, 4, 11, 30), models.BookingAccepted),
	}, []models.TimeRange{{Start: utc(2024, 3, 4, 12, 0), End: utc(2024, 3, 4, 13, 0)}})

	assert.Equal(t, 2, set.Len())
	assert.False(t, set.Conflicts(Interval{Start: utc(2024, 3, 4, 10, 0), End: utc(2024, 3, 4, 10, 30)}, 0, 0))
	assert.True(t, set.Conflicts(Interval{Start: utc(2024, 3, 4, 11, 15), End: utc(2024, 3, 4, 11, 45)}, 0, 0))
	assert.True(t, set.Conflicts(Interval{Start: utc(2024, 3, 4, 12, 30), End: utc(2024, 3, 4, 13, 0)}, 0, 0))
	assert.False(t, set.Conflicts(Interval{Start: utc(2024, 3, 4, 13, 0), End: utc(2024, 3, 4, 13, 30)}, 0, 0))
	// buffer-before on the candidate reaches back into the external block
	assert.True(t, set.Conflicts(Interval{Start: utc(2024, 3, 4, 13, 0), End: utc(2024, 3, 4, 13, 30)}, time.Minute, 0))
}

func dayRequest(busy BusySet) SlotRequest {
	return SlotRequest{
		Windows:  []Interval{{Start: utc(2024, 3, 4, 9, 0), End: utc(2024, 3, 4, 17, 0)}},
		Duration: 30 * time.Minute,
		Busy:     busy,
		Now:      utc(2024, 3, 1, 0, 0),
		Location: time.UTC,
		Format:   timeutil.Format24h,
	}
}

func TestGenerateSlots_ExcludesConflicts(t *testing.T) {
	busy := NewBusySet([]models.Booking{booking(utc(2024, 3, 4, 10, 0), utc(2024, 3, 4, 10, 30), models.BookingAccepted)}, nil)

	slots, err := GenerateSlots(dayRequest(busy))
	require.NoError(t, err)

	assert.Contains(t, slots, "09:30")
	assert.NotContains(t, slots, "09:45")
	assert.NotContains(t, slots, "10:00")
	assert.NotContains(t, slots, "10:15")
	assert.Contains(t, slots, "10:30")
	assert.Equal(t, "09:00", slots[0])
	assert.Equal(t, "16:30", slots[len(slots)-1])
	assert.Len(t, slots, 31-3)
}

func TestGenerateSlots_Buffers(t *testing.T) {
	busy := NewBusySet([]models.Booking{booking(utc(2024, 3, 4, 10, 0), utc(2024, 3, 4, 10, 30), models.BookingAccepted)}, nil)

	req := dayRequest(busy)
	req.BufferBefore = 15 * time.Minute
	slots, err := GenerateSlots(req)
	require.NoError(t, err)
	assert.NotContains(t, slots, "10:30")
	assert.Contains(t, slots, "10:45")
	assert.Contains(t, slots, "09:30")

	req = dayRequest(busy)
	req.BufferAfter = 15 * time.Minute
	slots, err = GenerateSlots(req)
	require.NoError(t, err)
	assert.NotContains(t, slots, "09:30")
	assert.Contains(t, slots, "09:15")
	assert.Contains(t, slots, "10:30")
}

func TestGenerateSlots_CancelledSlotIsReusable(t *testing.T) {
	busy := NewBusySet([]models.Booking{booking(utc(2024, 3, 4, 10, 0), utc(2024, 3, 4, 10, 30), models.BookingCancelled)}, nil)
	slots, err := GenerateSlots(dayRequest(busy))
	require.NoError(t, err)
	assert.Contains(t, slots, "10:00")
	assert.Len(t, slots, 31)
}

func TestGenerateSlots_MinimumNotice(t *testing.T) {
	req := SlotRequest{
		Windows:       []Interval{{Start: utc(2024, 1, 1, 9, 30), End: utc(2024, 1, 1, 17, 0)}},
		Duration:      30 * time.Minute,
		MinimumNotice: 120 * time.Minute,
		Now:           utc(2024, 1, 1, 9, 0),
		Location:      time.UTC,
		Format:        timeutil.Format24h,
	}
	slots, err := GenerateSlotTimes(req)
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	for _, s := range slots {
		assert.True(t, s.Start.After(utc(2024, 1, 1, 11, 0)), s.Label)
	}
	assert.Equal(t, "11:15", slots[0].Label)

	req.MinimumNotice = 24 * time.Hour
	empty, err := GenerateSlots(req)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGenerateSlots_WindowEdges(t *testing.T) {
	req := SlotRequest{
		Windows:  []Interval{{Start: utc(2024, 3, 4, 9, 0), End: utc(2024, 3, 4, 10, 0)}},
		Duration: 30 * time.Minute,
		Now:      utc(2024, 3, 1, 0, 0),
		Location: time.UTC,
		Format:   timeutil.Format24h,
	}
	slots, err := GenerateSlots(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:15", "09:30"}, slots)

	req.Duration = 90 * time.Minute
	slots, err = GenerateSlots(req)
	require.NoError(t, err)
	assert.Empty(t, slots)

	req.Duration = 30 * time.Minute
	req.Windows = nil
	slots, err = GenerateSlots(req)
	require.NoError(t, err)
	assert.Empty(t, slots)

	req.Duration = 0
	_, err = GenerateSlots(req)
	assert.Error(t, err)
}

func TestGenerateSlots_DedupByLabelKeepsEarliest(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 05:00Z and 06:00Z are both 1:00 AM in New York on the fall-back night.
	req := SlotRequest{
		Windows: []Interval{
			{Start: utc(2024, 11, 3, 6, 0), End: utc(2024, 11, 3, 7, 0)},
			{Start: utc(2024, 11, 3, 5, 0), End: utc(2024, 11, 3, 6, 0)},
		},
		Duration: 30 * time.Minute,
		Now:      utc(2024, 11, 1, 0, 0),
		Location: ny,
		Format:   timeutil.Format12h,
	}
	slots, err := GenerateSlotTimes(req)
	require.NoError(t, err)

	require.Len(t, slots, 3)
	assert.Equal(t, "1:00 AM", slots[0].Label)
	assert.Equal(t, utc(2024, 11, 3, 5, 0), slots[0].Start)
	assert.Equal(t, "1:15 AM", slots[1].Label)
	assert.Equal(t, "1:30 AM", slots[2].Label)
	assert.Equal(t, utc(2024, 11, 3, 5, 30), slots[2].Start)
}

func TestGenerateSlots_HostAndGuestZones(t *testing.T) {
	rules := []models.AvailabilityRule{{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"}}
	windows, err := ResolveWindows(mustDate(t, "2024-03-04"), rules, "America/New_York")
	require.NoError(t, err)

	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	slots, err := GenerateSlots(SlotRequest{
		Windows:       windows,
		Duration:      30 * time.Minute,
		MinimumNotice: 30 * time.Minute,
		Now:           utc(2024, 3, 4, 14, 20),
		Location:      london,
		Format:        timeutil.Format12h,
	})
	require.NoError(t, err)

	require.Len(t, slots, 27)
	assert.Equal(t, "3:00 PM", slots[0])
	assert.Equal(t, "9:30 PM", slots[len(slots)-1])
	assert.NotContains(t, slots, "2:00 PM")
	assert.NotContains(t, slots, "9:00 AM")
}

func TestCheckBookingLimits(t *testing.T) {
	ny, _ := time.LoadLocation("America/New_York")
	two, three := 2, 3
	et := &models.EventType{ID: 1, DailyLimit: &two}

	target := time.Date(2024, 3, 6, 15, 0, 0, 0, ny) // Wednesday
	existing := []models.Booking{
		booking(time.Date(2024, 3, 6, 9, 0, 0, 0, ny), time.Date(2024, 3, 6, 9, 30, 0, 0, ny), models.BookingAccepted),
		booking(time.Date(2024, 3, 6, 23, 30, 0, 0, ny), time.Date(2024, 3, 7, 0, 0, 0, 0, ny), models.BookingCancelled),
		booking(time.Date(2024, 3, 5, 23, 30, 0, 0, ny), time.Date(2024, 3, 6, 0, 0, 0, 0, ny), models.BookingAccepted),
	}
	assert.NoError(t, CheckBookingLimits(et, existing, target, ny))

	existing = append(existing, booking(time.Date(2024, 3, 6, 10, 0, 0, 0, ny), time.Date(2024, 3, 6, 10, 30, 0, 0, ny), models.BookingAccepted))
	err := CheckBookingLimits(et, existing, target, ny)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBookingLimitExceeded)
	var limitErr *domain.BookingLimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, domain.LimitDaily, limitErr.Kind)

	weekly := &models.EventType{ID: 1, WeeklyLimit: &three}
	err = CheckBookingLimits(weekly, existing, target, ny)
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, domain.LimitWeekly, limitErr.Kind)

	// the following Sunday opens a new week
	nextSunday := time.Date(2024, 3, 10, 12, 0, 0, 0, ny)
	assert.NoError(t, CheckBookingLimits(weekly, existing, nextSunday, ny))

	assert.NoError(t, CheckBookingLimits(&models.EventType{ID: 1}, existing, target, ny))
}
