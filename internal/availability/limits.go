package availability

import (
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/models"
	"bookslot/internal/timeutil"
)

// CheckBookingLimits refuses a booking at target when the event type's daily
// cap (local calendar day in loc) or weekly cap (Sunday to Saturday) is
// already reached. Nil caps are unlimited; inactive bookings do not count.
func CheckBookingLimits(et *models.EventType, bookings []models.Booking, target time.Time, loc *time.Location) error {
	if et.DailyLimit == nil && et.WeeklyLimit == nil {
		return nil
	}

	dayStart := timeutil.StartOfDay(target, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	weekStart := timeutil.StartOfWeek(target, loc)
	weekEnd := weekStart.AddDate(0, 0, 7)

	var daily, weekly int
	for i := range bookings {
		b := &bookings[i]
		if !b.IsActive() || b.EventTypeID != et.ID {
			continue
		}
		if inRange(b.StartTime, dayStart, dayEnd) {
			daily++
		}
		if inRange(b.StartTime, weekStart, weekEnd) {
			weekly++
		}
	}

	if et.DailyLimit != nil && daily >= *et.DailyLimit {
		return &domain.BookingLimitError{Kind: domain.LimitDaily, Limit: *et.DailyLimit, Count: daily}
	}
	if et.WeeklyLimit != nil && weekly >= *et.WeeklyLimit {
		return &domain.BookingLimitError{Kind: domain.LimitWeekly, Limit: *et.WeeklyLimit, Count: weekly}
	}
	return nil
}

// LimitRange is the span of bookings CheckBookingLimits needs for target.
func LimitRange(target time.Time, loc *time.Location) Interval {
	weekStart := timeutil.StartOfWeek(target, loc)
	return Interval{Start: weekStart.UTC(), End: weekStart.AddDate(0, 0, 7).UTC()}
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
