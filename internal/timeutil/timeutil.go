// Package timeutil converts between wall-clock times in IANA zones and UTC
// instants, and parses the loose time strings guests and hosts type in.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bookslot/internal/domain"
)

// TimeFormat is the guest display style for slot labels.
type TimeFormat string

const (
	Format12h TimeFormat = "12h"
	Format24h TimeFormat = "24h"
)

const DateLayout = "2006-01-02"

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

var flexibleTime = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?\s*([AaPp][Mm])?$`)

// ParseFlexibleTime accepts "14:30", "14:30:00", "2:30 PM" and "2:30pm".
func ParseFlexibleTime(text string) (Clock, error) {
	m := flexibleTime.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Clock{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimeFormat, text)
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if minute > 59 {
		return Clock{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimeFormat, text)
	}

	if meridiem := strings.ToUpper(m[4]); meridiem != "" {
		if m[3] != "" || hour < 1 || hour > 12 {
			return Clock{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimeFormat, text)
		}
		hour %= 12
		if meridiem == "PM" {
			hour += 12
		}
	} else if hour > 23 {
		return Clock{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimeFormat, text)
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// LoadLocation wraps time.LoadLocation with an input error.
func LoadLocation(tz string) (*time.Location, error) {
	if strings.TrimSpace(tz) == "" {
		return nil, domain.InvalidInputf("timezone is required")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, domain.InvalidInputf("unknown timezone %q", tz)
	}
	return loc, nil
}

// ParseDate parses a YYYY-MM-DD calendar date. The result is midnight UTC and
// only its year, month and day are meaningful.
func ParseDate(text string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(text))
	if err != nil {
		return time.Time{}, domain.InvalidInputf("date %q must be YYYY-MM-DD", text)
	}
	return d, nil
}

// ResolveWallClock interprets date + clock as local time in tz and returns
// the UTC instant. Skipped local times move forward across the gap and
// repeated ones resolve to the first occurrence, as the zone database does.
func ResolveWallClock(date time.Time, clock Clock, tz string) (time.Time, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return ResolveIn(date, clock, loc), nil
}

// ResolveIn is ResolveWallClock for an already loaded location.
func ResolveIn(date time.Time, clock Clock, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, clock.Hour, clock.Minute, 0, 0, loc).UTC()
}

// FormatInstant renders t in tz using the given style.
func FormatInstant(t time.Time, tz string, style TimeFormat) (string, error) {
	loc, err := LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return FormatIn(t, loc, style), nil
}

// FormatIn is FormatInstant for an already loaded location.
func FormatIn(t time.Time, loc *time.Location, style TimeFormat) string {
	local := t.In(loc)
	if style == Format24h {
		return local.Format("15:04")
	}
	return local.Format("3:04 PM")
}

// ParseTimeFormat normalises the guest's format choice, defaulting to 12h.
func ParseTimeFormat(text string) (TimeFormat, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "", "12h", "12":
		return Format12h, nil
	case "24h", "24":
		return Format24h, nil
	}
	return "", domain.InvalidInputf("time format %q must be 12h or 24h", text)
}

// StartOfDay returns local midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// StartOfWeek returns local midnight of the Sunday that opens t's week.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	y, m, d := day.Date()
	return time.Date(y, m, d-int(day.Weekday()), 0, 0, 0, 0, loc)
}
