// Package availability turns weekly rules, buffers, caps and busy time into
// bookable slots.
package availability

import (
	"fmt"
	"time"

	"bookslot/internal/models"
	"bookslot/internal/timeutil"
)

// Interval is a half-open [Start, End) range of instants.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open semantics: touching endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies completely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// ResolveWindows returns the UTC windows the rules open on date, resolved in
// the schedule timezone. Rules whose end is not after their start are skipped.
// Overlapping rules produce overlapping windows; no merging is done.
func ResolveWindows(date time.Time, rules []models.AvailabilityRule, tz string) ([]Interval, error) {
	loc, err := timeutil.LoadLocation(tz)
	if err != nil {
		return nil, err
	}

	weekday := int(date.Weekday())
	var windows []Interval
	for _, rule := range rules {
		if rule.DayOfWeek != weekday {
			continue
		}
		from, err := timeutil.ParseFlexibleTime(rule.StartTime)
		if err != nil {
			return nil, fmt.Errorf("rule %d start: %w", rule.ID, err)
		}
		to, err := timeutil.ParseFlexibleTime(rule.EndTime)
		if err != nil {
			return nil, fmt.Errorf("rule %d end: %w", rule.ID, err)
		}
		if to.Minutes() <= from.Minutes() {
			continue
		}
		windows = append(windows, Interval{
			Start: timeutil.ResolveIn(date, from, loc),
			End:   timeutil.ResolveIn(date, to, loc),
		})
	}
	return windows, nil
}

// Span returns the smallest interval covering all windows.
func Span(windows []Interval) (Interval, bool) {
	if len(windows) == 0 {
		return Interval{}, false
	}
	span := windows[0]
	for _, w := range windows[1:] {
		if w.Start.Before(span.Start) {
			span.Start = w.Start
		}
		if w.End.After(span.End) {
			span.End = w.End
		}
	}
	return span, true
}
