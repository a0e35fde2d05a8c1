package availability

import (
	"time"

	"bookslot/internal/models"
)

// BusySet holds intervals during which the host cannot be booked.
type BusySet struct {
	intervals []Interval
}

// NewBusySet merges existing bookings and external busy blocks. Bookings that
// no longer occupy time (cancelled, rejected) are left out.
func NewBusySet(bookings []models.Booking, external []models.TimeRange) BusySet {
	set := BusySet{intervals: make([]Interval, 0, len(bookings)+len(external))}
	for i := range bookings {
		if !bookings[i].IsActive() {
			continue
		}
		set.intervals = append(set.intervals, Interval{Start: bookings[i].StartTime, End: bookings[i].EndTime})
	}
	for _, r := range external {
		if !r.End.After(r.Start) {
			continue
		}
		set.intervals = append(set.intervals, Interval{Start: r.Start, End: r.End})
	}
	return set
}

// Conflicts expands the candidate slot by the buffers and tests it against
// every busy interval. Busy intervals themselves are not expanded.
func (b BusySet) Conflicts(slot Interval, before, after time.Duration) bool {
	padded := Interval{Start: slot.Start.Add(-before), End: slot.End.Add(after)}
	for _, busy := range b.intervals {
		if padded.Overlaps(busy) {
			return true
		}
	}
	return false
}

func (b BusySet) Len() int {
	return len(b.intervals)
}
