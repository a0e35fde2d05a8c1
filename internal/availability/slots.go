package availability

import (
	"errors"
	"sort"
	"time"

	"bookslot/internal/models"
	"bookslot/internal/timeutil"
)

// SlotRequest carries everything GenerateSlots needs for one date.
type SlotRequest struct {
	Windows       []Interval
	Duration      time.Duration
	BufferBefore  time.Duration
	BufferAfter   time.Duration
	MinimumNotice time.Duration
	// Step defaults to models.SlotStepMinutes.
	Step     time.Duration
	Busy     BusySet
	Now      time.Time
	Location *time.Location
	Format   timeutil.TimeFormat
}

// Slot is a bookable start with its guest facing label.
type Slot struct {
	Start time.Time
	Label string
}

// GenerateSlots returns labels of bookable starts in chronological order.
func GenerateSlots(req SlotRequest) ([]string, error) {
	slots, err := GenerateSlotTimes(req)
	if err != nil {
		return nil, err
	}
	labels := make([]string, 0, len(slots))
	for _, s := range slots {
		labels = append(labels, s.Label)
	}
	return labels, nil
}

// GenerateSlotTimes walks every window at a fixed step. A candidate survives
// when it starts strictly after now+notice, ends within its window and does
// not conflict with the busy set. Results are sorted by instant and
// deduplicated by label, keeping the earliest instant.
func GenerateSlotTimes(req SlotRequest) ([]Slot, error) {
	if req.Duration <= 0 {
		return nil, errors.New("slot duration must be positive")
	}
	if req.Location == nil {
		return nil, errors.New("display location is required")
	}
	step := req.Step
	if step <= 0 {
		step = models.SlotStepMinutes * time.Minute
	}

	earliest := req.Now.Add(req.MinimumNotice)

	var candidates []Slot
	for _, w := range req.Windows {
		for start := w.Start; !start.Add(req.Duration).After(w.End); start = start.Add(step) {
			if !start.After(earliest) {
				continue
			}
			slot := Interval{Start: start, End: start.Add(req.Duration)}
			if req.Busy.Conflicts(slot, req.BufferBefore, req.BufferAfter) {
				continue
			}
			candidates = append(candidates, Slot{Start: start, Label: timeutil.FormatIn(start, req.Location, req.Format)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Start.Before(candidates[j].Start)
	})

	seen := make(map[string]struct{}, len(candidates))
	out := make([]Slot, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := seen[c.Label]; dup {
			continue
		}
		seen[c.Label] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
