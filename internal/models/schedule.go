package models

import "time"

// Schedule is a weekly availability template in one timezone.
type Schedule struct {
	ID        int64              `json:"id"`
	HostID    int64              `json:"host_id"`
	Name      string             `json:"name"`
	Timezone  string             `json:"timezone"`
	IsDefault bool               `json:"is_default"`
	Rules     []AvailabilityRule `json:"rules"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// AvailabilityRule is one open interval on a weekday, 0 = Sunday.
// StartTime and EndTime are wall-clock strings in the schedule timezone.
type AvailabilityRule struct {
	ID         int64  `json:"id,omitempty"`
	ScheduleID int64  `json:"schedule_id,omitempty"`
	DayOfWeek  int    `json:"day_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

// TimeRange is a half-open busy or free interval in UTC.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
