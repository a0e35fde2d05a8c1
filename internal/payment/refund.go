package payment

import "time"

// IsEligibleForRefund reports whether now is at least windowHours before start.
// The boundary itself is eligible.
func IsEligibleForRefund(start time.Time, windowHours int, now time.Time) bool {
	deadline := start.Add(-time.Duration(windowHours) * time.Hour)
	return !now.After(deadline)
}
