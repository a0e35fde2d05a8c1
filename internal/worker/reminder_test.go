package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReminderSchedulerNextRun(t *testing.T) {
	s, err := NewReminderScheduler(func(context.Context) error { return nil }, "America/New_York", "08:00", nil)
	require.NoError(t, err)

	// 11:00 UTC is 07:00 in New York during standard time
	before := time.Date(2024, 1, 10, 11, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 10, 13, 0, 0, 0, time.UTC), s.NextRun(before))

	exactly := time.Date(2024, 1, 10, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 11, 13, 0, 0, 0, time.UTC), s.NextRun(exactly))

	// across the March DST switch the UTC hour moves
	sat := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), s.NextRun(sat))
}

func TestNewReminderSchedulerValidation(t *testing.T) {
	_, err := NewReminderScheduler(nil, "Mars/Olympus", "08:00", nil)
	assert.Error(t, err)

	_, err = NewReminderScheduler(nil, "UTC", "eight", nil)
	assert.Error(t, err)
}

func TestReminderSchedulerStartRunsJob(t *testing.T) {
	ran := make(chan struct{}, 1)
	s, err := NewReminderScheduler(func(context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	}, "UTC", "00:00", nil)
	require.NoError(t, err)

	s.now = func() time.Time {
		return time.Date(2024, 1, 10, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
}
