package database

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"bookslot/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedEventType creates a host and a 30 minute event type.
func seedEventType(t *testing.T, db *DB) (*models.Host, *models.EventType) {
	t.Helper()
	ctx := context.Background()

	host := &models.Host{Name: "Ada", Email: "ada@example.com", Timezone: "America/New_York"}
	require.NoError(t, db.CreateHost(ctx, host))

	et := &models.EventType{
		HostID:          host.ID,
		Title:           "Intro call",
		Slug:            "intro",
		DurationMinutes: 30,
		LocationKind:    models.LocationGoogleMeet,
	}
	require.NoError(t, db.CreateEventType(ctx, et))
	return host, et
}

func newBooking(host *models.Host, et *models.EventType, uid string, start time.Time) *models.Booking {
	return &models.Booking{
		UID:            uid,
		HostID:         host.ID,
		EventTypeID:    et.ID,
		Title:          et.Title,
		StartTime:      start,
		EndTime:        start.Add(et.Duration()),
		Status:         models.BookingAccepted,
		LocationKind:   et.LocationKind,
		ReminderStatus: models.ReminderPending,
	}
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_ReopenKeepsSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestDB_ErrorPaths(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()
	_, err = db.GetEventType(ctx, 1)
	assert.Error(t, err)
	assert.Error(t, db.CreateSyncTask(ctx, &models.SyncTask{}))
	_, err = db.ListReminderCandidates(ctx, time.Now(), time.Now().Add(time.Hour))
	assert.Error(t, err)
}
