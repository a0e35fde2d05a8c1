package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const memoryPath = ":memory:"

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

// NewDB opens the SQLite store and creates the schema. Write transactions
// start with BEGIN IMMEDIATE so check-then-insert sequences are serialized.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != memoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == memoryPath {
		// every new connection to :memory: is a fresh empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, path: path, logger: logger}, nil
}

func dsn(path string) string {
	params := "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	if path != memoryPath {
		params += "&_journal_mode=WAL"
	}
	return path + "?" + params
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS hosts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL,
            timezone TEXT NOT NULL,
            telegram_chat_id INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS credentials (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            host_id INTEGER NOT NULL REFERENCES hosts(id),
            provider TEXT NOT NULL,
            calendar_id TEXT NOT NULL DEFAULT 'primary',
            access_token TEXT NOT NULL DEFAULT '',
            refresh_token TEXT NOT NULL DEFAULT '',
            token_type TEXT NOT NULL DEFAULT '',
            expiry DATETIME,
            updated_at DATETIME NOT NULL,
            UNIQUE(host_id, provider)
        )`,
		`CREATE TABLE IF NOT EXISTS event_types (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            host_id INTEGER NOT NULL REFERENCES hosts(id),
            title TEXT NOT NULL,
            slug TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            duration_minutes INTEGER NOT NULL CHECK (duration_minutes > 0),
            location_kind TEXT NOT NULL DEFAULT '',
            location_value TEXT NOT NULL DEFAULT '',
            buffer_before_minutes INTEGER NOT NULL DEFAULT 0,
            buffer_after_minutes INTEGER NOT NULL DEFAULT 0,
            minimum_notice_minutes INTEGER NOT NULL DEFAULT 0,
            booking_window_days INTEGER,
            daily_limit INTEGER,
            weekly_limit INTEGER,
            hidden BOOLEAN NOT NULL DEFAULT 0,
            is_paid BOOLEAN NOT NULL DEFAULT 0,
            price_cents INTEGER NOT NULL DEFAULT 0,
            currency TEXT NOT NULL DEFAULT '',
            refund_window_hours INTEGER NOT NULL DEFAULT 0,
            promo_code TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            UNIQUE(host_id, slug)
        )`,
		`CREATE TABLE IF NOT EXISTS schedules (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            host_id INTEGER NOT NULL REFERENCES hosts(id),
            name TEXT NOT NULL,
            timezone TEXT NOT NULL,
            is_default BOOLEAN NOT NULL DEFAULT 0,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS availability_rules (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            schedule_id INTEGER NOT NULL REFERENCES schedules(id) ON DELETE CASCADE,
            day_of_week INTEGER NOT NULL CHECK (day_of_week BETWEEN 0 AND 6),
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            uid TEXT NOT NULL UNIQUE,
            host_id INTEGER NOT NULL,
            event_type_id INTEGER NOT NULL REFERENCES event_types(id),
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            status TEXT NOT NULL,
            location_kind TEXT NOT NULL DEFAULT '',
            location_value TEXT NOT NULL DEFAULT '',
            cancellation_reason TEXT NOT NULL DEFAULT '',
            rescheduled_from_uid TEXT NOT NULL DEFAULT '',
            payment_id INTEGER,
            checkout_session_id TEXT UNIQUE,
            reminder_status TEXT NOT NULL DEFAULT 'pending',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1,
            CHECK (end_at > start_at)
        )`,
		`CREATE TABLE IF NOT EXISTS attendees (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL UNIQUE REFERENCES bookings(id),
            name TEXT NOT NULL,
            email TEXT NOT NULL,
            timezone TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS booking_references (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL REFERENCES bookings(id),
            credential_id INTEGER NOT NULL,
            type TEXT NOT NULL,
            external_id TEXT NOT NULL,
            calendar_id TEXT NOT NULL DEFAULT '',
            meeting_url TEXT NOT NULL DEFAULT '',
            UNIQUE(booking_id, type)
        )`,
		`CREATE TABLE IF NOT EXISTS payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            session_id TEXT NOT NULL UNIQUE,
            payment_intent_id TEXT NOT NULL DEFAULT '',
            refund_id TEXT NOT NULL DEFAULT '',
            booking_id INTEGER,
            event_type_id INTEGER NOT NULL,
            amount_cents INTEGER NOT NULL,
            currency TEXT NOT NULL,
            status TEXT NOT NULL,
            guest_name TEXT NOT NULL,
            guest_email TEXT NOT NULL,
            guest_timezone TEXT NOT NULL,
            requested_date TEXT NOT NULL,
            requested_time TEXT NOT NULL,
            requested_start INTEGER NOT NULL DEFAULT 0,
            notes TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS email_templates (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            host_id INTEGER NOT NULL,
            kind TEXT NOT NULL,
            subject TEXT NOT NULL DEFAULT '',
            greeting TEXT NOT NULL DEFAULT '',
            body TEXT NOT NULL DEFAULT '',
            footer TEXT NOT NULL DEFAULT '',
            enabled BOOLEAN NOT NULL DEFAULT 1,
            UNIQUE(host_id, kind)
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            booking_uid TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		// at most one live booking per event type and start instant
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_bookings_active_slot
            ON bookings(event_type_id, start_at) WHERE status IN ('PENDING', 'ACCEPTED')`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_event_start ON bookings(event_type_id, start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_reminder ON bookings(status, reminder_status, start_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_schedules_default ON schedules(host_id) WHERE is_default = 1`,
		`CREATE INDEX IF NOT EXISTS idx_rules_schedule ON availability_rules(schedule_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func uniqueViolationOn(err error, column string) bool {
	return isUniqueViolation(err) && strings.Contains(err.Error(), column)
}

func unix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullID(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func idFromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// rollback is deferred after BeginTx; it is a no-op once the tx committed.
func rollback(tx *sql.Tx, logger *zerolog.Logger) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn().Err(err).Msg("rollback failed")
	}
}
