package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookslot/internal/domain"
	"bookslot/internal/models"
)

func (db *DB) CreateHost(ctx context.Context, host *models.Host) error {
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx,
		`INSERT INTO hosts (name, email, timezone, telegram_chat_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		host.Name, host.Email, host.Timezone, host.TelegramChatID, now)
	if err != nil {
		return fmt.Errorf("failed to create host: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	host.ID = id
	host.CreatedAt = now
	return nil
}

func (db *DB) GetHost(ctx context.Context, id int64) (*models.Host, error) {
	var h models.Host
	err := db.QueryRowContext(ctx,
		`SELECT id, name, email, timezone, telegram_chat_id, created_at FROM hosts WHERE id = ?`, id).
		Scan(&h.ID, &h.Name, &h.Email, &h.Timezone, &h.TelegramChatID, &h.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("host %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get host: %w", err)
	}
	return &h, nil
}

// UpsertCredential stores the OAuth tokens of a host for one provider.
func (db *DB) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	calendarID := cred.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}
	_, err := db.ExecContext(ctx, `
        INSERT INTO credentials (host_id, provider, calendar_id, access_token, refresh_token, token_type, expiry, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(host_id, provider) DO UPDATE SET
            calendar_id = excluded.calendar_id,
            access_token = excluded.access_token,
            refresh_token = excluded.refresh_token,
            token_type = excluded.token_type,
            expiry = excluded.expiry,
            updated_at = excluded.updated_at`,
		cred.HostID, cred.Provider, calendarID, cred.AccessToken, cred.RefreshToken, cred.TokenType, cred.Expiry.UTC(), now)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	stored, err := db.GetCredential(ctx, cred.HostID, cred.Provider)
	if err != nil {
		return err
	}
	*cred = *stored
	return nil
}

// GetCredential returns nil when the host never connected the provider.
func (db *DB) GetCredential(ctx context.Context, hostID int64, provider string) (*models.Credential, error) {
	var (
		c      models.Credential
		expiry sql.NullTime
	)
	err := db.QueryRowContext(ctx, `
        SELECT id, host_id, provider, calendar_id, access_token, refresh_token, token_type, expiry, updated_at
        FROM credentials WHERE host_id = ? AND provider = ?`, hostID, provider).
		Scan(&c.ID, &c.HostID, &c.Provider, &c.CalendarID, &c.AccessToken, &c.RefreshToken, &c.TokenType, &expiry, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	if expiry.Valid {
		c.Expiry = expiry.Time
	}
	return &c, nil
}

// UpdateCredentialToken persists a refreshed token. Concurrent refreshes
// simply overwrite each other.
func (db *DB) UpdateCredentialToken(ctx context.Context, id int64, accessToken, refreshToken string, expiry time.Time) error {
	_, err := db.ExecContext(ctx, `
        UPDATE credentials
        SET access_token = ?, refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END, expiry = ?, updated_at = ?
        WHERE id = ?`,
		accessToken, refreshToken, refreshToken, expiry.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update credential token: %w", err)
	}
	return nil
}

const eventTypeColumns = `id, host_id, title, slug, description, duration_minutes, location_kind, location_value,
        buffer_before_minutes, buffer_after_minutes, minimum_notice_minutes, booking_window_days, daily_limit, weekly_limit,
        hidden, is_paid, price_cents, currency, refund_window_hours, promo_code, created_at, updated_at`

func scanEventType(row interface{ Scan(...interface{}) error }) (*models.EventType, error) {
	var (
		e                          models.EventType
		window, daily, weeklyLimit sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.HostID, &e.Title, &e.Slug, &e.Description, &e.DurationMinutes, &e.LocationKind, &e.LocationValue,
		&e.BufferBeforeMinutes, &e.BufferAfterMinutes, &e.MinimumNoticeMinutes, &window, &daily, &weeklyLimit,
		&e.Hidden, &e.IsPaid, &e.PriceCents, &e.Currency, &e.RefundWindowHours, &e.PromoCode, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.BookingWindowDays = intFromNull(window)
	e.DailyLimit = intFromNull(daily)
	e.WeeklyLimit = intFromNull(weeklyLimit)
	return &e, nil
}

func (db *DB) CreateEventType(ctx context.Context, et *models.EventType) error {
	if err := et.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, `
        INSERT INTO event_types (host_id, title, slug, description, duration_minutes, location_kind, location_value,
            buffer_before_minutes, buffer_after_minutes, minimum_notice_minutes, booking_window_days, daily_limit, weekly_limit,
            hidden, is_paid, price_cents, currency, refund_window_hours, promo_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		et.HostID, et.Title, et.Slug, et.Description, et.DurationMinutes, et.LocationKind, et.LocationValue,
		et.BufferBeforeMinutes, et.BufferAfterMinutes, et.MinimumNoticeMinutes,
		nullInt(et.BookingWindowDays), nullInt(et.DailyLimit), nullInt(et.WeeklyLimit),
		et.Hidden, et.IsPaid, et.PriceCents, et.Currency, et.RefundWindowHours, et.PromoCode, now, now)
	if uniqueViolationOn(err, "slug") {
		return domain.InvalidInputf("slug %q is already used", et.Slug)
	}
	if err != nil {
		return fmt.Errorf("failed to create event type: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	et.ID = id
	et.CreatedAt = now
	et.UpdatedAt = now
	return nil
}

func (db *DB) GetEventType(ctx context.Context, id int64) (*models.EventType, error) {
	et, err := scanEventType(db.QueryRowContext(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("event type %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event type: %w", err)
	}
	return et, nil
}

func (db *DB) ListEventTypes(ctx context.Context, hostID int64) ([]models.EventType, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+eventTypeColumns+` FROM event_types WHERE host_id = ? ORDER BY id`, hostID)
	if err != nil {
		return nil, fmt.Errorf("failed to list event types: %w", err)
	}
	defer rows.Close()

	var out []models.EventType
	for rows.Next() {
		et, err := scanEventType(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event type: %w", err)
		}
		out = append(out, *et)
	}
	return out, rows.Err()
}

// GetDefaultSchedule returns the host's default schedule with its rules, or
// nil when the host has none.
func (db *DB) GetDefaultSchedule(ctx context.Context, hostID int64) (*models.Schedule, error) {
	var s models.Schedule
	err := db.QueryRowContext(ctx,
		`SELECT id, host_id, name, timezone, is_default, updated_at FROM schedules WHERE host_id = ? AND is_default = 1`, hostID).
		Scan(&s.ID, &s.HostID, &s.Name, &s.Timezone, &s.IsDefault, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default schedule: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, schedule_id, day_of_week, start_time, end_time FROM availability_rules WHERE schedule_id = ? ORDER BY day_of_week, start_time`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get availability rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.AvailabilityRule
		if err := rows.Scan(&r.ID, &r.ScheduleID, &r.DayOfWeek, &r.StartTime, &r.EndTime); err != nil {
			return nil, fmt.Errorf("failed to scan availability rule: %w", err)
		}
		s.Rules = append(s.Rules, r)
	}
	return &s, rows.Err()
}

// SaveDefaultSchedule replaces the default schedule's zone, name and rules.
func (db *DB) SaveDefaultSchedule(ctx context.Context, schedule *models.Schedule) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, db.logger)

	now := time.Now().UTC()
	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM schedules WHERE host_id = ? AND is_default = 1`, schedule.HostID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result, err := tx.ExecContext(ctx,
			`INSERT INTO schedules (host_id, name, timezone, is_default, updated_at) VALUES (?, ?, ?, 1, ?)`,
			schedule.HostID, schedule.Name, schedule.Timezone, now)
		if err != nil {
			return fmt.Errorf("failed to insert schedule: %w", err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to find default schedule: %w", err)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE schedules SET name = ?, timezone = ?, updated_at = ? WHERE id = ?`,
			schedule.Name, schedule.Timezone, now, id); err != nil {
			return fmt.Errorf("failed to update schedule: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM availability_rules WHERE schedule_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear availability rules: %w", err)
		}
	}

	for i := range schedule.Rules {
		r := &schedule.Rules[i]
		result, err := tx.ExecContext(ctx,
			`INSERT INTO availability_rules (schedule_id, day_of_week, start_time, end_time) VALUES (?, ?, ?, ?)`,
			id, r.DayOfWeek, r.StartTime, r.EndTime)
		if err != nil {
			return fmt.Errorf("failed to insert availability rule: %w", err)
		}
		r.ID, _ = result.LastInsertId()
		r.ScheduleID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schedule: %w", err)
	}
	schedule.ID = id
	schedule.IsDefault = true
	schedule.UpdatedAt = now
	return nil
}

// GetEmailTemplate returns nil when the host kept the defaults for kind.
func (db *DB) GetEmailTemplate(ctx context.Context, hostID int64, kind string) (*models.EmailTemplate, error) {
	var t models.EmailTemplate
	err := db.QueryRowContext(ctx,
		`SELECT id, host_id, kind, subject, greeting, body, footer, enabled FROM email_templates WHERE host_id = ? AND kind = ?`,
		hostID, kind).
		Scan(&t.ID, &t.HostID, &t.Kind, &t.Subject, &t.Greeting, &t.Body, &t.Footer, &t.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email template: %w", err)
	}
	return &t, nil
}

func (db *DB) UpsertEmailTemplate(ctx context.Context, t *models.EmailTemplate) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO email_templates (host_id, kind, subject, greeting, body, footer, enabled)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(host_id, kind) DO UPDATE SET
            subject = excluded.subject,
            greeting = excluded.greeting,
            body = excluded.body,
            footer = excluded.footer,
            enabled = excluded.enabled`,
		t.HostID, t.Kind, t.Subject, t.Greeting, t.Body, t.Footer, t.Enabled)
	if err != nil {
		return fmt.Errorf("failed to upsert email template: %w", err)
	}
	stored, err := db.GetEmailTemplate(ctx, t.HostID, t.Kind)
	if err != nil {
		return err
	}
	*t = *stored
	return nil
}
