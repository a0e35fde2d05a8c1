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

type BookingGuard = domain.BookingGuard

// guardMargin widens the guard query so weekly caps and buffers are covered.
const guardMargin = 8 * 24 * time.Hour

const bookingColumns = `id, uid, host_id, event_type_id, title, description, start_at, end_at, status,
        location_kind, location_value, cancellation_reason, rescheduled_from_uid, payment_id, checkout_session_id,
        reminder_status, created_at, updated_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var (
		b            models.Booking
		start, end   int64
		paymentID    sql.NullInt64
		checkoutSess sql.NullString
	)
	err := row.Scan(&b.ID, &b.UID, &b.HostID, &b.EventTypeID, &b.Title, &b.Description, &start, &end, &b.Status,
		&b.LocationKind, &b.LocationValue, &b.CancellationReason, &b.RescheduledFromUID, &paymentID, &checkoutSess,
		&b.ReminderStatus, &b.CreatedAt, &b.UpdatedAt, &b.Version)
	if err != nil {
		return nil, err
	}
	b.StartTime = fromUnix(start)
	b.EndTime = fromUnix(end)
	b.PaymentID = idFromNull(paymentID)
	b.CheckoutSessionID = checkoutSess.String
	return &b, nil
}

func queryBookings(ctx context.Context, q queryer, query string, args ...interface{}) ([]models.Booking, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func activeAround(ctx context.Context, tx *sql.Tx, eventTypeID, excludeID int64, start, end time.Time) ([]models.Booking, error) {
	return queryBookings(ctx, tx, `SELECT `+bookingColumns+` FROM bookings
        WHERE event_type_id = ? AND id != ? AND status IN (?, ?) AND start_at < ? AND end_at > ?
        ORDER BY start_at`,
		eventTypeID, excludeID, models.BookingPending, models.BookingAccepted,
		unix(end.Add(guardMargin)), unix(start.Add(-guardMargin)))
}

// CreateBookingWithLock inserts a booking and its attendee in one
// transaction after guard approved the surrounding live bookings. A booking
// that already exists for the same checkout session yields
// domain.ErrDuplicateSession; losing a race for the slot yields
// domain.ErrSlotTaken.
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking, attendee *models.Attendee, guard BookingGuard) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, db.logger)

	if booking.CheckoutSessionID != "" {
		var existingID int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM bookings WHERE checkout_session_id = ?`, booking.CheckoutSessionID).Scan(&existingID)
		if err == nil {
			return domain.ErrDuplicateSession
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to check checkout session in tx: %w", err)
		}
	}

	existing, err := activeAround(ctx, tx, booking.EventTypeID, 0, booking.StartTime, booking.EndTime)
	if err != nil {
		return fmt.Errorf("failed to load bookings in tx: %w", err)
	}
	if guard != nil {
		if err := guard(existing); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `INSERT INTO bookings (
                uid, host_id, event_type_id, title, description, start_at, end_at, status,
                location_kind, location_value, cancellation_reason, rescheduled_from_uid, payment_id, checkout_session_id,
                reminder_status, created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.UID, booking.HostID, booking.EventTypeID, booking.Title, booking.Description,
		unix(booking.StartTime), unix(booking.EndTime), booking.Status,
		booking.LocationKind, booking.LocationValue, booking.CancellationReason, booking.RescheduledFromUID,
		nullID(booking.PaymentID), nullString(booking.CheckoutSessionID),
		booking.ReminderStatus, now, now, 1)
	if err != nil {
		switch {
		case uniqueViolationOn(err, "checkout_session_id"):
			return domain.ErrDuplicateSession
		case isUniqueViolation(err):
			return domain.ErrSlotTaken
		}
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}

	if attendee != nil {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO attendees (booking_id, name, email, timezone) VALUES (?, ?, ?, ?)`,
			id, attendee.Name, attendee.Email, attendee.Timezone)
		if err != nil {
			return fmt.Errorf("failed to insert attendee in tx: %w", err)
		}
		attendee.ID, _ = res.LastInsertId()
		attendee.BookingID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit booking: %w", err)
	}

	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

// RescheduleBookingWithLock moves a live booking in place after guard
// approved the other live bookings of its event type.
func (db *DB) RescheduleBookingWithLock(ctx context.Context, id int64, start, end time.Time, rescheduledFrom string, guard BookingGuard) (*models.Booking, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, db.logger)

	current, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load booking in tx: %w", err)
	}
	if current.Status == models.BookingCancelled {
		return nil, fmt.Errorf("booking %s is cancelled: %w", current.UID, domain.ErrInvalidState)
	}

	existing, err := activeAround(ctx, tx, current.EventTypeID, id, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings in tx: %w", err)
	}
	if guard != nil {
		if err := guard(existing); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `UPDATE bookings
        SET start_at = ?, end_at = ?, rescheduled_from_uid = ?, reminder_status = ?, updated_at = ?, version = version + 1
        WHERE id = ?`,
		unix(start), unix(end), rescheduledFrom, models.ReminderPending, now, id)
	if isUniqueViolation(err) {
		return nil, domain.ErrSlotTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reschedule booking in tx: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reschedule: %w", err)
	}

	current.StartTime = start.UTC()
	current.EndTime = end.UTC()
	current.RescheduledFromUID = rescheduledFrom
	current.ReminderStatus = models.ReminderPending
	current.UpdatedAt = now
	current.Version++
	return current, nil
}

// CancelBooking is the terminal transition. Cancelling twice reports
// domain.ErrAlreadyCancelled.
func (db *DB) CancelBooking(ctx context.Context, id int64, reason string) error {
	result, err := db.ExecContext(ctx, `UPDATE bookings
        SET status = ?, cancellation_reason = ?, updated_at = ?, version = version + 1
        WHERE id = ? AND status != ?`,
		models.BookingCancelled, reason, time.Now().UTC(), id, models.BookingCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check booking: %w", err)
	}
	return domain.ErrAlreadyCancelled
}

func (db *DB) GetBookingByUID(ctx context.Context, uid string) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE uid = ?`, uid))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", uid, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// GetBookingBySession returns nil when no booking came from the session.
func (db *DB) GetBookingBySession(ctx context.Context, sessionID string) (*models.Booking, error) {
	b, err := scanBooking(db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE checkout_session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by session: %w", err)
	}
	return b, nil
}

// GetBookingDetails loads a booking with attendee, event type, host and
// calendar references.
func (db *DB) GetBookingDetails(ctx context.Context, uid string) (*models.BookingDetails, error) {
	b, err := db.GetBookingByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	details := &models.BookingDetails{Booking: *b}

	if details.Attendee, err = db.GetAttendee(ctx, b.ID); err != nil {
		return nil, err
	}
	if details.EventType, err = db.GetEventType(ctx, b.EventTypeID); err != nil {
		return nil, err
	}
	if details.Host, err = db.GetHost(ctx, b.HostID); err != nil {
		return nil, err
	}
	if details.References, err = db.ListBookingReferences(ctx, b.ID); err != nil {
		return nil, err
	}
	return details, nil
}

// ListBookingsForEventType returns bookings of any status overlapping
// [from, to).
func (db *DB) ListBookingsForEventType(ctx context.Context, eventTypeID int64, from, to time.Time) ([]models.Booking, error) {
	out, err := queryBookings(ctx, db, `SELECT `+bookingColumns+` FROM bookings
        WHERE event_type_id = ? AND start_at < ? AND end_at > ? ORDER BY start_at`,
		eventTypeID, unix(to), unix(from))
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return out, nil
}

// ListHostBookings returns a host's bookings starting in [from, to).
func (db *DB) ListHostBookings(ctx context.Context, hostID int64, from, to time.Time) ([]models.Booking, error) {
	out, err := queryBookings(ctx, db, `SELECT `+bookingColumns+` FROM bookings
        WHERE host_id = ? AND start_at >= ? AND start_at < ? ORDER BY start_at`,
		hostID, unix(from), unix(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list host bookings: %w", err)
	}
	return out, nil
}

// ListReminderCandidates returns accepted bookings still awaiting a reminder
// that start in [from, to).
func (db *DB) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	out, err := queryBookings(ctx, db, `SELECT `+bookingColumns+` FROM bookings
        WHERE status = ? AND reminder_status = ? AND start_at >= ? AND start_at < ? ORDER BY start_at`,
		models.BookingAccepted, models.ReminderPending, unix(from), unix(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list reminder candidates: %w", err)
	}
	return out, nil
}

func (db *DB) UpdateReminderStatus(ctx context.Context, id int64, status string) error {
	_, err := db.ExecContext(ctx, `UPDATE bookings SET reminder_status = ?, updated_at = ? WHERE id = ?`, status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update reminder status: %w", err)
	}
	return nil
}

// UpdateBookingLocation overwrites the location snapshot, e.g. with a
// generated meeting link.
func (db *DB) UpdateBookingLocation(ctx context.Context, id int64, value string) error {
	_, err := db.ExecContext(ctx, `UPDATE bookings SET location_value = ?, updated_at = ? WHERE id = ?`, value, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update booking location: %w", err)
	}
	return nil
}

// GetAttendee returns nil when the booking has no attendee row.
func (db *DB) GetAttendee(ctx context.Context, bookingID int64) (*models.Attendee, error) {
	var a models.Attendee
	err := db.QueryRowContext(ctx,
		`SELECT id, booking_id, name, email, timezone FROM attendees WHERE booking_id = ?`, bookingID).
		Scan(&a.ID, &a.BookingID, &a.Name, &a.Email, &a.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attendee: %w", err)
	}
	return &a, nil
}

func (db *DB) CreateBookingReference(ctx context.Context, ref *models.BookingReference) error {
	result, err := db.ExecContext(ctx, `
        INSERT INTO booking_references (booking_id, credential_id, type, external_id, calendar_id, meeting_url)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(booking_id, type) DO UPDATE SET
            credential_id = excluded.credential_id,
            external_id = excluded.external_id,
            calendar_id = excluded.calendar_id,
            meeting_url = excluded.meeting_url`,
		ref.BookingID, ref.CredentialID, ref.Type, ref.ExternalID, ref.CalendarID, ref.MeetingURL)
	if err != nil {
		return fmt.Errorf("failed to create booking reference: %w", err)
	}
	ref.ID, _ = result.LastInsertId()
	return nil
}

func (db *DB) ListBookingReferences(ctx context.Context, bookingID int64) ([]models.BookingReference, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, booking_id, credential_id, type, external_id, calendar_id, meeting_url
        FROM booking_references WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list booking references: %w", err)
	}
	defer rows.Close()

	var out []models.BookingReference
	for rows.Next() {
		var r models.BookingReference
		if err := rows.Scan(&r.ID, &r.BookingID, &r.CredentialID, &r.Type, &r.ExternalID, &r.CalendarID, &r.MeetingURL); err != nil {
			return nil, fmt.Errorf("failed to scan booking reference: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
