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

const paymentColumns = `id, session_id, payment_intent_id, refund_id, booking_id, event_type_id, amount_cents, currency, status,
        guest_name, guest_email, guest_timezone, requested_date, requested_time, requested_start, notes, created_at, updated_at`

func scanPayment(row rowScanner) (*models.Payment, error) {
	var (
		p         models.Payment
		bookingID sql.NullInt64
		start     int64
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.PaymentIntentID, &p.RefundID, &bookingID, &p.EventTypeID, &p.AmountCents,
		&p.Currency, &p.Status, &p.GuestName, &p.GuestEmail, &p.GuestTimezone, &p.RequestedDate, &p.RequestedTime,
		&start, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.BookingID = idFromNull(bookingID)
	if start > 0 {
		p.RequestedStart = fromUnix(start)
	}
	return &p, nil
}

func (db *DB) CreatePayment(ctx context.Context, p *models.Payment) error {
	now := time.Now().UTC()
	var start int64
	if !p.RequestedStart.IsZero() {
		start = unix(p.RequestedStart)
	}
	result, err := db.ExecContext(ctx, `INSERT INTO payments (
                session_id, payment_intent_id, refund_id, booking_id, event_type_id, amount_cents, currency, status,
                guest_name, guest_email, guest_timezone, requested_date, requested_time, requested_start, notes, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.SessionID, p.PaymentIntentID, p.RefundID, nullID(p.BookingID), p.EventTypeID, p.AmountCents, p.Currency, p.Status,
		p.GuestName, p.GuestEmail, p.GuestTimezone, p.RequestedDate, p.RequestedTime, start, p.Notes, now, now)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return nil
}

func (db *DB) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	p, err := scanPayment(db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

// GetPaymentBySession returns nil when no payment row exists yet.
func (db *DB) GetPaymentBySession(ctx context.Context, sessionID string) (*models.Payment, error) {
	p, err := scanPayment(db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE session_id = ?`, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment by session: %w", err)
	}
	return p, nil
}

// LinkPaymentToBooking completes a still pending payment and links it both
// ways. A payment that already settled yields domain.ErrInvalidState.
func (db *DB) LinkPaymentToBooking(ctx context.Context, paymentID, bookingID int64, paymentIntentID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(tx, db.logger)

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `UPDATE payments
        SET status = ?, booking_id = ?, payment_intent_id = CASE WHEN ? = '' THEN payment_intent_id ELSE ? END, updated_at = ?
        WHERE id = ? AND status = ?`,
		models.PaymentCompleted, bookingID, paymentIntentID, paymentIntentID, now, paymentID, models.PaymentPending)
	if err != nil {
		return fmt.Errorf("failed to complete payment: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to complete payment: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("payment %d is not pending: %w", paymentID, domain.ErrInvalidState)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE bookings SET payment_id = ?, updated_at = ? WHERE id = ?`, paymentID, now, bookingID); err != nil {
		return fmt.Errorf("failed to link booking to payment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payment link: %w", err)
	}
	return nil
}

// MarkPaymentFailed fails a still pending payment. It reports whether the
// row changed.
func (db *DB) MarkPaymentFailed(ctx context.Context, sessionID string) (bool, error) {
	result, err := db.ExecContext(ctx, `UPDATE payments SET status = ?, updated_at = ? WHERE session_id = ? AND status = ?`,
		models.PaymentFailed, time.Now().UTC(), sessionID, models.PaymentPending)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment failed: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// MarkPaymentRefunded moves a completed payment to refunded exactly once.
func (db *DB) MarkPaymentRefunded(ctx context.Context, id int64, refundID string) (bool, error) {
	result, err := db.ExecContext(ctx, `UPDATE payments SET status = ?, refund_id = ?, updated_at = ? WHERE id = ? AND status = ?`,
		models.PaymentRefunded, refundID, time.Now().UTC(), id, models.PaymentCompleted)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	n, err := result.RowsAffected()
	return n > 0, err
}
