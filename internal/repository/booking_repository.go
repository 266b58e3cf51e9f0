package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/StefanoGaspardone/quickshow/internal/model"
)

const bookingColumns = `b.id, b.user_id, b.show_id, b.seats, b.amount_cents, b.currency, b.status,
	b.checkout_session_id, b.checkout_url, b.return_origin, b.paid_at, b.created_at, b.updated_at`

// BookingRepo provides persistence for bookings. A booking row is only
// ever written through its own id, so no cross-booking locking exists.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// BookingDetail is a booking joined with the show it belongs to, used by
// the listing endpoints.
type BookingDetail struct {
	model.Booking
	ShowTitle    string
	ShowStartsAt time.Time
}

// Create inserts a booking. The caller assigns the ID.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	seats, err := json.Marshal(b.Seats)
	if err != nil {
		return fmt.Errorf("encode seats: %w", err)
	}
	const q = `INSERT INTO bookings (id, user_id, show_id, seats, amount_cents, currency, status, return_origin, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = conn(ctx, r.db).ExecContext(ctx, q,
		b.ID, b.UserID, b.ShowID, seats, b.AmountCents, b.Currency, string(b.Status), b.ReturnOrigin,
		b.CreatedAt.UTC(), b.UpdatedAt.UTC())
	return err
}

// GetByID loads a booking. Inside a transaction the row stays locked until
// commit, which serialises payment confirmation against release.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.id = ?` + lockClause(ctx)
	b, err := scanBooking(conn(ctx, r.db).QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, err
	}
	return b, nil
}

// SetCheckout records the payment session on a booking that has none yet.
// It reports whether the row was updated.
func (r *BookingRepo) SetCheckout(ctx context.Context, id, sessionID, url string) (bool, error) {
	const q = `UPDATE bookings SET checkout_session_id = ?, checkout_url = ?
	           WHERE id = ? AND checkout_session_id IS NULL`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, sessionID, url, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkPaid moves a PENDING booking to PAID. It reports whether the state
// changed; an already PAID booking yields (false, nil). A missing booking
// yields ErrBookingNotFound.
func (r *BookingRepo) MarkPaid(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `UPDATE bookings SET status = 'PAID', paid_at = ? WHERE id = ? AND status = 'PENDING'`
	res, err := conn(ctx, r.db).ExecContext(ctx, q, at.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var status string
	err = conn(ctx, r.db).QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrBookingNotFound
	}
	return false, err
}

// DeleteIfPending removes the booking only while it is still PENDING and
// reports whether a row was deleted.
func (r *BookingRepo) DeleteIfPending(ctx context.Context, id string) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM bookings WHERE id = ? AND status = 'PENDING'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListPendingCreatedBefore returns the ids of PENDING bookings created
// before the cutoff, oldest first, at most limit of them.
func (r *BookingRepo) ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]string, error) {
	const q = `SELECT id FROM bookings WHERE status = 'PENDING' AND created_at < ? ORDER BY created_at ASC LIMIT ?`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, before.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// BookingTotals aggregates the bookings table for the admin dashboard.
type BookingTotals struct {
	Bookings     int    // all bookings, pending included
	PaidBookings int    // bookings whose payment was confirmed
	RevenueCents uint64 // sum of amount_cents over paid bookings
}

// Totals counts bookings and sums the revenue of the paid ones.
func (r *BookingRepo) Totals(ctx context.Context) (BookingTotals, error) {
	const q = `SELECT COUNT(*),
	                  COALESCE(SUM(status = 'PAID'), 0),
	                  COALESCE(SUM(CASE WHEN status = 'PAID' THEN amount_cents ELSE 0 END), 0)
	           FROM bookings`
	var t BookingTotals
	err := conn(ctx, r.db).QueryRowContext(ctx, q).Scan(&t.Bookings, &t.PaidBookings, &t.RevenueCents)
	return t, err
}

// ListByUser returns the user's bookings, newest first.
func (r *BookingRepo) ListByUser(ctx context.Context, userID string) ([]BookingDetail, error) {
	return r.listDetails(ctx, `WHERE b.user_id = ?`, userID)
}

// ListAll returns every booking, newest first.
func (r *BookingRepo) ListAll(ctx context.Context) ([]BookingDetail, error) {
	return r.listDetails(ctx, ``)
}

func (r *BookingRepo) listDetails(ctx context.Context, where string, args ...any) ([]BookingDetail, error) {
	q := `SELECT ` + bookingColumns + `, s.title, s.starts_at
	      FROM bookings b
	      JOIN shows s ON s.id = b.show_id ` + where + `
	      ORDER BY b.created_at DESC`
	rows, err := conn(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]BookingDetail, 0)
	for rows.Next() {
		var d BookingDetail
		b, err := scanBooking(rows, &d.ShowTitle, &d.ShowStartsAt)
		if err != nil {
			return nil, err
		}
		d.Booking = *b
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// scanBooking scans the booking columns followed by any extra destinations.
func scanBooking(row rowScanner, extra ...any) (*model.Booking, error) {
	var (
		b         model.Booking
		seats     []byte
		status    string
		sessionID sql.NullString
		url       sql.NullString
		paidAt    sql.NullTime
	)
	dest := []any{&b.ID, &b.UserID, &b.ShowID, &seats, &b.AmountCents, &b.Currency, &status,
		&sessionID, &url, &b.ReturnOrigin, &paidAt, &b.CreatedAt, &b.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(seats, &b.Seats); err != nil {
		return nil, fmt.Errorf("decode seats of booking %s: %w", b.ID, err)
	}
	b.Status = model.BookingStatus(status)
	if sessionID.Valid {
		v := sessionID.String
		b.CheckoutSessionID = &v
	}
	if url.Valid {
		v := url.String
		b.CheckoutURL = &v
	}
	if paidAt.Valid {
		v := paidAt.Time
		b.PaidAt = &v
	}
	return &b, nil
}
