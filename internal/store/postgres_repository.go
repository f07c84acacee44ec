/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * related to courses and bookings, including the atomic capacity reservation.
 *
 * @dependencies
 * - context, time, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coursekit/booking-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrCourseNotFound  = errors.New("course not found")
	ErrBookingNotFound = errors.New("booking not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindCourseByID fetches a course row. The booking flow only needs it for the
// price and for classifying reservation refusals; capacity itself is never
// decided from this read.
func (r *PostgresRepository) FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error) {
	query := `
		SELECT id, title, price, max_participants, current_participants, status, created_at, updated_at
		FROM courses
		WHERE id = $1
	`
	var course domain.Course
	err := r.db.QueryRow(ctx, query, courseID).Scan(
		&course.ID,
		&course.Title,
		&course.Price,
		&course.MaxParticipants,
		&course.CurrentParticipants,
		&course.Status,
		&course.CreatedAt,
		&course.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to find course: %w", err)
	}
	return &course, nil
}

// ReserveSeats commits seats with a single conditional UPDATE. The WHERE clause
// encodes both the status and capacity predicates, and the `full` flip happens in
// the same statement, so the check and the mutation are one indivisible step even
// with multiple service instances hitting the same row.
func (r *PostgresRepository) ReserveSeats(ctx context.Context, courseID uuid.UUID, count int) (bool, error) {
	if count < 1 {
		return false, fmt.Errorf("seat count must be at least 1, got %d", count)
	}

	query := `
		UPDATE courses
		SET current_participants = current_participants + $2,
		    status = CASE
		        WHEN current_participants + $2 >= max_participants THEN 'full'
		        ELSE status
		    END,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = 'active'
		  AND current_participants + $2 <= max_participants
	`
	tag, err := r.db.Exec(ctx, query, courseID, count)
	if err != nil {
		return false, fmt.Errorf("failed to reserve seats: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseSeats hands seats back. The decrement is clamped at zero as a defensive
// floor; the status revert only applies to the derived `full` state, never to
// `completed` or `cancelled`.
func (r *PostgresRepository) ReleaseSeats(ctx context.Context, courseID uuid.UUID, count int) error {
	if count < 1 {
		return fmt.Errorf("seat count must be at least 1, got %d", count)
	}

	tag, err := r.db.Exec(ctx, releaseSeatsQuery, courseID, count)
	if err != nil {
		return fmt.Errorf("failed to release seats: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCourseNotFound
	}
	return nil
}

// releaseSeatsQuery is shared with the settlement transaction in
// MarkBookingFailedAndRelease so both paths apply identical accounting.
const releaseSeatsQuery = `
	UPDATE courses
	SET current_participants = GREATEST(current_participants - $2, 0),
	    status = CASE
	        WHEN status = 'full' AND GREATEST(current_participants - $2, 0) < max_participants THEN 'active'
	        ELSE status
	    END,
	    updated_at = NOW()
	WHERE id = $1
`

// CreateBooking persists a new booking row. The caller has already committed
// capacity; a failure here triggers the compensating release in the service layer.
func (r *PostgresRepository) CreateBooking(ctx context.Context, booking *domain.Booking) error {
	query := `
		INSERT INTO bookings (
			id, course_id, customer_name, customer_email, customer_phone,
			participants, total_price, payment_status, booking_status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		booking.ID,
		booking.CourseID,
		booking.CustomerName,
		booking.CustomerEmail,
		booking.CustomerPhone,
		booking.Participants,
		booking.TotalPrice,
		booking.PaymentStatus,
		booking.BookingStatus,
	).Scan(&booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create booking: %w", err)
	}
	return nil
}

// FindBookingByID fetches a booking row by its primary key.
func (r *PostgresRepository) FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	query := `
		SELECT id, course_id, customer_name, customer_email, customer_phone,
		       participants, total_price, payment_status, booking_status,
		       checkout_session_id, payment_ref, created_at, updated_at
		FROM bookings
		WHERE id = $1
	`
	var booking domain.Booking
	err := r.db.QueryRow(ctx, query, bookingID).Scan(
		&booking.ID,
		&booking.CourseID,
		&booking.CustomerName,
		&booking.CustomerEmail,
		&booking.CustomerPhone,
		&booking.Participants,
		&booking.TotalPrice,
		&booking.PaymentStatus,
		&booking.BookingStatus,
		&booking.CheckoutSessionID,
		&booking.PaymentRef,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to find booking: %w", err)
	}
	return &booking, nil
}

// SetBookingCheckoutSession records the external session reference used to
// correlate webhook events back to the booking.
func (r *PostgresRepository) SetBookingCheckoutSession(ctx context.Context, bookingID uuid.UUID, sessionID string) error {
	query := `
		UPDATE bookings
		SET checkout_session_id = $2, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, bookingID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to set checkout session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

// MarkBookingPaid applies the paid/confirmed transition, guarded by the pending
// check in the WHERE clause. A duplicate success event matches zero rows and
// reports applied=false, which the settlement processor treats as a no-op.
func (r *PostgresRepository) MarkBookingPaid(ctx context.Context, bookingID uuid.UUID, paymentRef string) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'paid',
		    booking_status = 'confirmed',
		    payment_ref = $2,
		    updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, bookingID, paymentRef)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking paid: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkBookingFailedAndRelease marks a pending booking as failed and releases its
// seats inside one database transaction. The guarded UPDATE returns the course id
// and participant count only on the first application; redeliveries match zero
// rows, roll back, and never double-release.
func (r *PostgresRepository) MarkBookingFailedAndRelease(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var courseID uuid.UUID
	var participants int
	failQuery := `
		UPDATE bookings
		SET payment_status = 'failed', updated_at = NOW()
		WHERE id = $1 AND payment_status = 'pending'
		RETURNING course_id, participants
	`
	err = tx.QueryRow(ctx, failQuery, bookingID).Scan(&courseID, &participants)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Already settled; nothing to do and nothing to release.
			return false, nil
		}
		return false, fmt.Errorf("failed to mark booking failed: %w", err)
	}

	if _, err := tx.Exec(ctx, releaseSeatsQuery, courseID, participants); err != nil {
		return false, fmt.Errorf("failed to release seats for booking %s: %w", bookingID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit settlement transaction: %w", err)
	}
	return true, nil
}

// FindStalePendingBookings lists bookings still pending past the checkout-session
// lifetime, oldest first. Used by the optional reconciliation sweep.
func (r *PostgresRepository) FindStalePendingBookings(ctx context.Context, olderThan time.Time, limit int) ([]domain.Booking, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, course_id, customer_name, customer_email, customer_phone,
		       participants, total_price, payment_status, booking_status,
		       checkout_session_id, payment_ref, created_at, updated_at
		FROM bookings
		WHERE payment_status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale bookings: %w", err)
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		var booking domain.Booking
		if err := rows.Scan(
			&booking.ID,
			&booking.CourseID,
			&booking.CustomerName,
			&booking.CustomerEmail,
			&booking.CustomerPhone,
			&booking.Participants,
			&booking.TotalPrice,
			&booking.PaymentStatus,
			&booking.BookingStatus,
			&booking.CheckoutSessionID,
			&booking.PaymentRef,
			&booking.CreatedAt,
			&booking.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stale booking: %w", err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stale bookings: %w", err)
	}
	return bookings, nil
}
