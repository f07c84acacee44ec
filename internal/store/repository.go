/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the booking-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/coursekit/booking-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Course / capacity methods.
	FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error)

	// ReserveSeats atomically increments a course's committed seat count by count,
	// but only while the course is active and the capacity ceiling holds. It
	// returns false (with no mutation) when the condition is not met. This single
	// conditional update is the sole overbooking arbiter; callers must not
	// pre-check capacity and act on the result.
	ReserveSeats(ctx context.Context, courseID uuid.UUID, count int) (bool, error)

	// ReleaseSeats atomically decrements a course's committed seat count, clamped
	// at zero, reverting a derived `full` status back to `active` when seats free
	// up. It is not idempotent; release-exactly-once is the caller's burden.
	ReleaseSeats(ctx context.Context, courseID uuid.UUID, count int) error

	// Booking methods.
	CreateBooking(ctx context.Context, booking *domain.Booking) error
	FindBookingByID(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	SetBookingCheckoutSession(ctx context.Context, bookingID uuid.UUID, sessionID string) error

	// Settlement methods. Both are guarded conditional updates that only fire
	// while payment_status is still `pending`, returning whether the transition
	// was applied, so duplicate webhook deliveries no-op on the second pass.
	MarkBookingPaid(ctx context.Context, bookingID uuid.UUID, paymentRef string) (bool, error)

	// MarkBookingFailedAndRelease performs the failed transition and the seat
	// release in one database transaction, so a booking's capacity is handed back
	// exactly once even across crashes and event redeliveries.
	MarkBookingFailedAndRelease(ctx context.Context, bookingID uuid.UUID) (bool, error)

	// Sweep support: pending bookings created before the cutoff.
	FindStalePendingBookings(ctx context.Context, olderThan time.Time, limit int) ([]domain.Booking, error)
}
