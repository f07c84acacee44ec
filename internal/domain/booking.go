/**
 * @description
 * This file defines the core domain models for the booking-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Prices are stored as `int64` in the smallest currency unit (öre), which avoids
 *   floating-point inaccuracies with monetary data.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Course lifecycle statuses. `full` is derived: the capacity store sets it when the
// last seat is reserved and reverts it to `active` when a release frees a seat.
// `completed` and `cancelled` are one-way, staff-set states and are never auto-reverted.
const (
	CourseStatusActive    = "active"
	CourseStatusFull      = "full"
	CourseStatusCompleted = "completed"
	CourseStatusCancelled = "cancelled"
)

// Booking payment statuses.
const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusRefunded = "refunded"
	PaymentStatusFailed   = "failed"
)

// Booking statuses.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// Course represents a bookable course. This struct maps directly to the `courses`
// table. The booking subsystem only ever mutates `current_participants` and the
// derived `status`; everything else is owned by the admin CRUD surface.
type Course struct {
	ID                  uuid.UUID `json:"id"`
	Title               string    `json:"title"`
	Price               int64     `json:"price"` // in öre, per participant
	MaxParticipants     int       `json:"max_participants"`
	CurrentParticipants int       `json:"current_participants"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Booking represents a seat reservation awaiting (or past) payment settlement.
// `total_price` is computed once at creation from the course price and never
// recomputed, so later course price edits do not affect existing bookings.
type Booking struct {
	ID                uuid.UUID `json:"id"`
	CourseID          uuid.UUID `json:"course_id"`
	CustomerName      string    `json:"customer_name"`
	CustomerEmail     string    `json:"customer_email"`
	CustomerPhone     string    `json:"customer_phone,omitempty"`
	Participants      int       `json:"participants"`
	TotalPrice        int64     `json:"total_price"` // in öre
	PaymentStatus     string    `json:"payment_status"`
	BookingStatus     string    `json:"booking_status"`
	CheckoutSessionID *string   `json:"checkout_session_id,omitempty"`
	PaymentRef        *string   `json:"payment_ref,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// CreateBookingRequest is the DTO for incoming booking creation API requests.
// Customer identity may come from the request body (guest checkout) or be
// pre-filled from a validated JWT by the handler.
type CreateBookingRequest struct {
	CourseID      uuid.UUID `json:"course_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	CustomerPhone string    `json:"customer_phone"`
	Participants  int       `json:"participants"`
}

// BookingStatusResponse is the poll payload for confirmation pages.
type BookingStatusResponse struct {
	BookingID     uuid.UUID `json:"booking_id"`
	PaymentStatus string    `json:"payment_status"`
	BookingStatus string    `json:"booking_status"`
}

// StartCheckoutResponse carries the provider redirect URL back to the client.
type StartCheckoutResponse struct {
	BookingID   uuid.UUID `json:"booking_id"`
	SessionID   string    `json:"session_id"`
	RedirectURL string    `json:"redirect_url"`
}

// BookingEvent is the message payload published to RabbitMQ on booking
// lifecycle transitions (created, confirmed, payment failed).
type BookingEvent struct {
	BookingID     uuid.UUID `json:"booking_id"`
	CourseID      uuid.UUID `json:"course_id"`
	CustomerEmail string    `json:"customer_email"`
	Participants  int       `json:"participants"`
	TotalPrice    int64     `json:"total_price"`
	Timestamp     time.Time `json:"timestamp"`
}
