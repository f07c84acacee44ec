/**
 * @description
 * This file contains the core business logic for the booking-service. The `Service`
 * struct orchestrates the booking lifecycle up to settlement: atomic seat
 * reservation, booking persistence with compensating release, checkout session
 * initiation against the payment provider, and read-only status lookups.
 *
 * Key features:
 * - Reserve-then-persist ordering: the store's conditional update is the only
 *   overbooking arbiter, and a persistence failure after a successful reservation
 *   triggers an explicit compensating release.
 * - Publishes booking lifecycle events to RabbitMQ for asynchronous processing
 *   by downstream services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/checkout, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/coursekit/booking-service/internal/domain"
	"github.com/coursekit/booking-service/internal/store"
	"github.com/coursekit/booking-service/pkg/checkout"
	"github.com/coursekit/booking-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest marks malformed booking input. Never retried; surfaced verbatim.
	ErrInvalidRequest = errors.New("invalid booking request")
	// ErrInsufficientCapacity is the expected, frequent refusal from the capacity
	// store. A business outcome, not a server fault.
	ErrInsufficientCapacity = errors.New("not enough seats available")
	// ErrCourseNotBookable covers full, completed and cancelled courses.
	ErrCourseNotBookable = errors.New("course is not open for booking")
	// ErrBookingAlreadySettled rejects checkout on a booking that already paid.
	ErrBookingAlreadySettled = errors.New("booking has already been paid")
	// ErrBookingNotPayable rejects checkout on failed/refunded or zero-amount bookings.
	ErrBookingNotPayable = errors.New("booking is not payable")
	// ErrCheckoutUnavailable signals a transient provider failure; safe to retry with backoff.
	ErrCheckoutUnavailable = errors.New("checkout provider unavailable")
)

// RateLimitError is returned when booking creation is throttled.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many booking attempts, retry in %ds", e.RetryAfterSeconds)
}

// CheckoutClient is the subset of the provider client the service depends on.
type CheckoutClient interface {
	CreateCheckoutSession(ctx context.Context, params checkout.SessionParams) (*checkout.Session, error)
}

// BookingRateLimiter throttles booking creation per subject across instances.
type BookingRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for bookings.
type Service struct {
	repo            store.Repository
	checkoutClient  CheckoutClient
	eventProducer   rabbitmq.Publisher
	eventExchange   string
	currency        string
	successURL      string
	cancelURL       string
	checkoutTimeout time.Duration

	rateLimiter          BookingRateLimiter
	createLimitPerMinute int
}

// NewService creates a new booking service instance.
func NewService(
	repo store.Repository,
	checkoutClient CheckoutClient,
	producer rabbitmq.Publisher,
	eventExchange string,
	currency string,
	successURL string,
	cancelURL string,
	checkoutTimeout time.Duration,
) *Service {
	if checkoutTimeout <= 0 {
		checkoutTimeout = 10 * time.Second
	}
	return &Service{
		repo:            repo,
		checkoutClient:  checkoutClient,
		eventProducer:   producer,
		eventExchange:   eventExchange,
		currency:        currency,
		successURL:      successURL,
		cancelURL:       cancelURL,
		checkoutTimeout: checkoutTimeout,
	}
}

// SetBookingRateLimiter wires the optional distributed rate limiter.
func (s *Service) SetBookingRateLimiter(limiter BookingRateLimiter, createLimitPerMinute int) {
	s.rateLimiter = limiter
	s.createLimitPerMinute = createLimitPerMinute
}

// CreateBooking validates the request, atomically reserves seats and persists a
// pending booking. The reservation happens before persistence specifically to
// close the race where two concurrent requests both see free capacity; if the
// booking row cannot be written afterwards, the seats are handed back.
func (s *Service) CreateBooking(ctx context.Context, req domain.CreateBookingRequest) (*domain.Booking, error) {
	if err := validateCreateBookingRequest(req); err != nil {
		return nil, err
	}

	if s.rateLimiter != nil && s.createLimitPerMinute > 0 {
		subject := strings.ToLower(strings.TrimSpace(req.CustomerEmail))
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "booking:create", subject, s.createLimitPerMinute, time.Minute)
		if err != nil {
			// Fail open: a limiter outage must not block bookings.
			log.Printf("level=warn component=booking_service msg=\"rate limiter unavailable\" err=%v", err)
		} else if count > s.createLimitPerMinute {
			return nil, &RateLimitError{RetryAfterSeconds: retryAfter}
		}
	}

	course, err := s.repo.FindCourseByID(ctx, req.CourseID)
	if err != nil {
		if errors.Is(err, store.ErrCourseNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up course: %w", err)
	}

	ok, err := s.repo.ReserveSeats(ctx, req.CourseID, req.Participants)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve seats: %w", err)
	}
	if !ok {
		return nil, s.classifyReservationRefusal(ctx, req.CourseID)
	}

	booking := &domain.Booking{
		ID:            uuid.New(),
		CourseID:      course.ID,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		Participants:  req.Participants,
		TotalPrice:    course.Price * int64(req.Participants),
		PaymentStatus: domain.PaymentStatusPending,
		BookingStatus: domain.BookingStatusPending,
	}

	if err := s.repo.CreateBooking(ctx, booking); err != nil {
		// Compensating action: the seats were already committed, so hand them
		// back before failing the request. A leak here is silent in production,
		// which is why the release is explicit rather than best-effort.
		if relErr := s.repo.ReleaseSeats(ctx, req.CourseID, req.Participants); relErr != nil {
			log.Printf("level=error component=booking_service msg=\"compensating release failed; capacity leaked\" course_id=%s seats=%d err=%v", req.CourseID, req.Participants, relErr)
		}
		return nil, fmt.Errorf("failed to persist booking: %w", err)
	}

	s.publishBookingEvent(ctx, rabbitmq.RoutingKeyBookingCreated, booking)

	log.Printf("level=info component=booking_service msg=\"booking created\" booking_id=%s course_id=%s seats=%d total_price=%d", booking.ID, booking.CourseID, booking.Participants, booking.TotalPrice)
	return booking, nil
}

// classifyReservationRefusal distinguishes a sold-out active course from one that
// is not bookable at all. The follow-up read is for error reporting only; it never
// participates in the reservation decision itself.
func (s *Service) classifyReservationRefusal(ctx context.Context, courseID uuid.UUID) error {
	course, err := s.repo.FindCourseByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, store.ErrCourseNotFound) {
			return err
		}
		return ErrInsufficientCapacity
	}
	switch course.Status {
	case domain.CourseStatusCompleted, domain.CourseStatusCancelled:
		return ErrCourseNotBookable
	default:
		return ErrInsufficientCapacity
	}
}

// StartCheckout binds a pending booking to an external checkout session and
// returns the provider redirect URL. A crash between session creation and the
// session-id write only risks an orphaned provider session, which self-expires
// and is handled by the expiry event.
func (s *Service) StartCheckout(ctx context.Context, bookingID uuid.UUID) (*domain.StartCheckoutResponse, error) {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.PaymentStatus == domain.PaymentStatusPaid {
		return nil, ErrBookingAlreadySettled
	}
	if booking.PaymentStatus != domain.PaymentStatusPending {
		return nil, ErrBookingNotPayable
	}
	if booking.TotalPrice <= 0 {
		return nil, ErrBookingNotPayable
	}

	sessionCtx, cancel := context.WithTimeout(ctx, s.checkoutTimeout)
	defer cancel()

	session, err := s.checkoutClient.CreateCheckoutSession(sessionCtx, checkout.SessionParams{
		Amount:        booking.TotalPrice,
		Currency:      s.currency,
		BookingID:     booking.ID.String(),
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		CustomerEmail: booking.CustomerEmail,
	})
	if err != nil {
		log.Printf("level=warn component=booking_service msg=\"checkout session creation failed\" booking_id=%s err=%v", booking.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}

	if err := s.repo.SetBookingCheckoutSession(ctx, booking.ID, session.ID); err != nil {
		return nil, fmt.Errorf("failed to record checkout session: %w", err)
	}

	log.Printf("level=info component=booking_service msg=\"checkout session opened\" booking_id=%s session_id=%s", booking.ID, session.ID)
	return &domain.StartCheckoutResponse{
		BookingID:   booking.ID,
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
	}, nil
}

// GetBookingStatus is a pure read used by client confirmation pages while they
// poll for the settlement outcome.
func (s *Service) GetBookingStatus(ctx context.Context, bookingID uuid.UUID) (*domain.BookingStatusResponse, error) {
	booking, err := s.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return &domain.BookingStatusResponse{
		BookingID:     booking.ID,
		PaymentStatus: booking.PaymentStatus,
		BookingStatus: booking.BookingStatus,
	}, nil
}

// publishBookingEvent emits a lifecycle event; delivery is best-effort and a
// broker outage never fails the booking operation itself.
func (s *Service) publishBookingEvent(ctx context.Context, routingKey string, booking *domain.Booking) {
	if s.eventProducer == nil {
		return
	}
	event := domain.BookingEvent{
		BookingID:     booking.ID,
		CourseID:      booking.CourseID,
		CustomerEmail: booking.CustomerEmail,
		Participants:  booking.Participants,
		TotalPrice:    booking.TotalPrice,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.eventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=booking_service msg=\"event publish failed\" routing_key=%s booking_id=%s err=%v", routingKey, booking.ID, err)
	}
}

func validateCreateBookingRequest(req domain.CreateBookingRequest) error {
	if req.CourseID == uuid.Nil {
		return fmt.Errorf("%w: course id is required", ErrInvalidRequest)
	}
	if req.Participants < 1 {
		return fmt.Errorf("%w: participants must be at least 1", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return fmt.Errorf("%w: customer name is required", ErrInvalidRequest)
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		return fmt.Errorf("%w: customer email is required", ErrInvalidRequest)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: customer email is not a valid address", ErrInvalidRequest)
	}
	return nil
}
