package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/coursekit/booking-service/internal/domain"
	"github.com/coursekit/booking-service/internal/store"
	"github.com/coursekit/booking-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

// SettlementProcessor is the state machine that reacts to asynchronous payment
// outcomes. It is the sole writer of terminal booking state and the sole trigger
// of capacity release. Events arrive at-least-once and possibly out of order;
// every transition is guarded by the booking's current payment status, so
// duplicate and stale deliveries are no-ops rather than double-applications.
type SettlementProcessor struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	eventExchange string
}

func NewSettlementProcessor(repo store.Repository, producer rabbitmq.Publisher, eventExchange string) *SettlementProcessor {
	return &SettlementProcessor{
		repo:          repo,
		eventProducer: producer,
		eventExchange: eventExchange,
	}
}

// ProcessEvent dispatches one provider event. A nil return acknowledges the
// event; a non-nil return tells the caller to answer the provider with an error
// so its at-least-once redelivery kicks in. The guards make those retries safe.
func (p *SettlementProcessor) ProcessEvent(ctx context.Context, event domain.CheckoutEvent) error {
	bookingID, err := uuid.Parse(event.BookingID)
	if err != nil {
		log.Printf("level=warn component=settlement msg=\"event carries no usable booking id; dropping\" type=%s session_id=%s booking_id=%q", event.Type, event.SessionID, event.BookingID)
		return nil
	}

	// Resolve by the correlation id we attached at session creation, not by
	// session-ref lookup, to avoid ambiguity.
	booking, err := p.repo.FindBookingByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, store.ErrBookingNotFound) {
			// A booking this system never created is not actionable. Logged
			// rather than retried: it may indicate a data-consistency bug.
			log.Printf("level=warn component=settlement msg=\"event references unknown booking; dropping\" type=%s booking_id=%s session_id=%s", event.Type, bookingID, event.SessionID)
			return nil
		}
		return fmt.Errorf("failed to resolve booking %s: %w", bookingID, err)
	}

	switch event.Type {
	case domain.CheckoutEventPaymentSucceeded:
		return p.handleSuccess(ctx, booking, event)
	case domain.CheckoutEventSessionExpired, domain.CheckoutEventPaymentFailed:
		// Two different provider events can report failure for the same booking;
		// both funnel through the identical guarded transition.
		return p.handleFailure(ctx, booking, event)
	default:
		log.Printf("level=info component=settlement msg=\"ignoring event type\" type=%s booking_id=%s", event.Type, bookingID)
		return nil
	}
}

// handleSuccess applies the paid/confirmed transition. Capacity is not touched:
// the seats were committed at reservation time, so payment success is a pure
// status transition, never a second capacity mutation.
func (p *SettlementProcessor) handleSuccess(ctx context.Context, booking *domain.Booking, event domain.CheckoutEvent) error {
	applied, err := p.repo.MarkBookingPaid(ctx, booking.ID, event.PaymentRef)
	if err != nil {
		return fmt.Errorf("failed to confirm booking %s: %w", booking.ID, err)
	}
	if !applied {
		log.Printf("level=info component=settlement msg=\"duplicate success event; already settled\" booking_id=%s payment_status=%s", booking.ID, booking.PaymentStatus)
		return nil
	}

	p.publishBookingEvent(ctx, rabbitmq.RoutingKeyBookingConfirmed, booking)
	log.Printf("level=info component=settlement msg=\"booking confirmed\" booking_id=%s payment_ref=%s", booking.ID, event.PaymentRef)
	return nil
}

// handleFailure applies the failed transition and the seat release in one store
// transaction. The pending-status guard is what prevents a double release when
// the expiry event itself is delivered twice, and what keeps an expiry racing
// behind a success from regressing a confirmed booking.
func (p *SettlementProcessor) handleFailure(ctx context.Context, booking *domain.Booking, event domain.CheckoutEvent) error {
	applied, err := p.repo.MarkBookingFailedAndRelease(ctx, booking.ID)
	if err != nil {
		return fmt.Errorf("failed to settle booking %s as failed: %w", booking.ID, err)
	}
	if !applied {
		log.Printf("level=info component=settlement msg=\"failure event for settled booking; no-op\" booking_id=%s type=%s payment_status=%s", booking.ID, event.Type, booking.PaymentStatus)
		return nil
	}

	p.publishBookingEvent(ctx, rabbitmq.RoutingKeyBookingPaymentFailed, booking)
	log.Printf("level=info component=settlement msg=\"booking failed and seats released\" booking_id=%s course_id=%s seats=%d type=%s", booking.ID, booking.CourseID, booking.Participants, event.Type)
	return nil
}

func (p *SettlementProcessor) publishBookingEvent(ctx context.Context, routingKey string, booking *domain.Booking) {
	if p.eventProducer == nil {
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
	if err := p.eventProducer.Publish(ctx, p.eventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=settlement msg=\"event publish failed\" routing_key=%s booking_id=%s err=%v", routingKey, booking.ID, err)
	}
}
