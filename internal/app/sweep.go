package app

import (
	"context"
	"log"
	"time"

	"github.com/coursekit/booking-service/internal/domain"
	"github.com/coursekit/booking-service/internal/store"
	"github.com/coursekit/booking-service/pkg/rabbitmq"
)

const staleCheckoutSweepBatchSize = 100

// StaleCheckoutSweeper fails and releases bookings whose checkout never produced
// any provider event, e.g. during a provider outage. Without it, a lost expiry
// notification leaves the booking pending and its seats committed forever. The
// sweep is opt-in: it only runs when a cron schedule is configured.
type StaleCheckoutSweeper struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher
	eventExchange string
	maxPendingAge time.Duration
}

func NewStaleCheckoutSweeper(repo store.Repository, producer rabbitmq.Publisher, eventExchange string, maxPendingAge time.Duration) *StaleCheckoutSweeper {
	if maxPendingAge <= 0 {
		maxPendingAge = 24 * time.Hour
	}
	return &StaleCheckoutSweeper{
		repo:          repo,
		eventProducer: producer,
		eventExchange: eventExchange,
		maxPendingAge: maxPendingAge,
	}
}

// SweepOnce fails every booking still pending past the configured age, reusing
// the settlement store transaction so each booking releases its seats exactly
// once even if a webhook lands mid-sweep.
func (s *StaleCheckoutSweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.maxPendingAge)

	stale, err := s.repo.FindStalePendingBookings(ctx, cutoff, staleCheckoutSweepBatchSize)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range stale {
		booking := stale[i]
		applied, err := s.repo.MarkBookingFailedAndRelease(ctx, booking.ID)
		if err != nil {
			log.Printf("level=error component=stale_sweep msg=\"failed to settle stale booking\" booking_id=%s err=%v", booking.ID, err)
			continue
		}
		if !applied {
			// A webhook settled it between the listing and the update.
			continue
		}
		released++

		if s.eventProducer != nil {
			event := domain.BookingEvent{
				BookingID:     booking.ID,
				CourseID:      booking.CourseID,
				CustomerEmail: booking.CustomerEmail,
				Participants:  booking.Participants,
				TotalPrice:    booking.TotalPrice,
				Timestamp:     time.Now().UTC(),
			}
			if err := s.eventProducer.Publish(ctx, s.eventExchange, rabbitmq.RoutingKeyBookingPaymentFailed, event); err != nil {
				log.Printf("level=warn component=stale_sweep msg=\"event publish failed\" booking_id=%s err=%v", booking.ID, err)
			}
		}
	}

	if released > 0 {
		log.Printf("level=info component=stale_sweep msg=\"released stale pending bookings\" count=%d cutoff=%s", released, cutoff.UTC().Format(time.RFC3339))
	}
	return released, nil
}

// Run is the cron entrypoint; it bounds each pass with its own timeout.
func (s *StaleCheckoutSweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if _, err := s.SweepOnce(ctx); err != nil {
		log.Printf("level=error component=stale_sweep msg=\"sweep pass failed\" err=%v", err)
	}
}
