package domain

import "time"

// Checkout event kinds emitted by the payment provider. Delivery is at-least-once
// and may be reordered; the settlement processor must tolerate duplicates.
const (
	CheckoutEventPaymentSucceeded = "payment_succeeded"
	CheckoutEventSessionExpired   = "session_expired"
	CheckoutEventPaymentFailed    = "payment_failed"
)

// CheckoutEvent represents a webhook notification from the payment provider.
// BookingID is the correlation id we attached to the checkout session at creation;
// it, not the session id, is what settlement resolves bookings by.
type CheckoutEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	SessionID  string    `json:"session_id"`
	PaymentRef string    `json:"payment_ref"`
	BookingID  string    `json:"booking_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
