/**
 * @description
 * This file contains the webhook endpoint the payment provider calls with
 * asynchronous checkout outcomes. Every delivery is authenticated with an
 * HMAC-SHA256 signature over the raw body before any processing happens; an
 * unverifiable payload is rejected outright, never queued or partially applied.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: Signature verification.
 * - internal/app, internal/domain: Settlement processing and event payloads.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/coursekit/booking-service/internal/domain"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Checkout-Signature"

// maxWebhookBodyBytes bounds provider payloads; real events are tiny.
const maxWebhookBodyBytes = 64 * 1024

// CheckoutWebhookHandler receives provider events and feeds them to the
// settlement processor. A processing failure answers 500 so the provider's
// at-least-once redelivery retries the event; the settlement guards make that
// safe.
func (h *BookingHandlers) CheckoutWebhookHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	if !h.verifySignature(body, r.Header.Get(SignatureHeader)) {
		log.Printf("level=warn component=webhook msg=\"signature verification failed; dropping event\" remote=%s", r.RemoteAddr)
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event struct {
		EventID    string `json:"event_id"`
		Type       string `json:"type"`
		SessionID  string `json:"session_id"`
		PaymentRef string `json:"payment_ref"`
		Metadata   struct {
			BookingID string `json:"booking_id"`
		} `json:"metadata"`
		BookingID string `json:"booking_id"`
		Reason    string `json:"reason"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid event payload")
		return
	}

	// Providers differ on whether correlation metadata is nested; accept both.
	bookingID := event.BookingID
	if bookingID == "" {
		bookingID = event.Metadata.BookingID
	}

	checkoutEvent := domain.CheckoutEvent{
		EventID:    event.EventID,
		Type:       event.Type,
		SessionID:  event.SessionID,
		PaymentRef: event.PaymentRef,
		BookingID:  bookingID,
		Reason:     event.Reason,
	}

	if err := h.settlement.ProcessEvent(r.Context(), checkoutEvent); err != nil {
		log.Printf("level=error component=webhook msg=\"settlement processing failed; provider will retry\" type=%s booking_id=%s err=%v", event.Type, bookingID, err)
		h.writeError(w, http.StatusInternalServerError, "Event processing failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// verifySignature compares the provider's signature against our own HMAC of the
// raw body in constant time. A missing secret means the deployment is
// misconfigured, and everything is rejected rather than waved through.
func (h *BookingHandlers) verifySignature(body []byte, signature string) bool {
	if h.webhookSecret == "" {
		return false
	}

	signature = strings.TrimSpace(strings.TrimPrefix(signature, "sha256="))
	if signature == "" {
		return false
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
