/**
 * @description
 * This file contains the HTTP handlers for the booking-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/coursekit/booking-service/internal/app"
	"github.com/coursekit/booking-service/internal/domain"
	"github.com/coursekit/booking-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// BookingHandlers holds the application services that handlers will use.
type BookingHandlers struct {
	service       *app.Service
	settlement    *app.SettlementProcessor
	webhookSecret string
}

// NewBookingHandlers creates a new instance of BookingHandlers.
func NewBookingHandlers(service *app.Service, settlement *app.SettlementProcessor, webhookSecret string) *BookingHandlers {
	return &BookingHandlers{
		service:       service,
		settlement:    settlement,
		webhookSecret: webhookSecret,
	}
}

// CreateBookingHandler handles booking creation. Guests supply their identity in
// the body; authenticated callers get empty identity fields pre-filled from the
// validated token.
func (h *BookingHandlers) CreateBookingHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if identity, ok := GetCustomerIdentity(r.Context()); ok {
		if strings.TrimSpace(req.CustomerEmail) == "" {
			req.CustomerEmail = identity.Email
		}
		if strings.TrimSpace(req.CustomerName) == "" {
			req.CustomerName = identity.Name
		}
	}

	booking, err := h.service.CreateBooking(r.Context(), req)
	if err != nil {
		var rateErr *app.RateLimitError
		switch {
		case errors.Is(err, app.ErrInvalidRequest):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrCourseNotFound):
			h.writeError(w, http.StatusNotFound, "Course not found")
		case errors.Is(err, app.ErrCourseNotBookable):
			h.writeError(w, http.StatusConflict, "Course is not open for booking")
		case errors.Is(err, app.ErrInsufficientCapacity):
			// The expected rejection under contention: a client error the
			// caller should show to the end user, not retry silently.
			h.writeError(w, http.StatusConflict, "Not enough seats available")
		case errors.As(err, &rateErr):
			w.Header().Set("Retry-After", fmt.Sprintf("%d", rateErr.RetryAfterSeconds))
			h.writeError(w, http.StatusTooManyRequests, "Too many booking attempts. Please wait and try again.")
		default:
			log.Printf("level=error component=api endpoint=create_booking msg=\"booking creation failed\" course_id=%s err=%v", req.CourseID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, booking)
}

// StartCheckoutHandler opens a provider checkout session for a pending booking
// and returns the redirect URL.
func (h *BookingHandlers) StartCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.parseBookingID(w, r)
	if !ok {
		return
	}

	resp, err := h.service.StartCheckout(r.Context(), bookingID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrBookingNotFound):
			h.writeError(w, http.StatusNotFound, "Booking not found")
		case errors.Is(err, app.ErrBookingAlreadySettled):
			h.writeError(w, http.StatusConflict, "Booking has already been paid")
		case errors.Is(err, app.ErrBookingNotPayable):
			h.writeError(w, http.StatusConflict, "Booking is not payable")
		case errors.Is(err, app.ErrCheckoutUnavailable):
			// Transient provider failure; the client may retry with backoff.
			h.writeError(w, http.StatusServiceUnavailable, "Checkout is temporarily unavailable. Please try again.")
		default:
			log.Printf("level=error component=api endpoint=start_checkout msg=\"checkout start failed\" booking_id=%s err=%v", bookingID, err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// BookingStatusHandler is the poll endpoint for confirmation pages.
func (h *BookingHandlers) BookingStatusHandler(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.parseBookingID(w, r)
	if !ok {
		return
	}

	status, err := h.service.GetBookingStatus(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, store.ErrBookingNotFound) {
			h.writeError(w, http.StatusNotFound, "Booking not found")
			return
		}
		log.Printf("level=error component=api endpoint=booking_status msg=\"status lookup failed\" booking_id=%s err=%v", bookingID, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, status)
}

func (h *BookingHandlers) parseBookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "bookingID")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "Booking ID is required")
		return uuid.Nil, false
	}
	bookingID, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid booking ID format")
		return uuid.Nil, false
	}
	return bookingID, true
}

// writeJSON is a helper for writing JSON responses.
func (h *BookingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BookingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
