/**
 * @description
 * This file sets up the HTTP router for the booking-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the browser clients of the CMS.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// BookingRoutes creates and returns the router for the booking service.
func BookingRoutes(h *BookingHandlers, jwksURL string, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Provider callback; authenticated by HMAC signature, never by JWT.
	r.Post("/webhooks/checkout", h.CheckoutWebhookHandler)

	r.Route("/bookings", func(r chi.Router) {
		// Booking creation accepts guests; a presented token pre-fills identity.
		r.Use(OptionalAuthMiddleware(jwksURL))

		r.Post("/", h.CreateBookingHandler)
		r.Post("/{bookingID}/checkout", h.StartCheckoutHandler)
		r.Get("/{bookingID}/status", h.BookingStatusHandler)
	})

	return r
}
