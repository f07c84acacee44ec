/**
 * @description
 * This package provides a client for the external payment provider's checkout API.
 * It encapsulates the logic for making authenticated HTTP requests to the provider's
 * endpoints, handling request body construction, and parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payment provider's checkout API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new checkout API client. The timeout bounds the only
// synchronous network call the booking flow makes.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SessionParams carries everything the provider needs to open a checkout session.
// BookingID travels as correlation metadata and comes back on every webhook event.
type SessionParams struct {
	Amount        int64
	Currency      string
	BookingID     string
	SuccessURL    string
	CancelURL     string
	CustomerEmail string
}

// CreateSessionRequest represents the payload for the provider's session endpoint.
type CreateSessionRequest struct {
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
	Customer   struct {
		Email string `json:"email"`
	} `json:"customer"`
	Metadata struct {
		BookingID string `json:"booking_id"`
	} `json:"metadata"`
}

// Session is the provider's representation of an opened checkout session.
type Session struct {
	ID          string `json:"id"`
	RedirectURL string `json:"redirect_url"`
	ExpiresAt   string `json:"expires_at"`
}

// ErrorResponse represents an error from the provider API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("checkout api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown checkout api error"
}

// CreateCheckoutSession opens a new hosted checkout session for a booking.
func (c *Client) CreateCheckoutSession(ctx context.Context, params SessionParams) (*Session, error) {
	reqPayload := CreateSessionRequest{
		Amount:     params.Amount,
		Currency:   params.Currency,
		SuccessURL: params.SuccessURL,
		CancelURL:  params.CancelURL,
	}
	reqPayload.Customer.Email = params.CustomerEmail
	reqPayload.Metadata.BookingID = params.BookingID

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/checkout/sessions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute session request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=checkout_client op=create_session status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=checkout_client op=create_session status=%d title=%q detail=%q", resp.StatusCode, firstErrorTitle(errResp), firstErrorDetail(errResp))
		return nil, &errResp
	}

	var session Session
	if err := json.Unmarshal(bodyBytes, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}

	if session.ID == "" || session.RedirectURL == "" {
		return nil, fmt.Errorf("checkout session response missing id or redirect url")
	}

	return &session, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}

func firstErrorDetail(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Detail
}
