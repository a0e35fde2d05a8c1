package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Checkout statuses reported by GET /api/v1/bookings/status.
const (
	StatusNotFound  = "not_found"
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Poll outcomes. TakingLonger is not an error: the payment may still
// complete and the confirmation email will still arrive.
const (
	OutcomeConfirmed    = "confirmed"
	OutcomeFailed       = "failed"
	OutcomeTakingLonger = "taking_longer"
)

// BookingSummary is the public view of a confirmed booking.
type BookingSummary struct {
	UID           string    `json:"uid"`
	Title         string    `json:"title"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	Status        string    `json:"status"`
	GuestName     string    `json:"guest_name"`
	GuestTimezone string    `json:"guest_timezone"`
	Location      string    `json:"location,omitempty"`
}

type StatusResponse struct {
	Status  string          `json:"status"`
	Booking *BookingSummary `json:"booking,omitempty"`
}

// Client calls the public booking endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// BookingStatus fetches the reconciliation status of a checkout session.
func (c *Client) BookingStatus(ctx context.Context, sessionID string) (*StatusResponse, error) {
	endpoint := fmt.Sprintf("%s/api/v1/bookings/status?session_id=%s", c.baseURL, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	var out StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &out, nil
}

// PollResult is the final state of a poll.
type PollResult struct {
	Outcome  string
	Booking  *BookingSummary
	Attempts int
}

// StatusPoller asks for the checkout status at a fixed interval until the
// booking is confirmed, the payment failed or the attempts run out.
type StatusPoller struct {
	client      *Client
	interval    time.Duration
	maxAttempts int
}

func NewStatusPoller(c *Client, interval time.Duration, maxAttempts int) *StatusPoller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &StatusPoller{client: c, interval: interval, maxAttempts: maxAttempts}
}

// Poll returns an error only when ctx ends. Request failures count as
// attempts.
func (p *StatusPoller) Poll(ctx context.Context, sessionID string) (*PollResult, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		resp, err := p.client.BookingStatus(ctx, sessionID)
		if err == nil {
			switch resp.Status {
			case StatusConfirmed:
				return &PollResult{Outcome: OutcomeConfirmed, Booking: resp.Booking, Attempts: attempt}, nil
			case StatusFailed:
				return &PollResult{Outcome: OutcomeFailed, Attempts: attempt}, nil
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt >= p.maxAttempts {
			return &PollResult{Outcome: OutcomeTakingLonger, Attempts: attempt}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
