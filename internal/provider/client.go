// Package provider is the typed client for the external venue/event catalog.
// Connection failures are retried within a configured budget; structured
// application errors and rate limits are surfaced as distinct error types so
// callers can retry, back off, or fail fast.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/config"
	"github.com/concerthall/reservations/internal/observability"
)

const defaultRetryAfter = time.Hour

// Gate remembers a provider-issued rate limit so subsequent calls fail fast
// until the retry-after window elapses. Implemented by the redis adapter; a
// nil gate disables the check.
type Gate interface {
	Blocked(ctx context.Context) (time.Duration, error)
	Block(ctx context.Context, d time.Duration) error
}

type Client struct {
	httpc        *http.Client
	baseURL      string
	apiKey       string
	maxAttempts  int
	backoffDelay time.Duration
	gate         Gate
	logger       observability.Logger
}

func NewClient(cfg config.Provider, gate Gate, logger observability.Logger) *Client {
	return &Client{
		httpc:        &http.Client{Timeout: cfg.Timeout},
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		maxAttempts:  cfg.MaxAttempts,
		backoffDelay: cfg.BackoffDelay,
		gate:         gate,
		logger:       logger,
	}
}

func (c *Client) ListVenues(ctx context.Context, filters map[string]string) ([]Venue, error) {
	page, err := call[paginated[Venue]](ctx, c, "list_venues", http.MethodGet, "/venues", values(filters), nil)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (c *Client) GetVenue(ctx context.Context, venueID string) (*Venue, error) {
	v, err := call[Venue](ctx, c, "get_venue", http.MethodGet, "/venues/"+url.PathEscape(venueID), nil, nil)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *Client) ListEvents(ctx context.Context, filters map[string]string) ([]Event, error) {
	page, err := call[paginated[Event]](ctx, c, "list_events", http.MethodGet, "/events", values(filters), nil)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

func (c *Client) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	e, err := call[Event](ctx, c, "get_event", http.MethodGet, "/events/"+url.PathEscape(eventID), nil, nil)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) CheckAvailability(ctx context.Context, eventID string) (*Availability, error) {
	a, err := call[Availability](ctx, c, "check_availability", http.MethodGet, "/events/"+url.PathEscape(eventID)+"/availability", nil, nil)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) CreateReservation(ctx context.Context, req ReservationRequest) (*Reservation, error) {
	r, err := call[Reservation](ctx, c, "create_reservation", http.MethodPost, "/reservations", nil, req)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	r, err := call[Reservation](ctx, c, "get_reservation", http.MethodGet, "/reservations/"+url.PathEscape(reservationID), nil, nil)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) CancelReservation(ctx context.Context, reservationID string) error {
	_, err := call[struct{}](ctx, c, "cancel_reservation", http.MethodDelete, "/reservations/"+url.PathEscape(reservationID), nil, nil)
	return err
}

func (c *Client) ConfirmPayment(ctx context.Context, reservationID string, req PaymentConfirmation) (*Reservation, error) {
	r, err := call[Reservation](ctx, c, "confirm_payment", http.MethodPost, "/reservations/"+url.PathEscape(reservationID)+"/confirm-payment", nil, req)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListCustomerReservations(ctx context.Context, customerEmail string) ([]Reservation, error) {
	q := url.Values{"customerEmail": []string{customerEmail}}
	page, err := call[paginated[Reservation]](ctx, c, "list_customer_reservations", http.MethodGet, "/reservations", q, nil)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

func call[T any](ctx context.Context, c *Client, op, method, path string, query url.Values, body any) (T, error) {
	var out T

	if c.gate != nil {
		remaining, err := c.gate.Blocked(ctx)
		if err != nil {
			c.logger.WithError(err).Warn("rate limit gate check failed")
		} else if remaining > 0 {
			observability.ProviderRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
			return out, &RateLimitError{Message: "provider cooldown active", RetryAfter: remaining}
		}
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return out, errors.Wrap(err, "encode request body")
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	started := time.Now()
	resp, err := c.do(ctx, op, method, target, payload)
	observability.ProviderRequestDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(op, "connection_failure").Inc()
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		observability.ProviderRequestsTotal.WithLabelValues(op, "rate_limited").Inc()
		return out, c.rateLimited(ctx, resp)
	}
	if resp.StatusCode >= 400 {
		observability.ProviderRequestsTotal.WithLabelValues(op, "api_error").Inc()
		return out, apiError(resp)
	}

	observability.ProviderRequestsTotal.WithLabelValues(op, "ok").Inc()
	if resp.StatusCode == http.StatusNoContent {
		return out, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return out, &ConnectionError{Op: op, Err: errors.Wrap(err, "decode response")}
	}
	return out, nil
}

// do retries transport-level failures only. Application errors come back as
// responses and are classified by the caller without retrying.
func (c *Client) do(ctx context.Context, op, method, target string, payload []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, &ConnectionError{Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
		if err != nil {
			return nil, errors.Wrap(err, "build request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpc.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		c.logger.WithField("operation", op).WithField("attempt", attempt+1).WithError(err).Warn("provider call failed")
	}
	return nil, &ConnectionError{Op: op, Err: lastErr}
}

func (c *Client) rateLimited(ctx context.Context, resp *http.Response) error {
	retryAfter := defaultRetryAfter
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	var eb errorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)

	if c.gate != nil {
		if err := c.gate.Block(ctx, retryAfter); err != nil {
			c.logger.WithError(err).Warn("failed to record provider cooldown")
		}
	}
	return &RateLimitError{Message: eb.Message, RetryAfter: retryAfter}
}

func apiError(resp *http.Response) error {
	var eb errorBody
	if err := json.NewDecoder(resp.Body).Decode(&eb); err != nil || eb.Message == "" {
		eb.Message = resp.Status
	}
	return &APIError{Code: eb.Error, Message: eb.Message}
}

func values(filters map[string]string) url.Values {
	if len(filters) == 0 {
		return nil
	}
	q := url.Values{}
	for k, v := range filters {
		q.Set(k, v)
	}
	return q
}
