// Package http exposes the REST surface: catalog browsing, ticket booking and
// cancellation, payment callbacks, and health endpoints.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/concerthall/reservations/internal/booking"
	"github.com/concerthall/reservations/internal/catalog"
	"github.com/concerthall/reservations/internal/config"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/provider"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Handlers struct {
	cfg     *config.Config
	catalog *catalog.Service
	booking *booking.Service
	logger  observability.Logger
	ready   func(ctx context.Context) error
}

func NewHandlers(cfg *config.Config, cat *catalog.Service, book *booking.Service, logger observability.Logger, ready func(ctx context.Context) error) *Handlers {
	return &Handlers{cfg: cfg, catalog: cat, booking: book, logger: logger, ready: ready}
}

type eventResponse struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	EventAt          time.Time `json:"event_at"`
	Capacity         int       `json:"capacity"`
	Price            string    `json:"price"`
	Status           string    `json:"status"`
	VenueID          uuid.UUID `json:"venue_id"`
	VenueName        string    `json:"venue_name,omitempty"`
	External         bool      `json:"external"`
	AvailableTickets int64     `json:"available_tickets"`
}

func toEventResponse(v catalog.EventView) eventResponse {
	return eventResponse{
		ID:               v.ID,
		Name:             v.Name,
		Description:      v.Description,
		EventAt:          v.EventAt,
		Capacity:         v.Capacity,
		Price:            v.Price.StringFixed(2),
		Status:           string(v.Status),
		VenueID:          v.VenueID,
		VenueName:        v.VenueName,
		External:         v.Event.External(),
		AvailableTickets: v.AvailableTickets,
	}
}

type ticketResponse struct {
	ID               uuid.UUID  `json:"id"`
	TicketNumber     string     `json:"ticket_number"`
	EventID          uuid.UUID  `json:"event_id"`
	EventName        string     `json:"event_name,omitempty"`
	EventAt          *time.Time `json:"event_at,omitempty"`
	Price            string     `json:"price"`
	Status           string     `json:"status"`
	ReservedAt       time.Time  `json:"reserved_at"`
	PaymentExpiresAt *time.Time `json:"payment_expires_at,omitempty"`
	External         bool       `json:"external"`
	Tracked          bool       `json:"tracked"`
}

func toTicketResponse(t *domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:               t.ID,
		TicketNumber:     t.TicketNumber,
		EventID:          t.EventID,
		Price:            t.Price.StringFixed(2),
		Status:           string(t.Status),
		ReservedAt:       t.ReservedAt,
		PaymentExpiresAt: t.PaymentExpiresAt,
		External:         t.External(),
		Tracked:          true,
	}
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r.Context())
	customerView := r.URL.Query().Get("view") == "customer"

	views, err := h.catalog.ListEvents(r.Context(), user, customerView)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]eventResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toEventResponse(v))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	view, err := h.catalog.GetEventByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toEventResponse(*view))
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string    `json:"name"`
		Description string    `json:"description"`
		EventAt     time.Time `json:"event_at"`
		Capacity    int       `json:"capacity"`
		Price       string    `json:"price"`
		VenueID     uuid.UUID `json:"venue_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		http.Error(w, "invalid price", http.StatusBadRequest)
		return
	}

	event, err := h.catalog.CreateEvent(r.Context(), requestUser(r.Context()), catalog.CreateEventParams{
		Name:        req.Name,
		Description: req.Description,
		EventAt:     req.EventAt,
		Capacity:    req.Capacity,
		Price:       price,
		VenueID:     req.VenueID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toEventResponse(catalog.EventView{Event: *event, AvailableTickets: int64(event.Capacity)}))
}

func (h *Handlers) UpdateEventStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	event, err := h.catalog.UpdateEventStatus(r.Context(), requestUser(r.Context()), id, domain.EventStatus(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"id": event.ID, "status": event.Status})
}

func (h *Handlers) GetEventSales(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	sales, err := h.catalog.EventSales(r.Context(), requestUser(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"event_id":     sales.Event.ID,
		"event_name":   sales.Event.Name,
		"tickets_sold": sales.TicketsSold,
		"revenue":      sales.Revenue.StringFixed(2),
		"remaining":    sales.Remaining,
	})
}

func (h *Handlers) ListVenues(w http.ResponseWriter, r *http.Request) {
	venues, err := h.catalog.ListVenues(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(venues))
	for _, v := range venues {
		out = append(out, venueBody(&v))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetVenue(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid venue id", http.StatusBadRequest)
		return
	}
	venue, err := h.catalog.GetVenueByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, venueBody(venue))
}

func venueBody(v *domain.Venue) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"name":        v.Name,
		"address":     v.Address,
		"description": v.Description,
		"capacity":    v.Capacity,
		"source":      v.Source,
	}
}

func (h *Handlers) ReserveTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID uuid.UUID `json:"event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ticket, err := h.booking.Reserve(r.Context(), req.EventID, requestUser(r.Context()).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toTicketResponse(ticket))
}

func (h *Handlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	views, err := h.booking.ListUserTickets(r.Context(), requestUser(r.Context()).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ticketResponse, 0, len(views))
	for _, v := range views {
		resp := toTicketResponse(&v.Ticket)
		resp.EventName = v.EventName
		resp.EventAt = v.EventAt
		resp.Tracked = v.Tracked
		out = append(out, resp)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid ticket id", http.StatusBadRequest)
		return
	}
	ticket, err := h.booking.GetTicket(r.Context(), id, requestUser(r.Context()).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toTicketResponse(ticket))
}

func (h *Handlers) CancelTicket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid ticket id", http.StatusBadRequest)
		return
	}
	if err := h.booking.Cancel(r.Context(), id, requestUser(r.Context()).ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PaymentCallback receives the payment gateway's asynchronous result for a
// ticket's hold.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TicketID  uuid.UUID `json:"ticket_id"`
		PaymentID string    `json:"payment_id"`
		Status    string    `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	switch req.Status {
	case "succeeded":
		err = h.booking.ConfirmPayment(r.Context(), req.TicketID, req.PaymentID)
	case "failed":
		err = h.booking.MarkPaymentFailed(r.Context(), req.TicketID)
	default:
		http.Error(w, "unknown payment status", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"ticket_id": req.TicketID, "status": req.Status})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.WithError(err).Error("failed to encode response")
	}
}

// writeError maps domain and provider errors onto HTTP statuses. Access
// denials surface as 404 upstream of here, so 403 only appears for
// management operations.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var rateLimited *provider.RateLimitError
	var connection *provider.ConnectionError
	var api *provider.APIError

	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateTicket):
		http.Error(w, "user already holds a ticket for this event", http.StatusConflict)
	case errors.Is(err, domain.ErrInsufficientCapacity):
		http.Error(w, "event is sold out", http.StatusConflict)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidEventState):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, domain.ErrDependencyMissing):
		http.Error(w, "upstream record could not be resolved", http.StatusBadGateway)
	case errors.Is(err, domain.ErrCriticalInconsistency):
		http.Error(w, "payment recorded but confirmation failed, support has been notified", http.StatusInternalServerError)
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		http.Error(w, "provider rate limit exceeded", http.StatusServiceUnavailable)
	case errors.As(err, &connection):
		http.Error(w, "provider unavailable", http.StatusServiceUnavailable)
	case errors.As(err, &api):
		http.Error(w, "provider rejected the request", http.StatusBadGateway)
	default:
		requestLogger(r.Context(), h.logger).WithError(err).Error("request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
