package catalog

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateEventParams carries the writable fields of a new event.
type CreateEventParams struct {
	Name        string
	Description string
	EventAt     time.Time
	Capacity    int
	Price       decimal.Decimal
	VenueID     uuid.UUID
}

// CreateEvent adds a locally owned event in DRAFT state. ADMIN may create
// against any venue; POWER_USER only against an assigned one.
func (s *Service) CreateEvent(ctx context.Context, user *domain.User, p CreateEventParams) (*domain.Event, error) {
	if err := s.authorizeVenue(user, p.VenueID); err != nil {
		return nil, err
	}
	venue, err := s.store.VenueByID(ctx, p.VenueID)
	if err != nil {
		return nil, err
	}
	if venue.ForeignID != nil {
		return nil, errors.Wrap(domain.ErrForbidden, "cannot create events on a provider-owned venue")
	}

	switch {
	case p.Name == "":
		return nil, errors.Wrap(domain.ErrInvalidEventState, "event name is required")
	case p.Capacity < 1:
		return nil, errors.Wrap(domain.ErrInvalidEventState, "capacity must be at least 1")
	case p.Capacity > venue.Capacity:
		return nil, errors.Wrapf(domain.ErrInvalidEventState, "capacity %d exceeds venue capacity %d", p.Capacity, venue.Capacity)
	case p.Price.IsNegative():
		return nil, errors.Wrap(domain.ErrInvalidEventState, "price cannot be negative")
	case !p.EventAt.After(time.Now().UTC()):
		return nil, errors.Wrap(domain.ErrInvalidEventState, "event date must be in the future")
	}

	event := &domain.Event{
		ID:          uuid.New(),
		Name:        p.Name,
		Description: p.Description,
		EventAt:     p.EventAt.UTC(),
		Capacity:    p.Capacity,
		Price:       p.Price,
		Status:      domain.EventDraft,
		VenueID:     p.VenueID,
	}
	if err := s.store.UpsertEvent(ctx, event); err != nil {
		return nil, err
	}
	s.logger.WithField("event_id", event.ID).WithField("venue_id", p.VenueID).Info("event created")
	return event, nil
}

// UpdateEventStatus moves a local event through its lifecycle
// (DRAFT, PUBLISHED, CANCELLED).
func (s *Service) UpdateEventStatus(ctx context.Context, user *domain.User, eventID uuid.UUID, status domain.EventStatus) (*domain.Event, error) {
	switch status {
	case domain.EventDraft, domain.EventPublished, domain.EventCancelled:
	default:
		return nil, errors.Wrapf(domain.ErrInvalidEventState, "unknown event status %q", status)
	}

	event, err := s.store.EventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.External() {
		return nil, errors.Wrap(domain.ErrForbidden, "provider-owned events are managed upstream")
	}
	if err := s.authorizeVenue(user, event.VenueID); err != nil {
		return nil, err
	}

	event.Status = status
	if err := s.store.UpsertEvent(ctx, event); err != nil {
		return nil, err
	}
	s.logger.WithField("event_id", eventID).WithField("status", status).Info("event status updated")
	return event, nil
}

// SalesView is the operator-facing sales summary for one event.
type SalesView struct {
	Event       domain.Event
	TicketsSold int64
	Revenue     decimal.Decimal
	Remaining   int64
}

// EventSales reports paid tickets and revenue for an event the user manages.
func (s *Service) EventSales(ctx context.Context, user *domain.User, eventID uuid.UUID) (*SalesView, error) {
	event, err := s.store.EventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeVenue(user, event.VenueID); err != nil {
		return nil, err
	}

	sold, revenue, err := s.store.EventSales(ctx, eventID)
	if err != nil {
		return nil, err
	}
	active, err := s.store.ActiveTicketCount(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return &SalesView{
		Event:       *event,
		TicketsSold: sold,
		Revenue:     revenue,
		Remaining:   int64(event.Capacity) - active,
	}, nil
}

func (s *Service) authorizeVenue(user *domain.User, venueID uuid.UUID) error {
	switch user.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RolePowerUser:
		if user.HasVenue(venueID) {
			return nil
		}
	}
	return errors.Wrap(domain.ErrForbidden, "venue is not managed by this user")
}
