// Package booking owns the ticket lifecycle: capacity- and duplicate-safe
// reservation against local events, the saga for provider-backed events, and
// the payment-hold expiration sweep.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/provider"
	"github.com/google/uuid"
)

// Store is the persistence surface the booking service consumes. WithEventLock
// must serialize callers per event id: the read-check-insert sequence inside
// fn runs under an exclusive lock scoped to that one event row.
type Store interface {
	WithEventLock(ctx context.Context, eventID uuid.UUID, fn func(tx EventTx) error) error
	EventByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	UserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	TicketByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error)
	TicketsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Ticket, error)
	TicketByForeignReservation(ctx context.Context, foreignReservationID string) (*domain.Ticket, error)
	InsertTicket(ctx context.Context, t *domain.Ticket) error

	// UpdateTicketStatus is a compare-and-set keyed by primary id; it returns
	// domain.ErrNotFound when no row matched (absent or already transitioned).
	UpdateTicketStatus(ctx context.Context, id uuid.UUID, from, to domain.TicketStatus) error
	// MarkTicketPaid transitions PENDING_PAYMENT to PAID, clears the payment
	// deadline and, when ticketNumber is non-empty, adopts it.
	MarkTicketPaid(ctx context.Context, id uuid.UUID, ticketNumber string) error

	ExpiredPendingTickets(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error)

	// AppendOutbox stages a lifecycle event for the outbox publisher.
	AppendOutbox(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) error
}

// EventTx is the view available while holding an event's lock.
type EventTx interface {
	Event() *domain.Event
	HasActiveTicket(ctx context.Context, userID uuid.UUID) (bool, error)
	ActiveTicketCount(ctx context.Context) (int64, error)
	InsertTicket(ctx context.Context, t *domain.Ticket) error
	AppendOutbox(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) error
}

// Remote is the slice of the provider client the saga consumes.
type Remote interface {
	CheckAvailability(ctx context.Context, eventID string) (*provider.Availability, error)
	CreateReservation(ctx context.Context, req provider.ReservationRequest) (*provider.Reservation, error)
	CancelReservation(ctx context.Context, reservationID string) error
	ConfirmPayment(ctx context.Context, reservationID string, req provider.PaymentConfirmation) (*provider.Reservation, error)
	ListCustomerReservations(ctx context.Context, customerEmail string) ([]provider.Reservation, error)
}

// Placeholders resolves a foreign event id to its local shadow row, creating
// the placeholder (and its venue) on first sight.
type Placeholders interface {
	EventByForeignID(ctx context.Context, foreignID string) (*domain.Event, error)
}

// Audit receives the operator-facing trail of saga compensations and payment
// inconsistencies.
type Audit interface {
	LogCompensation(ctx context.Context, userID uuid.UUID, foreignReservationID, reason string, cancelErr error)
	LogInconsistency(ctx context.Context, userID, ticketID uuid.UUID, foreignReservationID, paymentID string, cause error)
}

// Alerter publishes alerts that must reach operators immediately, bypassing
// the outbox.
type Alerter interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

type Service struct {
	store        Store
	remote       Remote
	placeholders Placeholders
	audit        Audit
	alerts       Alerter
	logger       observability.Logger
	holdTTL      time.Duration
}

func NewService(store Store, remote Remote, placeholders Placeholders, audit Audit, alerts Alerter, logger observability.Logger, holdTTL time.Duration) *Service {
	return &Service{
		store:        store,
		remote:       remote,
		placeholders: placeholders,
		audit:        audit,
		alerts:       alerts,
		logger:       logger,
		holdTTL:      holdTTL,
	}
}

// Reserve books one ticket on the event for the user. Events shadowing a
// provider record route through the external saga; local events go through
// the lock-protected capacity check.
func (s *Service) Reserve(ctx context.Context, eventID, userID uuid.UUID) (*domain.Ticket, error) {
	event, err := s.store.EventByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.External() {
		return s.ReserveExternal(ctx, *event.ForeignID, userID)
	}
	return s.reserveLocal(ctx, eventID, userID)
}

func (s *Service) reserveLocal(ctx context.Context, eventID, userID uuid.UUID) (*domain.Ticket, error) {
	var ticket domain.Ticket
	err := s.store.WithEventLock(ctx, eventID, func(tx EventTx) error {
		event := tx.Event()
		if !event.Bookable(time.Now().UTC()) {
			return errors.Wrap(domain.ErrInvalidEventState, "event is not open for booking")
		}

		dup, err := tx.HasActiveTicket(ctx, userID)
		if err != nil {
			return err
		}
		if dup {
			return errors.Wrap(domain.ErrDuplicateTicket, "user already holds a ticket for this event")
		}

		active, err := tx.ActiveTicketCount(ctx)
		if err != nil {
			return err
		}
		if active >= int64(event.Capacity) {
			return errors.Wrap(domain.ErrInsufficientCapacity, "event is sold out")
		}

		ticket = domain.NewTicket(event.ID, userID, event.Price, event.EventAt, s.holdTTL)
		if err := tx.InsertTicket(ctx, &ticket); err != nil {
			return err
		}
		return tx.AppendOutbox(ctx, "ticket.reserved", ticket.ID, ticketEventPayload(&ticket))
	})
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("local", outcomeLabel(err)).Inc()
		return nil, err
	}

	observability.ReservationsTotal.WithLabelValues("local", "ok").Inc()
	s.logger.WithField("ticket", ticket.TicketNumber).WithField("event_id", eventID).Info("ticket reserved")
	return &ticket, nil
}

// GetTicket resolves a ticket for the requesting user. Access denial is
// reported as not-found to avoid leaking ticket existence.
func (s *Service) GetTicket(ctx context.Context, ticketID, userID uuid.UUID) (*domain.Ticket, error) {
	return s.authorizedTicket(ctx, ticketID, userID)
}

// Cancel releases the ticket's capacity slot. For provider-backed tickets the
// remote reservation is cancelled best-effort first; local state converges to
// CANCELLED regardless of the remote outcome.
func (s *Service) Cancel(ctx context.Context, ticketID, userID uuid.UUID) error {
	ticket, err := s.authorizedTicket(ctx, ticketID, userID)
	if err != nil {
		return err
	}
	if ticket.Status == domain.TicketCancelled {
		return nil
	}

	if ticket.External() && s.remote != nil {
		if err := s.remote.CancelReservation(ctx, *ticket.ForeignReservationID); err != nil {
			s.logger.WithError(err).WithField("ticket_id", ticketID).Warn("remote cancellation failed, cancelling locally anyway")
			if s.audit != nil {
				s.audit.LogCompensation(ctx, ticket.UserID, *ticket.ForeignReservationID, "user cancellation", err)
			}
		}
	}

	if err := s.store.UpdateTicketStatus(ctx, ticketID, ticket.Status, domain.TicketCancelled); err != nil {
		return err
	}
	if err := s.store.AppendOutbox(ctx, "ticket.cancelled", ticketID, ticketEventPayload(ticket)); err != nil {
		s.logger.WithError(err).Warn("failed to stage cancellation event")
	}
	s.logger.WithField("ticket_id", ticketID).Info("ticket cancelled")
	return nil
}

// MarkPaymentFailed closes the hold after an upstream payment failure.
func (s *Service) MarkPaymentFailed(ctx context.Context, ticketID uuid.UUID) error {
	err := s.store.UpdateTicketStatus(ctx, ticketID, domain.TicketPendingPayment, domain.TicketPaymentFailed)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return errors.Wrap(domain.ErrInvalidEventState, "ticket is not awaiting payment")
		}
		return err
	}
	if err := s.store.AppendOutbox(ctx, "ticket.payment_failed", ticketID, map[string]any{"ticket_id": ticketID}); err != nil {
		s.logger.WithError(err).Warn("failed to stage payment_failed event")
	}
	return nil
}

func (s *Service) authorizedTicket(ctx context.Context, ticketID, userID uuid.UUID) (*domain.Ticket, error) {
	ticket, err := s.store.TicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	event, err := s.store.EventByID(ctx, ticket.EventID)
	if err != nil {
		return nil, err
	}
	if !ticket.AccessibleBy(user, event.VenueID) {
		return nil, errors.Wrap(domain.ErrNotFound, "ticket not found")
	}
	return ticket, nil
}

func ticketEventPayload(t *domain.Ticket) map[string]any {
	return map[string]any{
		"ticket_id":     t.ID,
		"ticket_number": t.TicketNumber,
		"event_id":      t.EventID,
		"user_id":       t.UserID,
		"status":        t.Status,
		"price":         t.Price,
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientCapacity):
		return "sold_out"
	case errors.Is(err, domain.ErrDuplicateTicket):
		return "duplicate"
	case errors.Is(err, domain.ErrInvalidEventState):
		return "invalid_state"
	default:
		return "error"
	}
}
