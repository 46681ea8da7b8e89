package booking

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/extid"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/provider"
	"github.com/google/uuid"
)

// ReserveExternal books one seat on a provider-owned event. The provider is
// authoritative for remote capacity, so no local lock is taken; consistency
// instead comes from the explicit compensation step when the local leg fails
// after the remote reservation was created.
func (s *Service) ReserveExternal(ctx context.Context, foreignEventID string, userID uuid.UUID) (*domain.Ticket, error) {
	if s.remote == nil {
		return nil, errors.Wrap(domain.ErrNotFound, "external provider is disabled")
	}
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	avail, err := s.remote.CheckAvailability(ctx, foreignEventID)
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("external", "provider_error").Inc()
		return nil, err
	}
	if avail.AvailableTickets < 1 {
		observability.ReservationsTotal.WithLabelValues("external", "sold_out").Inc()
		return nil, errors.Wrap(domain.ErrInsufficientCapacity, "event sold out at provider")
	}

	reservation, err := s.remote.CreateReservation(ctx, provider.ReservationRequest{
		EventID:        foreignEventID,
		CustomerEmail:  user.Email,
		CustomerName:   user.Name,
		Quantity:       1,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		observability.ReservationsTotal.WithLabelValues("external", "provider_error").Inc()
		return nil, err
	}

	event, err := s.placeholders.EventByForeignID(ctx, foreignEventID)
	if err != nil {
		s.compensate(ctx, userID, reservation.ID, "event placeholder resolution failed")
		observability.ReservationsTotal.WithLabelValues("external", "compensated").Inc()
		return nil, errors.Wrapf(domain.ErrNotFound, "external event %s", foreignEventID)
	}

	expires := reservation.ExpiresAt
	ticket := domain.Ticket{
		ID:                      uuid.New(),
		TicketNumber:            reservation.ConfirmationCode,
		UserID:                  userID,
		EventID:                 event.ID,
		Price:                   reservation.TotalPrice.Amount,
		Status:                  domain.TicketPendingPayment,
		ReservedAt:              time.Now().UTC(),
		PaymentExpiresAt:        &expires,
		ForeignReservationID:    &reservation.ID,
		ForeignConfirmationCode: &reservation.ConfirmationCode,
	}
	if err := s.store.InsertTicket(ctx, &ticket); err != nil {
		s.compensate(ctx, userID, reservation.ID, "local shadow ticket insert failed")
		observability.ReservationsTotal.WithLabelValues("external", "compensated").Inc()
		return nil, err
	}
	if err := s.store.AppendOutbox(ctx, "ticket.reserved", ticket.ID, ticketEventPayload(&ticket)); err != nil {
		s.logger.WithError(err).Warn("failed to stage reservation event")
	}

	observability.ReservationsTotal.WithLabelValues("external", "ok").Inc()
	s.logger.WithField("foreign_reservation_id", reservation.ID).WithField("user_id", userID).Info("external ticket reserved")
	return &ticket, nil
}

// compensate undoes a remote reservation after a local failure. Best-effort:
// a failed remote cancel is audited and logged, never raised, so the caller
// still sees the original failure.
func (s *Service) compensate(ctx context.Context, userID uuid.UUID, foreignReservationID, reason string) {
	err := s.remote.CancelReservation(ctx, foreignReservationID)
	if err != nil {
		s.logger.WithError(err).WithField("foreign_reservation_id", foreignReservationID).Error("compensating cancellation failed")
	}
	if s.audit != nil {
		s.audit.LogCompensation(ctx, userID, foreignReservationID, reason, err)
	}
}

// ConfirmPayment finalizes a ticket after the payment succeeded upstream.
// Local tickets flip straight to PAID. Provider-backed tickets confirm with
// the provider first; a failure there happens after money moved, which is the
// critical-inconsistency path: audited, alerted, and surfaced, never
// swallowed.
func (s *Service) ConfirmPayment(ctx context.Context, ticketID uuid.UUID, paymentID string) error {
	ticket, err := s.store.TicketByID(ctx, ticketID)
	if err != nil {
		return err
	}

	if !ticket.External() {
		if err := s.store.MarkTicketPaid(ctx, ticketID, ""); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return errors.Wrap(domain.ErrInvalidEventState, "payment hold already closed")
			}
			return err
		}
		return s.stagePaid(ctx, ticketID)
	}

	confirmation := provider.PaymentConfirmation{
		PaymentID:     paymentID,
		PaymentMethod: "credit_card",
		PaidAmount:    provider.Money{Amount: ticket.Price, Currency: "USD"},
		TransactionID: paymentID,
	}
	reservation, err := s.remote.ConfirmPayment(ctx, *ticket.ForeignReservationID, confirmation)
	if err != nil {
		return s.inconsistency(ctx, ticket, paymentID, err)
	}

	ticketNumber := ""
	if len(reservation.TicketNumbers) > 0 {
		ticketNumber = reservation.TicketNumbers[0]
	}
	if err := s.store.MarkTicketPaid(ctx, ticketID, ticketNumber); err != nil {
		// The provider now holds a confirmed reservation but the local hold
		// was already closed (e.g. the sweep expired it mid-flight).
		return s.inconsistency(ctx, ticket, paymentID, err)
	}
	return s.stagePaid(ctx, ticketID)
}

func (s *Service) stagePaid(ctx context.Context, ticketID uuid.UUID) error {
	if err := s.store.AppendOutbox(ctx, "ticket.paid", ticketID, map[string]any{"ticket_id": ticketID}); err != nil {
		s.logger.WithError(err).Warn("failed to stage paid event")
	}
	return nil
}

func (s *Service) inconsistency(ctx context.Context, ticket *domain.Ticket, paymentID string, cause error) error {
	observability.CriticalInconsistencies.Inc()
	s.logger.WithError(cause).WithField("ticket_id", ticket.ID).Error("payment succeeded but confirmation failed, manual reconciliation required")
	if s.audit != nil {
		s.audit.LogInconsistency(ctx, ticket.UserID, ticket.ID, *ticket.ForeignReservationID, paymentID, cause)
	}
	if s.alerts != nil {
		alert := map[string]any{
			"ticket_id":              ticket.ID,
			"foreign_reservation_id": *ticket.ForeignReservationID,
			"payment_id":             paymentID,
			"cause":                  cause.Error(),
		}
		if perr := s.alerts.PublishJSON(ctx, "reservation.inconsistency", alert); perr != nil {
			s.logger.WithError(perr).Error("failed to publish inconsistency alert")
		}
	}
	return errors.Mark(errors.Wrap(cause, "confirm external payment"), domain.ErrCriticalInconsistency)
}

// TicketView is one row of a user's merged ticket listing. Reservations held
// only at the provider carry a derived local id and no stored ticket.
type TicketView struct {
	Ticket    domain.Ticket
	EventName string
	EventAt   *time.Time
	Tracked   bool
}

// ListUserTickets merges locally stored tickets with provider reservations
// not yet tracked locally, deduplicated by foreign reservation id and sorted
// by event schedule descending with unknown schedules last. Provider failure
// degrades to the local list.
func (s *Service) ListUserTickets(ctx context.Context, userID uuid.UUID) ([]TicketView, error) {
	tickets, err := s.store.TicketsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]TicketView, 0, len(tickets))
	events := map[uuid.UUID]*domain.Event{}
	for _, t := range tickets {
		view := TicketView{Ticket: t, Tracked: true}
		event, ok := events[t.EventID]
		if !ok {
			event, err = s.store.EventByID(ctx, t.EventID)
			if err != nil {
				return nil, err
			}
			events[t.EventID] = event
		}
		view.EventName = event.Name
		at := event.EventAt
		view.EventAt = &at
		views = append(views, view)
	}

	views = append(views, s.untrackedRemoteTickets(ctx, userID)...)

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i].EventAt, views[j].EventAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	return views, nil
}

func (s *Service) untrackedRemoteTickets(ctx context.Context, userID uuid.UUID) []TicketView {
	if s.remote == nil {
		return nil
	}
	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil
	}
	reservations, err := s.remote.ListCustomerReservations(ctx, user.Email)
	if err != nil {
		s.logger.WithError(err).Warn("failed to list provider reservations, returning local tickets only")
		return nil
	}

	var views []TicketView
	for _, r := range reservations {
		if _, err := s.store.TicketByForeignReservation(ctx, r.ID); err == nil {
			continue // already tracked locally
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WithError(err).Warn("foreign reservation lookup failed")
			continue
		}

		foreignID := r.ID
		code := r.ConfirmationCode
		expires := r.ExpiresAt
		views = append(views, TicketView{
			Ticket: domain.Ticket{
				ID:                      extid.LocalID(extid.Reservation, r.ID),
				TicketNumber:            r.ConfirmationCode,
				UserID:                  userID,
				EventID:                 extid.LocalID(extid.Event, r.EventID),
				Price:                   r.TotalPrice.Amount,
				Status:                  remoteTicketStatus(r.Status),
				ReservedAt:              r.ReservedAt,
				PaymentExpiresAt:        &expires,
				ForeignReservationID:    &foreignID,
				ForeignConfirmationCode: &code,
			},
			EventName: r.EventName,
			EventAt:   r.EventAt,
		})
	}
	return views
}

func remoteTicketStatus(status string) domain.TicketStatus {
	switch status {
	case "CONFIRMED":
		return domain.TicketPaid
	case "CANCELLED":
		return domain.TicketCancelled
	default:
		return domain.TicketPendingPayment
	}
}
