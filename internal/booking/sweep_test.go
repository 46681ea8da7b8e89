package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/concerthall/reservations/internal/booking"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const sweepGrace = 30 * time.Second

func pendingTicket(store *fakeStore, event domain.Event, expiresIn time.Duration) domain.Ticket {
	user := customer(store)
	expires := time.Now().UTC().Add(expiresIn)
	ticket := domain.NewTicket(event.ID, user.ID, event.Price, event.EventAt, expiresIn)
	ticket.PaymentExpiresAt = &expires
	store.InsertTicket(context.Background(), &ticket)
	return ticket
}

func TestSweepOnce_CancelsLapsedHolds(t *testing.T) {
	store := newFakeStore()
	event := publishedEvent(100)
	store.addEvent(event)

	lapsed := pendingTicket(store, event,-10*time.Minute)
	fresh := pendingTicket(store, event,10*time.Minute)

	sweeper := booking.NewSweeper(store, observability.NewLogger(), time.Minute, sweepGrace)
	expired, err := sweeper.SweepOnce(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	require.Equal(t, domain.TicketCancelled, store.ticket(lapsed.ID).Status)
	require.Equal(t, domain.TicketPendingPayment, store.ticket(fresh.ID).Status)
	require.Contains(t, store.outboxTypes(), "ticket.expired")
}

func TestSweepOnce_LeavesPaidTicketsAlone(t *testing.T) {
	store := newFakeStore()
	event := publishedEvent(100)
	store.addEvent(event)

	ticket := pendingTicket(store, event,-10*time.Minute)
	require.NoError(t, store.MarkTicketPaid(context.Background(), ticket.ID, ""))

	sweeper := booking.NewSweeper(store, observability.NewLogger(), time.Minute, sweepGrace)
	expired, err := sweeper.SweepOnce(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, expired)
	require.Equal(t, domain.TicketPaid, store.ticket(ticket.ID).Status)
}

func TestSweepOnce_RespectsGraceWindow(t *testing.T) {
	store := newFakeStore()
	event := publishedEvent(100)
	store.addEvent(event)

	// Deadline passed seconds ago; a confirmation may still be in flight.
	justLapsed := pendingTicket(store, event,-5*time.Second)

	sweeper := booking.NewSweeper(store, observability.NewLogger(), time.Minute, sweepGrace)
	expired, err := sweeper.SweepOnce(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, expired)
	require.Equal(t, domain.TicketPendingPayment, store.ticket(justLapsed.ID).Status)
}

func TestSweepOnce_SkipsTicketsTransitionedUnderneath(t *testing.T) {
	store := newFakeStore()
	event := publishedEvent(100)
	store.addEvent(event)

	ticket := pendingTicket(store, event,-10*time.Minute)

	// A payment confirmation wins the race between the read and the sweep's
	// compare-and-set.
	racingStore := &racingPayStore{fakeStore: store, payID: ticket.ID}
	sweeper := booking.NewSweeper(racingStore, observability.NewLogger(), time.Minute, sweepGrace)

	expired, err := sweeper.SweepOnce(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Zero(t, expired)
	require.Equal(t, domain.TicketPaid, store.ticket(ticket.ID).Status)
}

// racingPayStore confirms payment for payID right after the sweep reads its
// expired batch.
type racingPayStore struct {
	*fakeStore
	payID uuid.UUID
	done  bool
}

func (s *racingPayStore) ExpiredPendingTickets(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	batch, err := s.fakeStore.ExpiredPendingTickets(ctx, cutoff, limit)
	if err == nil && !s.done {
		s.done = true
		if err := s.fakeStore.MarkTicketPaid(ctx, s.payID, ""); err != nil {
			return nil, err
		}
	}
	return batch, err
}
