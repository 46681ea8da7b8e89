package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/extid"
	"github.com/concerthall/reservations/internal/provider"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func externalEvent(foreignID string) domain.Event {
	e := publishedEvent(300)
	e.ID = extid.LocalID(extid.Event, foreignID)
	e.ForeignID = &foreignID
	return e
}

func scriptedReservation(id string) *provider.Reservation {
	eventAt := time.Now().UTC().Add(72 * time.Hour)
	return &provider.Reservation{
		ID:               id,
		EventID:          "ext-evt-1",
		EventName:        "Festival Night",
		EventAt:          &eventAt,
		Quantity:         1,
		TotalPrice:       provider.Money{Amount: decimal.NewFromFloat(55.50), Currency: "USD"},
		Status:           "PENDING_PAYMENT",
		ReservedAt:       time.Now().UTC(),
		ExpiresAt:        time.Now().UTC().Add(30 * time.Minute),
		ConfirmationCode: "CONF-ABC123",
	}
}

func availableRemote(reservationID string) *fakeRemote {
	return &fakeRemote{
		availability: &provider.Availability{EventID: "ext-evt-1", AvailableTickets: 10, Status: provider.StatusAvailable},
		reservation:  scriptedReservation(reservationID),
	}
}

func TestReserveExternal_CreatesShadowTicket(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)

	remote := availableRemote("res-1")
	svc := newService(store, remote, &fakePlaceholders{event: &event}, &fakeAudit{}, nil)

	ticket, err := svc.Reserve(context.Background(), event.ID, user.ID)
	require.NoError(t, err)

	require.Equal(t, domain.TicketPendingPayment, ticket.Status)
	require.True(t, ticket.External())
	require.Equal(t, "res-1", *ticket.ForeignReservationID)
	require.Equal(t, "CONF-ABC123", ticket.TicketNumber)
	require.Equal(t, "55.5", ticket.Price.String())
	require.NotNil(t, ticket.PaymentExpiresAt)
	require.Contains(t, store.outboxTypes(), "ticket.reserved")
}

func TestReserveExternal_SoldOutAtProvider(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)

	remote := &fakeRemote{availability: &provider.Availability{EventID: "ext-evt-1", AvailableTickets: 0, Status: provider.StatusSoldOut}}
	svc := newService(store, remote, &fakePlaceholders{event: &event}, nil, nil)

	_, err := svc.Reserve(context.Background(), event.ID, user.ID)
	require.ErrorIs(t, err, domain.ErrInsufficientCapacity)
}

func TestReserveExternal_CompensatesWhenPlaceholderFails(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)

	remote := availableRemote("res-2")
	audit := &fakeAudit{}
	svc := newService(store, remote, &fakePlaceholders{err: errors.New("provider lookup failed")}, audit, nil)

	_, err := svc.Reserve(context.Background(), event.ID, user.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, []string{"res-2"}, remote.cancelled)
	require.Equal(t, []string{"res-2"}, audit.compensations)
}

func TestReserveExternal_CompensatesWhenInsertFails(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)
	store.insertTicketErr = errors.New("insert failed")

	remote := availableRemote("res-3")
	audit := &fakeAudit{}
	svc := newService(store, remote, &fakePlaceholders{event: &event}, audit, nil)

	_, err := svc.Reserve(context.Background(), event.ID, user.ID)
	require.Error(t, err)
	require.Equal(t, []string{"res-3"}, remote.cancelled)
	require.Equal(t, []string{"res-3"}, audit.compensations)
}

func shadowTicket(store *fakeStore, event domain.Event, userID uuid.UUID, reservationID string) domain.Ticket {
	expires := time.Now().UTC().Add(30 * time.Minute)
	code := "CONF-XYZ"
	ticket := domain.Ticket{
		ID:                      uuid.New(),
		TicketNumber:            code,
		UserID:                  userID,
		EventID:                 event.ID,
		Price:                   decimal.NewFromInt(60),
		Status:                  domain.TicketPendingPayment,
		ReservedAt:              time.Now().UTC(),
		PaymentExpiresAt:        &expires,
		ForeignReservationID:    &reservationID,
		ForeignConfirmationCode: &code,
	}
	store.InsertTicket(context.Background(), &ticket)
	return ticket
}

func TestConfirmPayment_External_AdoptsTicketNumber(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)
	ticket := shadowTicket(store, event, user.ID, "res-4")

	confirmed := scriptedReservation("res-4")
	confirmed.Status = "CONFIRMED"
	confirmed.TicketNumbers = []string{"EXT-TKT-0001"}
	remote := &fakeRemote{confirmRes: confirmed}
	svc := newService(store, remote, nil, nil, nil)

	require.NoError(t, svc.ConfirmPayment(context.Background(), ticket.ID, "pay-9"))

	paid := store.ticket(ticket.ID)
	require.Equal(t, domain.TicketPaid, paid.Status)
	require.Equal(t, "EXT-TKT-0001", paid.TicketNumber)
	require.Equal(t, []string{"res-4"}, remote.confirmed)
}

func TestConfirmPayment_External_RemoteFailureIsCritical(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)
	ticket := shadowTicket(store, event, user.ID, "res-5")

	remote := &fakeRemote{confirmErr: &provider.ConnectionError{Op: "confirm_payment", Err: errors.New("timeout")}}
	audit := &fakeAudit{}
	alerts := &fakeAlerter{}
	svc := newService(store, remote, nil, audit, alerts)

	err := svc.ConfirmPayment(context.Background(), ticket.ID, "pay-10")
	require.ErrorIs(t, err, domain.ErrCriticalInconsistency)
	require.Equal(t, []string{"res-5"}, audit.inconsistencies)
	require.Equal(t, []string{"reservation.inconsistency"}, alerts.keys)
	// The ticket stays as it was; reconciliation is manual.
	require.Equal(t, domain.TicketPendingPayment, store.ticket(ticket.ID).Status)
}

func TestConfirmPayment_External_ClosedHoldIsCritical(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)
	ticket := shadowTicket(store, event, user.ID, "res-6")

	// The sweep closed the hold while the gateway processed the payment.
	require.NoError(t, store.UpdateTicketStatus(context.Background(), ticket.ID, domain.TicketPendingPayment, domain.TicketCancelled))

	confirmed := scriptedReservation("res-6")
	confirmed.Status = "CONFIRMED"
	remote := &fakeRemote{confirmRes: confirmed}
	audit := &fakeAudit{}
	svc := newService(store, remote, nil, audit, &fakeAlerter{})

	err := svc.ConfirmPayment(context.Background(), ticket.ID, "pay-11")
	require.ErrorIs(t, err, domain.ErrCriticalInconsistency)
	require.Equal(t, []string{"res-6"}, audit.inconsistencies)
}

func TestCancel_ExternalTicketCancelsRemoteFirst(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)
	ticket := shadowTicket(store, event, user.ID, "res-7")

	remote := &fakeRemote{}
	svc := newService(store, remote, nil, nil, nil)

	require.NoError(t, svc.Cancel(context.Background(), ticket.ID, user.ID))
	require.Equal(t, []string{"res-7"}, remote.cancelled)
	require.Equal(t, domain.TicketCancelled, store.ticket(ticket.ID).Status)
}

func TestCancel_ExternalConvergesWhenRemoteFails(t *testing.T) {
	store := newFakeStore()
	event := externalEvent("ext-evt-1")
	store.addEvent(event)
	user := customer(store)
	ticket := shadowTicket(store, event, user.ID, "res-8")

	remote := &fakeRemote{cancelErr: errors.New("provider down")}
	audit := &fakeAudit{}
	svc := newService(store, remote, nil, audit, nil)

	require.NoError(t, svc.Cancel(context.Background(), ticket.ID, user.ID))
	require.Equal(t, domain.TicketCancelled, store.ticket(ticket.ID).Status)
	require.Equal(t, []string{"res-8"}, audit.compensations)
}

func TestListUserTickets_MergesUntrackedRemote(t *testing.T) {
	store := newFakeStore()
	local := publishedEvent(10)
	store.addEvent(local)
	user := customer(store)

	svcLocal := newService(store, nil, nil, nil, nil)
	localTicket, err := svcLocal.Reserve(context.Background(), local.ID, user.ID)
	require.NoError(t, err)

	external := externalEvent("ext-evt-1")
	store.addEvent(external)
	tracked := shadowTicket(store, external, user.ID, "res-tracked")

	untracked := *scriptedReservation("res-untracked")
	trackedRemote := *scriptedReservation("res-tracked")
	remote := &fakeRemote{reservations: []provider.Reservation{untracked, trackedRemote}}
	svc := newService(store, remote, nil, nil, nil)

	views, err := svc.ListUserTickets(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, views, 3)

	byID := map[uuid.UUID]bool{}
	for _, v := range views {
		byID[v.Ticket.ID] = v.Tracked
	}
	require.True(t, byID[localTicket.ID])
	require.True(t, byID[tracked.ID])

	derived := extid.LocalID(extid.Reservation, "res-untracked")
	trackedFlag, ok := byID[derived]
	require.True(t, ok, "untracked remote reservation must appear with its derived id")
	require.False(t, trackedFlag)
}

func TestListUserTickets_DegradesWhenProviderFails(t *testing.T) {
	store := newFakeStore()
	local := publishedEvent(10)
	store.addEvent(local)
	user := customer(store)

	svcLocal := newService(store, nil, nil, nil, nil)
	_, err := svcLocal.Reserve(context.Background(), local.ID, user.ID)
	require.NoError(t, err)

	remote := &fakeRemote{listErr: &provider.ConnectionError{Op: "list_customer_reservations", Err: errors.New("down")}}
	svc := newService(store, remote, nil, nil, nil)

	views, err := svc.ListUserTickets(context.Background(), user.ID)
	require.NoError(t, err)
	require.Len(t, views, 1)
}
