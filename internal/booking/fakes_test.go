package booking_test

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/booking"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/provider"
	"github.com/google/uuid"
)

// fakeStore is an in-memory booking.Store. WithEventLock takes a per-event
// mutex, mirroring the row lock the real repository acquires, so the
// concurrency tests exercise the same serialization the database provides.
type fakeStore struct {
	mu      sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
	events  map[uuid.UUID]*domain.Event
	users   map[uuid.UUID]*domain.User
	tickets map[uuid.UUID]*domain.Ticket
	outbox  []outboxEntry

	insertTicketErr error
}

type outboxEntry struct {
	EventType   string
	AggregateID uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		locks:   map[uuid.UUID]*sync.Mutex{},
		events:  map[uuid.UUID]*domain.Event{},
		users:   map[uuid.UUID]*domain.User{},
		tickets: map[uuid.UUID]*domain.Ticket{},
	}
}

func (s *fakeStore) addEvent(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = &e
	s.locks[e.ID] = &sync.Mutex{}
}

func (s *fakeStore) addUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

func (s *fakeStore) ticket(id uuid.UUID) domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tickets[id]
}

func (s *fakeStore) outboxTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.outbox))
	for _, e := range s.outbox {
		types = append(types, e.EventType)
	}
	return types
}

func (s *fakeStore) WithEventLock(ctx context.Context, eventID uuid.UUID, fn func(tx booking.EventTx) error) error {
	s.mu.Lock()
	lock, ok := s.locks[eventID]
	if !ok {
		s.mu.Unlock()
		return errors.Wrap(domain.ErrNotFound, "event")
	}
	event := *s.events[eventID]
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(&fakeEventTx{store: s, event: &event})
}

type fakeEventTx struct {
	store *fakeStore
	event *domain.Event
}

func (t *fakeEventTx) Event() *domain.Event { return t.event }

func (t *fakeEventTx) HasActiveTicket(ctx context.Context, userID uuid.UUID) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, tk := range t.store.tickets {
		if tk.EventID == t.event.ID && tk.UserID == userID && tk.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeEventTx) ActiveTicketCount(ctx context.Context) (int64, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var count int64
	for _, tk := range t.store.tickets {
		if tk.EventID == t.event.ID && tk.Status.Active() {
			count++
		}
	}
	return count, nil
}

func (t *fakeEventTx) InsertTicket(ctx context.Context, ticket *domain.Ticket) error {
	return t.store.InsertTicket(ctx, ticket)
}

func (t *fakeEventTx) AppendOutbox(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) error {
	return t.store.AppendOutbox(ctx, eventType, aggregateID, payload)
}

func (s *fakeStore) EventByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, errors.Wrap(domain.ErrNotFound, "event")
	}
	copy := *e
	return &copy, nil
}

func (s *fakeStore) UserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.Wrap(domain.ErrNotFound, "user")
	}
	copy := *u
	return &copy, nil
}

func (s *fakeStore) TicketByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, errors.Wrap(domain.ErrNotFound, "ticket")
	}
	copy := *t
	return &copy, nil
}

func (s *fakeStore) TicketsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tickets []domain.Ticket
	for _, t := range s.tickets {
		if t.UserID == userID {
			tickets = append(tickets, *t)
		}
	}
	return tickets, nil
}

func (s *fakeStore) TicketByForeignReservation(ctx context.Context, foreignReservationID string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tickets {
		if t.ForeignReservationID != nil && *t.ForeignReservationID == foreignReservationID {
			copy := *t
			return &copy, nil
		}
	}
	return nil, errors.Wrap(domain.ErrNotFound, "ticket")
}

func (s *fakeStore) InsertTicket(ctx context.Context, t *domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertTicketErr != nil {
		return s.insertTicketErr
	}
	copy := *t
	s.tickets[t.ID] = &copy
	return nil
}

func (s *fakeStore) UpdateTicketStatus(ctx context.Context, id uuid.UUID, from, to domain.TicketStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.Status != from {
		return errors.Wrap(domain.ErrNotFound, "ticket status transition")
	}
	t.Status = to
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) MarkTicketPaid(ctx context.Context, id uuid.UUID, ticketNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok || t.Status != domain.TicketPendingPayment {
		return errors.Wrap(domain.ErrNotFound, "ticket is not awaiting payment")
	}
	t.Status = domain.TicketPaid
	t.PaymentExpiresAt = nil
	if ticketNumber != "" {
		t.TicketNumber = ticketNumber
	}
	return nil
}

func (s *fakeStore) ExpiredPendingTickets(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []domain.Ticket
	for _, t := range s.tickets {
		if t.Status == domain.TicketPendingPayment && t.PaymentExpiresAt != nil && !t.PaymentExpiresAt.After(cutoff) {
			expired = append(expired, *t)
			if len(expired) == limit {
				break
			}
		}
	}
	return expired, nil
}

func (s *fakeStore) AppendOutbox(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, outboxEntry{EventType: eventType, AggregateID: aggregateID})
	return nil
}

// fakeRemote scripts the provider client.
type fakeRemote struct {
	mu sync.Mutex

	availability    *provider.Availability
	availabilityErr error
	reservation     *provider.Reservation
	reservationErr  error
	confirmRes      *provider.Reservation
	confirmErr      error
	cancelErr       error
	reservations    []provider.Reservation
	listErr         error

	cancelled []string
	confirmed []string
}

func (r *fakeRemote) CheckAvailability(ctx context.Context, eventID string) (*provider.Availability, error) {
	return r.availability, r.availabilityErr
}

func (r *fakeRemote) CreateReservation(ctx context.Context, req provider.ReservationRequest) (*provider.Reservation, error) {
	return r.reservation, r.reservationErr
}

func (r *fakeRemote) CancelReservation(ctx context.Context, reservationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, reservationID)
	return r.cancelErr
}

func (r *fakeRemote) ConfirmPayment(ctx context.Context, reservationID string, req provider.PaymentConfirmation) (*provider.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, reservationID)
	return r.confirmRes, r.confirmErr
}

func (r *fakeRemote) ListCustomerReservations(ctx context.Context, customerEmail string) ([]provider.Reservation, error) {
	return r.reservations, r.listErr
}

type fakePlaceholders struct {
	event *domain.Event
	err   error
}

func (p *fakePlaceholders) EventByForeignID(ctx context.Context, foreignID string) (*domain.Event, error) {
	return p.event, p.err
}

type fakeAudit struct {
	mu              sync.Mutex
	compensations   []string
	inconsistencies []string
}

func (a *fakeAudit) LogCompensation(ctx context.Context, userID uuid.UUID, foreignReservationID, reason string, cancelErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.compensations = append(a.compensations, foreignReservationID)
}

func (a *fakeAudit) LogInconsistency(ctx context.Context, userID, ticketID uuid.UUID, foreignReservationID, paymentID string, cause error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inconsistencies = append(a.inconsistencies, foreignReservationID)
}

type fakeAlerter struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeAlerter) PublishJSON(ctx context.Context, key string, v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}
