// Package postgres implements the persistence layer over pgx. It backs both
// the booking store (row-locked reservations, ticket lifecycle) and the
// catalog store (venues, events, placeholder upserts).
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/booking"
	"github.com/concerthall/reservations/internal/catalog"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const SerializationFailureCode = "40001"

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}
	return tx.Commit(ctx)
}

// WithEventLock runs fn while holding an exclusive row lock on the event.
// Concurrent reservations against the same event serialize here; the
// check-then-insert inside fn cannot interleave.
func (r *Repository) WithEventLock(ctx context.Context, eventID uuid.UUID, fn func(tx booking.EventTx) error) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		event, err := scanEvent(tx.QueryRow(ctx, selectEvent+` WHERE id = $1 FOR UPDATE`, eventID))
		if err != nil {
			return err
		}
		return fn(&eventTx{repo: r, tx: tx, event: event})
	})
}

type eventTx struct {
	repo  *Repository
	tx    pgx.Tx
	event *domain.Event
}

func (t *eventTx) Event() *domain.Event { return t.event }

func (t *eventTx) HasActiveTicket(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE event_id = $1 AND user_id = $2 AND status IN ('PENDING_PAYMENT', 'PAID')
		)
	`, t.event.ID, userID).Scan(&exists)
	return exists, err
}

func (t *eventTx) ActiveTicketCount(ctx context.Context) (int64, error) {
	var count int64
	err := t.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE event_id = $1 AND status IN ('PENDING_PAYMENT', 'PAID')
	`, t.event.ID).Scan(&count)
	return count, err
}

func (t *eventTx) InsertTicket(ctx context.Context, ticket *domain.Ticket) error {
	return insertTicket(ctx, t.tx, ticket)
}

func (t *eventTx) AppendOutbox(ctx context.Context, eventType string, aggregateID uuid.UUID, payload any) error {
	return appendOutbox(ctx, t.tx, eventType, aggregateID, payload)
}

const selectEvent = `
	SELECT id, name, description, event_at, capacity, price, status, venue_id, foreign_id, created_at, updated_at
	FROM events`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.EventAt, &e.Capacity, &e.Price,
		&e.Status, &e.VenueID, &e.ForeignID, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(domain.ErrNotFound, "event")
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *Repository) EventByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, selectEvent+` WHERE id = $1`, id))
}

func (r *Repository) EventByForeignID(ctx context.Context, foreignID string) (*domain.Event, error) {
	return scanEvent(r.pool.QueryRow(ctx, selectEvent+` WHERE foreign_id = $1`, foreignID))
}

func (r *Repository) UpsertEvent(ctx context.Context, e *domain.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (id, name, description, event_at, capacity, price, status, venue_id, foreign_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			event_at = EXCLUDED.event_at,
			capacity = EXCLUDED.capacity,
			price = EXCLUDED.price,
			status = EXCLUDED.status,
			updated_at = now()
	`, e.ID, e.Name, e.Description, e.EventAt, e.Capacity, e.Price, e.Status, e.VenueID, e.ForeignID)
	return err
}

func (r *Repository) ListEvents(ctx context.Context, filter catalog.EventFilter) ([]domain.Event, error) {
	query := selectEvent
	var clauses []string
	var args []any

	if filter.LocalOnly {
		clauses = append(clauses, "foreign_id IS NULL")
	}
	if len(filter.Statuses) > 0 {
		args = append(args, filter.Statuses)
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if len(filter.VenueIDs) > 0 {
		args = append(args, filter.VenueIDs)
		clauses = append(clauses, fmt.Sprintf("venue_id = ANY($%d)", len(args)))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY event_at ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.EventAt, &e.Capacity, &e.Price,
			&e.Status, &e.VenueID, &e.ForeignID, &e.CreatedAt, &e.UpdatedAt)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

const selectVenue = `
	SELECT id, name, address, description, capacity, source, foreign_id, created_at, updated_at
	FROM venues`

func scanVenue(row pgx.Row) (*domain.Venue, error) {
	var v domain.Venue
	err := row.Scan(&v.ID, &v.Name, &v.Address, &v.Description, &v.Capacity,
		&v.Source, &v.ForeignID, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(domain.ErrNotFound, "venue")
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *Repository) VenueByID(ctx context.Context, id uuid.UUID) (*domain.Venue, error) {
	return scanVenue(r.pool.QueryRow(ctx, selectVenue+` WHERE id = $1`, id))
}

func (r *Repository) VenueByForeignID(ctx context.Context, foreignID string) (*domain.Venue, error) {
	return scanVenue(r.pool.QueryRow(ctx, selectVenue+` WHERE foreign_id = $1`, foreignID))
}

func (r *Repository) UpsertVenue(ctx context.Context, v *domain.Venue) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO venues (id, name, address, description, capacity, source, foreign_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			description = EXCLUDED.description,
			capacity = EXCLUDED.capacity,
			updated_at = now()
	`, v.ID, v.Name, v.Address, v.Description, v.Capacity, v.Source, v.ForeignID)
	return err
}

func (r *Repository) ListVenuesBySource(ctx context.Context, source domain.VenueSource) ([]domain.Venue, error) {
	rows, err := r.pool.Query(ctx, selectVenue+` WHERE source = $1 ORDER BY name ASC`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var venues []domain.Venue
	for rows.Next() {
		var v domain.Venue
		err := rows.Scan(&v.ID, &v.Name, &v.Address, &v.Description, &v.Capacity,
			&v.Source, &v.ForeignID, &v.CreatedAt, &v.UpdatedAt)
		if err != nil {
			return nil, err
		}
		venues = append(venues, v)
	}
	return venues, rows.Err()
}

func (r *Repository) InsertUser(ctx context.Context, u *domain.User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, name, role) VALUES ($1, $2, $3, $4)
	`, u.ID, u.Email, u.Name, u.Role)
	return err
}

func (r *Repository) AssignVenue(ctx context.Context, userID, venueID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_venues (user_id, venue_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, venueID)
	return err
}

func (r *Repository) UserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.userBy(ctx, "id = $1", id)
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.userBy(ctx, "email = $1", email)
}

func (r *Repository) userBy(ctx context.Context, where string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `SELECT id, email, name, role FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Email, &u.Name, &u.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(domain.ErrNotFound, "user")
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `SELECT venue_id FROM user_venues WHERE user_id = $1`, u.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var venueID uuid.UUID
		if err := rows.Scan(&venueID); err != nil {
			return nil, err
		}
		u.AssignedVenues = append(u.AssignedVenues, venueID)
	}
	return &u, rows.Err()
}

const selectTicket = `
	SELECT id, ticket_number, user_id, event_id, price, status, reserved_at,
	       payment_expires_at, foreign_reservation_id, foreign_confirmation_code, updated_at
	FROM tickets`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	err := row.Scan(&t.ID, &t.TicketNumber, &t.UserID, &t.EventID, &t.Price, &t.Status,
		&t.ReservedAt, &t.PaymentExpiresAt, &t.ForeignReservationID, &t.ForeignConfirmationCode, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrap(domain.ErrNotFound, "ticket")
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) TicketByID(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, selectTicket+` WHERE id = $1`, id))
}

func (r *Repository) TicketByForeignReservation(ctx context.Context, foreignReservationID string) (*domain.Ticket, error) {
	return scanTicket(r.pool.QueryRow(ctx, selectTicket+` WHERE foreign_reservation_id = $1`, foreignReservationID))
}

func (r *Repository) TicketsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, selectTicket+` WHERE user_id = $1 ORDER BY reserved_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		err := rows.Scan(&t.ID, &t.TicketNumber, &t.UserID, &t.EventID, &t.Price, &t.Status,
			&t.ReservedAt, &t.PaymentExpiresAt, &t.ForeignReservationID, &t.ForeignConfirmationCode, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *Repository) InsertTicket(ctx context.Context, t *domain.Ticket) error {
	return insertTicket(ctx, r.pool, t)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertTicket(ctx context.Context, db execer, t *domain.Ticket) error {
	_, err := db.Exec(ctx, `
		INSERT INTO tickets (id, ticket_number, user_id, event_id, price, status, reserved_at,
		                     payment_expires_at, foreign_reservation_id, foreign_confirmation_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, t.ID, t.TicketNumber, t.UserID, t.EventID, t.Price, t.Status, t.ReservedAt,
		t.PaymentExpiresAt, t.ForeignReservationID, t.ForeignConfirmationCode)
	return err
}

// UpdateTicketStatus is a compare-and-set on the ticket's status. The WHERE
// on the current status makes concurrent transitions race safely; the loser
// sees ErrNotFound.
func (r *Repository) UpdateTicketStatus(ctx context.Context, id uuid.UUID, from, to domain.TicketStatus) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE tickets SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrap(domain.ErrNotFound, "ticket status transition")
	}
	return nil
}

func (r *Repository) MarkTicketPaid(ctx context.Context, id uuid.UUID, ticketNumber string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE tickets SET
			status = 'PAID',
			payment_expires_at = NULL,
			ticket_number = COALESCE(NULLIF($2, ''), ticket_number),
			updated_at = now()
		WHERE id = $1 AND status = 'PENDING_PAYMENT'
	`, id, ticketNumber)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrap(domain.ErrNotFound, "ticket is not awaiting payment")
	}
	return nil
}

func (r *Repository) ExpiredPendingTickets(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	rows, err := r.pool.Query(ctx, selectTicket+`
		WHERE status = 'PENDING_PAYMENT' AND payment_expires_at IS NOT NULL AND payment_expires_at <= $1
		ORDER BY payment_expires_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var t domain.Ticket
		err := rows.Scan(&t.ID, &t.TicketNumber, &t.UserID, &t.EventID, &t.Price, &t.Status,
			&t.ReservedAt, &t.PaymentExpiresAt, &t.ForeignReservationID, &t.ForeignConfirmationCode, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *Repository) ActiveTicketCount(ctx context.Context, eventID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE event_id = $1 AND status IN ('PENDING_PAYMENT', 'PAID')
	`, eventID).Scan(&count)
	return count, err
}

func (r *Repository) EventSales(ctx context.Context, eventID uuid.UUID) (int64, decimal.Decimal, error) {
	var sold int64
	var revenue decimal.Decimal
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(SUM(price), 0) FROM tickets
		WHERE event_id = $1 AND status = 'PAID'
	`, eventID).Scan(&sold, &revenue)
	return sold, revenue, err
}
