package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
)

type TicketStatus string

const (
	TicketPendingPayment TicketStatus = "PENDING_PAYMENT"
	TicketPaid           TicketStatus = "PAID"
	TicketPaymentFailed  TicketStatus = "PAYMENT_FAILED"
	TicketCancelled      TicketStatus = "CANCELLED"
)

// ActiveTicketStatuses are the statuses that hold a capacity slot. Both the
// anti-oversell count and the anti-duplicate check run against this set.
var ActiveTicketStatuses = []TicketStatus{TicketPendingPayment, TicketPaid}

func (s TicketStatus) Active() bool {
	return s == TicketPendingPayment || s == TicketPaid
}

type VenueSource string

const (
	VenueInternal VenueSource = "INTERNAL"
	VenueExternal VenueSource = "EXTERNAL_PROVIDER"
)

type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RolePowerUser Role = "POWER_USER"
	RoleCustomer  Role = "CUSTOMER"
)

type Venue struct {
	ID          uuid.UUID
	Name        string
	Address     string
	Description string
	Capacity    int
	Source      VenueSource
	ForeignID   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Event is a bookable event. ForeignID is non-nil iff the event shadows a
// record owned by the external provider; such events are never capacity-booked
// locally, the provider stays authoritative for their capacity.
type Event struct {
	ID          uuid.UUID
	Name        string
	Description string
	EventAt     time.Time
	Capacity    int
	Price       decimal.Decimal
	Status      EventStatus
	VenueID     uuid.UUID
	ForeignID   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (e *Event) External() bool { return e.ForeignID != nil }

// Bookable reports whether a reservation may be taken against the event.
func (e *Event) Bookable(now time.Time) bool {
	return e.Status == EventPublished && e.EventAt.After(now)
}

type User struct {
	ID             uuid.UUID
	Email          string
	Name           string
	Role           Role
	AssignedVenues []uuid.UUID
}

// HasVenue reports whether the venue is in the user's assigned set. Only
// meaningful for POWER_USER.
func (u *User) HasVenue(venueID uuid.UUID) bool {
	for _, id := range u.AssignedVenues {
		if id == venueID {
			return true
		}
	}
	return false
}
