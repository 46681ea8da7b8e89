package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Ticket struct {
	ID           uuid.UUID
	TicketNumber string
	UserID       uuid.UUID
	EventID      uuid.UUID
	// Price is snapshotted at reservation time; later event price changes do
	// not touch it.
	Price            decimal.Decimal
	Status           TicketStatus
	ReservedAt       time.Time
	PaymentExpiresAt *time.Time
	// Foreign fields are non-nil iff the ticket shadows a reservation held by
	// the external provider.
	ForeignReservationID    *string
	ForeignConfirmationCode *string
	UpdatedAt               time.Time
}

func (t *Ticket) External() bool { return t.ForeignReservationID != nil }

// NewTicket opens the payment hold for a local event reservation.
func NewTicket(eventID, userID uuid.UUID, price decimal.Decimal, eventAt time.Time, holdTTL time.Duration) Ticket {
	now := time.Now().UTC()
	expires := now.Add(holdTTL)
	return Ticket{
		ID:               uuid.New(),
		TicketNumber:     ticketNumber(eventAt),
		UserID:           userID,
		EventID:          eventID,
		Price:            price,
		Status:           TicketPendingPayment,
		ReservedAt:       now,
		PaymentExpiresAt: &expires,
	}
}

func ticketNumber(eventAt time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("TKT-%s-%s", eventAt.Format("20060102"), suffix)
}

// AccessibleBy implements the shared ticket access rule: the owner, an admin,
// or a power user assigned to the venue hosting the ticket's event.
func (t *Ticket) AccessibleBy(u *User, eventVenueID uuid.UUID) bool {
	if t.UserID == u.ID {
		return true
	}
	switch u.Role {
	case RoleAdmin:
		return true
	case RolePowerUser:
		return u.HasVenue(eventVenueID)
	}
	return false
}
