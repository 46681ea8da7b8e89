package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// External catalog statuses.
const (
	StatusAvailable = "AVAILABLE"
	StatusSoldOut   = "SOLD_OUT"
	StatusCancelled = "CANCELLED"
)

type Venue struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Address     string `json:"address"`
	City        string `json:"city"`
	Country     string `json:"country"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity"`
}

type Event struct {
	ID               string    `json:"id"`
	VenueID          string    `json:"venueId"`
	VenueName        string    `json:"venueName"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	EventAt          time.Time `json:"eventDateTime"`
	Price            Money     `json:"price"`
	Capacity         int       `json:"capacity"`
	AvailableTickets int64     `json:"availableTickets"`
	Status           string    `json:"status"`
}

type Availability struct {
	EventID          string    `json:"eventId"`
	AvailableTickets int64     `json:"availableTickets"`
	Capacity         int       `json:"capacity"`
	Status           string    `json:"status"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

type ReservationRequest struct {
	EventID        string `json:"eventId"`
	CustomerEmail  string `json:"customerEmail"`
	CustomerName   string `json:"customerName"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type Reservation struct {
	ID               string     `json:"id"`
	EventID          string     `json:"eventId"`
	EventName        string     `json:"eventName"`
	EventAt          *time.Time `json:"eventDateTime"`
	VenueID          string     `json:"venueId"`
	VenueName        string     `json:"venueName"`
	CustomerEmail    string     `json:"customerEmail"`
	CustomerName     string     `json:"customerName"`
	Quantity         int        `json:"quantity"`
	PricePerTicket   Money      `json:"pricePerTicket"`
	TotalPrice       Money      `json:"totalPrice"`
	Status           string     `json:"status"`
	ReservedAt       time.Time  `json:"reservedAt"`
	ExpiresAt        time.Time  `json:"expiresAt"`
	ConfirmationCode string     `json:"confirmationCode"`
	TicketNumbers    []string   `json:"ticketNumbers"`
}

type PaymentConfirmation struct {
	PaymentID     string `json:"paymentId"`
	PaymentMethod string `json:"paymentMethod"`
	PaidAmount    Money  `json:"paidAmount"`
	TransactionID string `json:"transactionId"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type paginated[T any] struct {
	Data []T `json:"data"`
}
