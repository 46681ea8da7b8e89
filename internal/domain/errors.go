package domain

import "errors"

var (
	// ErrNotFound covers both absence and denied ticket access: handing a
	// Forbidden to a non-owner would leak that the ticket exists.
	ErrNotFound             = errors.New("not found")
	ErrDuplicateTicket      = errors.New("duplicate ticket")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrInvalidEventState    = errors.New("invalid event state")
	ErrForbidden            = errors.New("forbidden")
	ErrDependencyMissing    = errors.New("dependency missing")
	ErrSerializationFailure = errors.New("serialization failure")

	// ErrCriticalInconsistency marks a remote payment confirmation failing
	// after the payment itself succeeded. Requires manual reconciliation or a
	// refund; never swallowed.
	ErrCriticalInconsistency = errors.New("critical inconsistency")
)
