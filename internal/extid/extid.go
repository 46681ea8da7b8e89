// Package extid maps foreign provider identifiers to stable local UUIDs.
package extid

import "github.com/google/uuid"

// Kind namespaces the mapping so the same foreign id never collides across
// entity kinds.
type Kind string

const (
	Venue       Kind = "external-venue"
	Event       Kind = "external-event"
	Reservation Kind = "external-reservation"
)

// LocalID derives a deterministic local identifier for a foreign id. Same
// (kind, foreignID) always yields the same UUID; distinct inputs yield
// distinct UUIDs with the collision resistance of a name-based (v5) UUID.
func LocalID(kind Kind, foreignID string) uuid.UUID {
	namespace := uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind))
	return uuid.NewSHA1(namespace, []byte(foreignID))
}
