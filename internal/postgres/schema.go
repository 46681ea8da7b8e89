package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL. Statements are idempotent so EnsureSchema can run
// on every startup.
const Schema = `
CREATE TABLE IF NOT EXISTS venues (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	address     TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	capacity    INT  NOT NULL,
	source      TEXT NOT NULL DEFAULT 'INTERNAL',
	foreign_id  TEXT UNIQUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS events (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	event_at    TIMESTAMPTZ NOT NULL,
	capacity    INT  NOT NULL,
	price       NUMERIC(12,2) NOT NULL,
	status      TEXT NOT NULL DEFAULT 'DRAFT',
	venue_id    UUID NOT NULL REFERENCES venues(id),
	foreign_id  TEXT UNIQUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_events_venue_status ON events (venue_id, status);

CREATE TABLE IF NOT EXISTS users (
	id    UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name  TEXT NOT NULL,
	role  TEXT NOT NULL DEFAULT 'CUSTOMER'
);

CREATE TABLE IF NOT EXISTS user_venues (
	user_id  UUID NOT NULL REFERENCES users(id),
	venue_id UUID NOT NULL REFERENCES venues(id),
	PRIMARY KEY (user_id, venue_id)
);

CREATE TABLE IF NOT EXISTS tickets (
	id                        UUID PRIMARY KEY,
	ticket_number             TEXT NOT NULL,
	user_id                   UUID NOT NULL REFERENCES users(id),
	event_id                  UUID NOT NULL REFERENCES events(id),
	price                     NUMERIC(12,2) NOT NULL,
	status                    TEXT NOT NULL,
	reserved_at               TIMESTAMPTZ NOT NULL,
	payment_expires_at        TIMESTAMPTZ,
	foreign_reservation_id    TEXT UNIQUE,
	foreign_confirmation_code TEXT,
	updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_tickets_event_status ON tickets (event_id, status);
CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets (user_id);
CREATE INDEX IF NOT EXISTS idx_tickets_expiry ON tickets (payment_expires_at) WHERE status = 'PENDING_PAYMENT';

CREATE TABLE IF NOT EXISTS outbox (
	id             UUID PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   UUID NOT NULL,
	event_type     TEXT NOT NULL,
	payload_json   JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at   TIMESTAMPTZ,
	status         TEXT NOT NULL DEFAULT 'NEW',
	dedupe_key     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_outbox_unpublished ON outbox (created_at) WHERE status = 'NEW';
`

// EnsureSchema applies the DDL. Safe to call on every startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
