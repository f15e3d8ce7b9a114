package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL for the service. Statements are idempotent so the
// bootstrap can run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email         TEXT NOT NULL UNIQUE,
	full_name     TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role          TEXT NOT NULL CHECK (role IN ('client', 'freelancer', 'arbitrator')),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS accounts (
	id         TEXT PRIMARY KEY,
	balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS escrows (
	id                 TEXT PRIMARY KEY,
	client_id          TEXT NOT NULL,
	freelancer_id      TEXT,
	arbitrator_account TEXT NOT NULL,
	title              TEXT NOT NULL,
	description        TEXT NOT NULL DEFAULT '',
	duration_seconds   BIGINT NOT NULL,
	fee_period_seconds BIGINT NOT NULL,
	extra_data         BYTEA,
	fund               BIGINT NOT NULL DEFAULT 0,
	highest_bid        BIGINT NOT NULL DEFAULT 0,
	status             TEXT NOT NULL,
	started_at         TIMESTAMPTZ,
	delivered_at       TIMESTAMPTZ,
	deadline           TIMESTAMPTZ,
	min_bid            BIGINT,
	auction_started_at TIMESTAMPTZ,
	auction_end_at     TIMESTAMPTZ,
	dispute_id         BIGINT,
	client_fee         BIGINT NOT NULL DEFAULT 0,
	freelancer_fee     BIGINT NOT NULL DEFAULT 0,
	ruling             SMALLINT,
	first_fee_at       TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_escrows_client ON escrows (client_id);
CREATE INDEX IF NOT EXISTS idx_escrows_status ON escrows (status);

CREATE TABLE IF NOT EXISTS escrow_bids (
	escrow_id   TEXT NOT NULL REFERENCES escrows (id) ON DELETE CASCADE,
	idx         INT NOT NULL,
	participant TEXT NOT NULL,
	amount      BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (escrow_id, idx)
);

CREATE TABLE IF NOT EXISTS timeline_events (
	id         BIGSERIAL PRIMARY KEY,
	escrow_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	payload    JSONB NOT NULL DEFAULT '{}'::jsonb,
	actor_id   TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_timeline_escrow ON timeline_events (escrow_id, id);

CREATE TABLE IF NOT EXISTS outbox (
	id         BIGSERIAL PRIMARY KEY,
	topic      TEXT NOT NULL,
	payload    JSONB NOT NULL DEFAULT '{}'::jsonb,
	status     TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent')),
	attempts   INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	sent_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox (id) WHERE status = 'pending';

CREATE TABLE IF NOT EXISTS disputes (
	id         BIGSERIAL PRIMARY KEY,
	escrow_id  TEXT NOT NULL,
	choices    BIGINT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'ruled')),
	ruling     SMALLINT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	ruled_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_disputes_escrow ON disputes (escrow_id);
`

// Migrate applies the schema against the pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("db: apply schema: %w", err)
	}
	return nil
}
