package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	uid                 TEXT PRIMARY KEY,
	owner               TEXT NOT NULL,
	sell_token          TEXT NOT NULL,
	buy_token           TEXT NOT NULL,
	sell_amount         NUMERIC(78, 0) NOT NULL,
	buy_amount          NUMERIC(78, 0) NOT NULL,
	fee_amount          NUMERIC(78, 0) NOT NULL,
	executed_amount     NUMERIC(78, 0) NOT NULL DEFAULT 0,
	side                TEXT NOT NULL,
	class               TEXT NOT NULL,
	partially_fillable  BOOLEAN NOT NULL DEFAULT FALSE,
	valid_to            BIGINT NOT NULL,
	signing_scheme      TEXT NOT NULL,
	presignature_block  BIGINT,
	creation_time       TIMESTAMPTZ NOT NULL DEFAULT now(),
	cancelled_at        TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_orders_open ON orders (valid_to) WHERE cancelled_at IS NULL;

CREATE TABLE IF NOT EXISTS auctions (
	id           BIGINT PRIMARY KEY,
	block        BIGINT NOT NULL,
	order_count  INT NOT NULL,
	deadline     TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS competition_results (
	auction_id    BIGINT PRIMARY KEY REFERENCES auctions (id),
	block         BIGINT NOT NULL,
	winner_count  INT NOT NULL,
	ranked_count  INT NOT NULL,
	recorded_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS competition_participants (
	auction_id          BIGINT NOT NULL REFERENCES competition_results (auction_id),
	driver              TEXT NOT NULL,
	solution_id         BIGINT NOT NULL,
	submission_address  TEXT NOT NULL,
	state               TEXT NOT NULL,
	computed_score      NUMERIC(78, 0) NOT NULL,
	solution_hash       TEXT NOT NULL,
	PRIMARY KEY (auction_id, driver, solution_id)
);

CREATE TABLE IF NOT EXISTS settlement_observations (
	auction_id   BIGINT PRIMARY KEY REFERENCES auctions (id),
	outcome      TEXT NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// InitSchema creates every table this store depends on if it doesn't
// already exist. Safe to call on every startup.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}
