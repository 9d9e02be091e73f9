package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Times are stored as UTC unix nanoseconds and money as decimal text so the
// same statements work on both dialects.
const schemaTemplate = `
CREATE TABLE IF NOT EXISTS auctions (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL,
    name TEXT NOT NULL,
    starts_at {{int64}} NOT NULL,
    prize_value TEXT NOT NULL,
    entry_fee TEXT NOT NULL,
    created_at {{int64}} NOT NULL,
    cancelled_at {{int64}},
    cancelled_by TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS participants (
    auction_id TEXT NOT NULL REFERENCES auctions(id),
    user_id TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    entry_paid INTEGER NOT NULL DEFAULT 0,
    entry_paid_at {{int64}},
    PRIMARY KEY (auction_id, user_id)
);

CREATE TABLE IF NOT EXISTS bids (
    id TEXT PRIMARY KEY,
    auction_id TEXT NOT NULL REFERENCES auctions(id),
    participant_id TEXT NOT NULL,
    round INTEGER NOT NULL CHECK (round BETWEEN 1 AND 4),
    amount TEXT NOT NULL,
    submitted_at {{int64}} NOT NULL,
    UNIQUE (auction_id, participant_id, round)
);

CREATE INDEX IF NOT EXISTS idx_bids_auction ON bids(auction_id, submitted_at);

CREATE TABLE IF NOT EXISTS winner_records (
    auction_id TEXT PRIMARY KEY REFERENCES auctions(id),
    deciding_round INTEGER NOT NULL,
    completed_at {{int64}} NOT NULL,
    resolved_at {{int64}} NOT NULL,
    proof {{blob}}
);

CREATE TABLE IF NOT EXISTS winner_entries (
    auction_id TEXT NOT NULL REFERENCES winner_records(auction_id),
    rank INTEGER NOT NULL,
    participant_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    submitted_at {{int64}} NOT NULL,
    PRIMARY KEY (auction_id, rank)
);

CREATE TABLE IF NOT EXISTS claim_events (
    auction_id TEXT NOT NULL REFERENCES auctions(id),
    rank INTEGER NOT NULL,
    participant_id TEXT NOT NULL,
    kind TEXT NOT NULL CHECK (kind IN ('CLAIMED', 'FORFEITED')),
    at {{int64}} NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_claim_events_auction ON claim_events(auction_id, at);

CREATE TABLE IF NOT EXISTS payments (
    reference TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    auction_id TEXT NOT NULL,
    participant_id TEXT NOT NULL,
    rank INTEGER NOT NULL DEFAULT 0,
    amount TEXT NOT NULL,
    created_at {{int64}} NOT NULL,
    settlement TEXT NOT NULL DEFAULT '',
    settled_at {{int64}}
);

CREATE TABLE IF NOT EXISTS notification_acks (
    ack_key TEXT PRIMARY KEY,
    created_at {{int64}} NOT NULL
);
`

func schemaFor(d dialect) string {
	r := strings.NewReplacer(
		"{{int64}}", d.int64Type,
		"{{blob}}", d.blobType,
	)
	return r.Replace(schemaTemplate)
}

// createSchema is safe to call on every start; every statement is
// IF NOT EXISTS.
func createSchema(ctx context.Context, db *sql.DB, d dialect) error {
	if _, err := db.ExecContext(ctx, schemaFor(d)); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
