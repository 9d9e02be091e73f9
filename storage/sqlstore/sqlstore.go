// Package sqlstore is a database/sql Store for SQLite (modernc.org/sqlite) and
// PostgreSQL (lib/pq).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/cloudx-io/liveauction/core"
	"github.com/cloudx-io/liveauction/storage"
)

type dialect struct {
	name       string
	driver     string
	int64Type  string
	blobType   string
	numbered   bool // $1, $2 placeholders instead of ?
	uniqueHint string
}

var (
	sqliteDialect = dialect{
		name:       "sqlite",
		driver:     "sqlite",
		int64Type:  "INTEGER",
		blobType:   "BLOB",
		uniqueHint: "UNIQUE constraint failed",
	}
	postgresDialect = dialect{
		name:       "postgres",
		driver:     "postgres",
		int64Type:  "BIGINT",
		blobType:   "BYTEA",
		numbered:   true,
		uniqueHint: "duplicate key value",
	}
)

// Store persists auction facts in a SQL database.
type Store struct {
	sqlDB   *sql.DB
	dialect dialect
}

var _ storage.Store = (*Store)(nil)

// Times are unix nanoseconds so bids in the same millisecond keep their
// submission order.
func toNanos(value time.Time) int64 {
	return value.UTC().UnixNano()
}

func fromNanos(value int64) time.Time {
	return time.Unix(0, value).UTC()
}

func nullNanos(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*value), Valid: true}
}

func fromNullNanos(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromNanos(value.Int64)
	return &t
}

// Open opens a store for databaseType "sqlite" (dsn is a file path) or
// "postgres" (dsn is a connection URL) and creates the schema.
func Open(ctx context.Context, databaseType, dsn string) (*Store, error) {
	switch strings.ToLower(strings.TrimSpace(databaseType)) {
	case "", "sqlite":
		return OpenSQLite(ctx, dsn)
	case "postgres", "postgresql":
		return OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q", databaseType)
	}
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	return open(ctx, sqliteDialect, dsn)
}

// OpenPostgres connects to a PostgreSQL database.
func OpenPostgres(ctx context.Context, url string) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	return open(ctx, postgresDialect, url)
}

func open(ctx context.Context, d dialect, dsn string) (*Store, error) {
	sqlDB, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", d.name, err)
	}
	if d.name == "sqlite" {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY
		// under concurrent bid submission.
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s db: %w", d.name, err)
	}
	if err := createSchema(ctx, sqlDB, d); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &Store{sqlDB: sqlDB, dialect: d}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *Store) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.sqlDB.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.sqlDB.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.sqlDB.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), s.dialect.uniqueHint)
}

func parseAmount(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse stored amount %q: %w", value, err)
	}
	return d, nil
}

func (s *Store) CreateAuction(ctx context.Context, a core.Auction) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("auction id is required")
	}
	_, err := s.exec(ctx,
		`INSERT INTO auctions (id, code, name, starts_at, prize_value, entry_fee, created_at, cancelled_at, cancelled_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Code, a.Name, toNanos(a.StartsAt), a.PrizeValue.String(), a.EntryFee.String(),
		toNanos(a.CreatedAt), nullNanos(a.CancelledAt), a.CancelledBy,
	)
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

const auctionColumns = `id, code, name, starts_at, prize_value, entry_fee, created_at, cancelled_at, cancelled_by`

type scanner interface {
	Scan(dest ...any) error
}

func scanAuction(row scanner) (core.Auction, error) {
	var (
		a                    core.Auction
		startsAt, createdAt  int64
		prizeValue, entryFee string
		cancelledAt          sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &startsAt, &prizeValue, &entryFee, &createdAt, &cancelledAt, &a.CancelledBy); err != nil {
		return core.Auction{}, err
	}
	var err error
	if a.PrizeValue, err = parseAmount(prizeValue); err != nil {
		return core.Auction{}, err
	}
	if a.EntryFee, err = parseAmount(entryFee); err != nil {
		return core.Auction{}, err
	}
	a.StartsAt = fromNanos(startsAt)
	a.CreatedAt = fromNanos(createdAt)
	a.CancelledAt = fromNullNanos(cancelledAt)
	return a, nil
}

func (s *Store) GetAuction(ctx context.Context, id string) (core.Auction, error) {
	if err := s.ready(ctx); err != nil {
		return core.Auction{}, err
	}
	a, err := scanAuction(s.queryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Auction{}, core.ErrAuctionNotFound
	}
	if err != nil {
		return core.Auction{}, fmt.Errorf("get auction: %w", err)
	}
	return a, nil
}

func (s *Store) ListAuctions(ctx context.Context) ([]core.Auction, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, `SELECT `+auctionColumns+` FROM auctions ORDER BY starts_at`)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	var out []core.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auctions: %w", err)
	}
	return out, nil
}

func (s *Store) MarkCancelled(ctx context.Context, id string, at time.Time, by string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.exec(ctx,
		`UPDATE auctions SET cancelled_at = ?, cancelled_by = ? WHERE id = ? AND cancelled_at IS NULL`,
		toNanos(at), by, id,
	)
	if err != nil {
		return fmt.Errorf("cancel auction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Either unknown or already cancelled; only the former is an error.
		if _, err := s.GetAuction(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) UpsertParticipant(ctx context.Context, p core.Participant) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	paid := 0
	if p.EntryPaid {
		paid = 1
	}
	_, err := s.exec(ctx,
		`INSERT INTO participants (auction_id, user_id, display_name, entry_paid, entry_paid_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (auction_id, user_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   entry_paid = excluded.entry_paid,
		   entry_paid_at = excluded.entry_paid_at`,
		p.AuctionID, p.UserID, p.DisplayName, paid, nullNanos(p.EntryPaidAt),
	)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func scanParticipant(row scanner) (core.Participant, error) {
	var (
		p      core.Participant
		paid   int
		paidAt sql.NullInt64
	)
	if err := row.Scan(&p.AuctionID, &p.UserID, &p.DisplayName, &paid, &paidAt); err != nil {
		return core.Participant{}, err
	}
	p.EntryPaid = paid != 0
	p.EntryPaidAt = fromNullNanos(paidAt)
	return p, nil
}

func (s *Store) GetParticipant(ctx context.Context, auctionID, userID string) (core.Participant, error) {
	if err := s.ready(ctx); err != nil {
		return core.Participant{}, err
	}
	p, err := scanParticipant(s.queryRow(ctx,
		`SELECT auction_id, user_id, display_name, entry_paid, entry_paid_at
		 FROM participants WHERE auction_id = ? AND user_id = ?`,
		auctionID, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Participant{}, storage.ErrNotFound
	}
	if err != nil {
		return core.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *Store) ListParticipants(ctx context.Context, auctionID string) ([]core.Participant, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx,
		`SELECT auction_id, user_id, display_name, entry_paid, entry_paid_at
		 FROM participants WHERE auction_id = ? ORDER BY user_id`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []core.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return out, nil
}

func (s *Store) AppendBid(ctx context.Context, b core.Bid) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.exec(ctx,
		`INSERT INTO bids (id, auction_id, participant_id, round, amount, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (auction_id, participant_id, round) DO NOTHING`,
		b.ID, b.AuctionID, b.ParticipantID, b.Round, b.Amount.String(), toNanos(b.SubmittedAt),
	)
	if s.isUniqueViolation(err) {
		return core.ErrDuplicateBid
	}
	if err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert bid rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrDuplicateBid
	}
	return nil
}

func (s *Store) ListBids(ctx context.Context, auctionID string) ([]core.Bid, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx,
		`SELECT id, auction_id, participant_id, round, amount, submitted_at
		 FROM bids WHERE auction_id = ? ORDER BY submitted_at, id`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var out []core.Bid
	for rows.Next() {
		var (
			b           core.Bid
			amount      string
			submittedAt int64
		)
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.ParticipantID, &b.Round, &amount, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan bid: %w", err)
		}
		if b.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		b.SubmittedAt = fromNanos(submittedAt)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bids: %w", err)
	}
	return out, nil
}

func (s *Store) SaveWinners(ctx context.Context, record core.WinnerRecord) (err error) {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin winners tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO winner_records (auction_id, deciding_round, completed_at, resolved_at, proof)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (auction_id) DO NOTHING`),
		record.AuctionID, record.DecidingRound, toNanos(record.CompletedAt), toNanos(record.ResolvedAt), record.Proof,
	)
	if err != nil {
		return fmt.Errorf("insert winner record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert winner record rows affected: %w", err)
	}
	if n == 0 {
		err = core.ErrAlreadyResolved
		return err
	}

	for _, e := range record.Entries {
		if _, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO winner_entries (auction_id, rank, participant_id, amount, submitted_at)
			 VALUES (?, ?, ?, ?, ?)`),
			record.AuctionID, e.Rank, e.ParticipantID, e.Amount.String(), toNanos(e.SubmittedAt),
		); err != nil {
			return fmt.Errorf("insert winner entry: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit winners: %w", err)
	}
	return nil
}

func (s *Store) GetWinners(ctx context.Context, auctionID string) (core.WinnerRecord, error) {
	if err := s.ready(ctx); err != nil {
		return core.WinnerRecord{}, err
	}
	var (
		record                  core.WinnerRecord
		completedAt, resolvedAt int64
	)
	err := s.queryRow(ctx,
		`SELECT auction_id, deciding_round, completed_at, resolved_at, proof
		 FROM winner_records WHERE auction_id = ?`,
		auctionID,
	).Scan(&record.AuctionID, &record.DecidingRound, &completedAt, &resolvedAt, &record.Proof)
	if errors.Is(err, sql.ErrNoRows) {
		return core.WinnerRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return core.WinnerRecord{}, fmt.Errorf("get winner record: %w", err)
	}
	record.CompletedAt = fromNanos(completedAt)
	record.ResolvedAt = fromNanos(resolvedAt)

	rows, err := s.query(ctx,
		`SELECT rank, participant_id, amount, submitted_at
		 FROM winner_entries WHERE auction_id = ? ORDER BY rank`,
		auctionID,
	)
	if err != nil {
		return core.WinnerRecord{}, fmt.Errorf("list winner entries: %w", err)
	}
	defer rows.Close()

	record.Entries = []core.WinnerEntry{}
	for rows.Next() {
		var (
			e           core.WinnerEntry
			amount      string
			submittedAt int64
		)
		if err := rows.Scan(&e.Rank, &e.ParticipantID, &amount, &submittedAt); err != nil {
			return core.WinnerRecord{}, fmt.Errorf("scan winner entry: %w", err)
		}
		if e.Amount, err = parseAmount(amount); err != nil {
			return core.WinnerRecord{}, err
		}
		e.SubmittedAt = fromNanos(submittedAt)
		record.Entries = append(record.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return core.WinnerRecord{}, fmt.Errorf("iterate winner entries: %w", err)
	}
	return record, nil
}

func (s *Store) AppendClaimEvent(ctx context.Context, ev core.ClaimEvent) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.exec(ctx,
		`INSERT INTO claim_events (auction_id, rank, participant_id, kind, at) VALUES (?, ?, ?, ?, ?)`,
		ev.AuctionID, ev.Rank, ev.ParticipantID, string(ev.Kind), toNanos(ev.At),
	)
	if err != nil {
		return fmt.Errorf("insert claim event: %w", err)
	}
	return nil
}

func (s *Store) ListClaimEvents(ctx context.Context, auctionID string) ([]core.ClaimEvent, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx,
		`SELECT auction_id, rank, participant_id, kind, at
		 FROM claim_events WHERE auction_id = ? ORDER BY at`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list claim events: %w", err)
	}
	defer rows.Close()

	var out []core.ClaimEvent
	for rows.Next() {
		var (
			ev   core.ClaimEvent
			kind string
			at   int64
		)
		if err := rows.Scan(&ev.AuctionID, &ev.Rank, &ev.ParticipantID, &kind, &at); err != nil {
			return nil, fmt.Errorf("scan claim event: %w", err)
		}
		ev.Kind = core.ClaimEventKind(kind)
		ev.At = fromNanos(at)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claim events: %w", err)
	}
	return out, nil
}

func (s *Store) SavePayment(ctx context.Context, p storage.Payment) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.exec(ctx,
		`INSERT INTO payments (reference, kind, auction_id, participant_id, rank, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.Reference, string(p.Kind), p.AuctionID, p.ParticipantID, p.Rank, p.Amount.String(), toNanos(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, reference string) (storage.Payment, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Payment{}, err
	}
	var (
		p          storage.Payment
		kind       string
		amount     string
		createdAt  int64
		settlement string
		settledAt  sql.NullInt64
	)
	err := s.queryRow(ctx,
		`SELECT reference, kind, auction_id, participant_id, rank, amount, created_at, settlement, settled_at
		 FROM payments WHERE reference = ?`,
		reference,
	).Scan(&p.Reference, &kind, &p.AuctionID, &p.ParticipantID, &p.Rank, &amount, &createdAt, &settlement, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Payment{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	p.Kind = storage.PaymentKind(kind)
	if p.Amount, err = parseAmount(amount); err != nil {
		return storage.Payment{}, err
	}
	p.CreatedAt = fromNanos(createdAt)
	p.Settlement = storage.Settlement(settlement)
	p.SettledAt = fromNullNanos(settledAt)
	return p, nil
}

func (s *Store) SettlePayment(ctx context.Context, reference string, settlement storage.Settlement, at time.Time) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	res, err := s.exec(ctx,
		`UPDATE payments SET settlement = ?, settled_at = ? WHERE reference = ? AND settlement = ''`,
		string(settlement), toNanos(at), reference,
	)
	if err != nil {
		return false, fmt.Errorf("settle payment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("settle payment rows affected: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	if _, err := s.GetPayment(ctx, reference); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) MarkNotified(ctx context.Context, key string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	res, err := s.exec(ctx,
		`INSERT INTO notification_acks (ack_key, created_at) VALUES (?, ?) ON CONFLICT (ack_key) DO NOTHING`,
		key, toNanos(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert notification ack: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification ack rows affected: %w", err)
	}
	return n > 0, nil
}
