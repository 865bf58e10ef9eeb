// Package escrow is a development stand-in for the on-chain escrow that
// pays storage nodes per accepted proof. It keeps escrow accounts in SQLite
// and serves the gateway's HTTP endpoints.
package escrow

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"

    "golang.org/x/xerrors"
    _ "modernc.org/sqlite"

    "github.com/zmlAEQ/Aequa-storage/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS escrows (
    "pubkey" text PRIMARY KEY,
    "buyer_pubkey" text NOT NULL,
    "seller_pubkey" text NOT NULL,
    "u" text NOT NULL,
    "g" text NOT NULL,
    "v" text NOT NULL,
    "number_of_blocks" integer NOT NULL,
    "query_size" integer NOT NULL,
    "validate_every" integer NOT NULL,
    "last_prove_date" integer DEFAULT 0,
    "balance" integer DEFAULT 0,
    "queries" text DEFAULT '[]',
    "queries_generation_time" integer DEFAULT 0,
    "ended_by_buyer" boolean DEFAULT 0,
    "ended_by_seller" boolean DEFAULT 0,
    "subscription_duration" integer DEFAULT 0,
    "subscription_id" integer NOT NULL
);
CREATE TABLE IF NOT EXISTS payouts (
    "pubkey" text PRIMARY KEY,
    "lamports" integer NOT NULL
);`

var ErrNotFound = errors.New("escrow: account not found")

// Account is one escrow row.
type Account struct {
    Pubkey string
    ledger.EscrowState
}

// Store persists escrow accounts.
type Store struct {
    db *sql.DB
}

// OpenStore opens the database at path; ":memory:" keeps it in memory.
func OpenStore(path string) (*Store, error) {
    db, err := sql.Open("sqlite", path)
    if err != nil { return nil, xerrors.Errorf("escrow: open %s: %w", path, err) }
    db.SetMaxOpenConns(1)
    if _, err := db.Exec(schema); err != nil { _ = db.Close(); return nil, xerrors.Errorf("escrow: schema: %w", err) }
    return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) NextSubscriptionID(ctx context.Context) (uint64, error) {
    var max sql.NullInt64
    if err := s.db.QueryRowContext(ctx, `SELECT MAX("subscription_id") FROM escrows`).Scan(&max); err != nil { return 0, err }
    return uint64(max.Int64) + 1, nil
}

func (s *Store) Insert(ctx context.Context, a Account) error {
    q, err := json.Marshal(a.Queries)
    if err != nil { return err }
    _, err = s.db.ExecContext(ctx, `INSERT INTO escrows ("pubkey","buyer_pubkey","seller_pubkey","u","g","v",
        "number_of_blocks","query_size","validate_every","last_prove_date","balance","queries",
        "queries_generation_time","ended_by_buyer","ended_by_seller","subscription_duration","subscription_id")
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
        a.Pubkey, a.BuyerPubkey, a.SellerPubkey, a.U, a.G, a.V,
        int64(a.NumberOfBlocks), int64(a.QuerySize), a.ValidateEvery, a.LastProveDate, int64(a.Balance), string(q),
        a.QueriesGenerationTime, a.EndedByBuyer, a.EndedBySeller, int64(a.SubscriptionDuration), int64(a.SubscriptionID))
    return err
}

// Update writes the mutable fields of a.
func (s *Store) Update(ctx context.Context, a Account) error {
    q, err := json.Marshal(a.Queries)
    if err != nil { return err }
    res, err := s.db.ExecContext(ctx, `UPDATE escrows SET "last_prove_date"=?, "balance"=?, "queries"=?,
        "queries_generation_time"=?, "ended_by_buyer"=?, "ended_by_seller"=?, "subscription_duration"=?
        WHERE "pubkey"=?`,
        a.LastProveDate, int64(a.Balance), string(q), a.QueriesGenerationTime, a.EndedByBuyer, a.EndedBySeller,
        int64(a.SubscriptionDuration), a.Pubkey)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (s *Store) Get(ctx context.Context, pubkey string) (Account, error) {
    var (
        a                              Account
        blocks, qsize, bal, dur, subID int64
        queries                        string
    )
    err := s.db.QueryRowContext(ctx, `SELECT "pubkey","buyer_pubkey","seller_pubkey","u","g","v","number_of_blocks",
        "query_size","validate_every","last_prove_date","balance","queries","queries_generation_time",
        "ended_by_buyer","ended_by_seller","subscription_duration","subscription_id" FROM escrows WHERE "pubkey"=?`, pubkey).
        Scan(&a.Pubkey, &a.BuyerPubkey, &a.SellerPubkey, &a.U, &a.G, &a.V, &blocks, &qsize, &a.ValidateEvery,
            &a.LastProveDate, &bal, &queries, &a.QueriesGenerationTime, &a.EndedByBuyer, &a.EndedBySeller, &dur, &subID)
    if errors.Is(err, sql.ErrNoRows) { return Account{}, ErrNotFound }
    if err != nil { return Account{}, err }
    a.NumberOfBlocks, a.QuerySize, a.Balance = uint64(blocks), uint64(qsize), uint64(bal)
    a.SubscriptionDuration, a.SubscriptionID = uint64(dur), uint64(subID)
    if err := json.Unmarshal([]byte(queries), &a.Queries); err != nil { return Account{}, xerrors.Errorf("escrow: queries column: %w", err) }
    return a, nil
}

// Credit adds lamports to a payout account.
func (s *Store) Credit(ctx context.Context, pubkey string, amount uint64) error {
    _, err := s.db.ExecContext(ctx, `INSERT INTO payouts ("pubkey","lamports") VALUES (?,?)
        ON CONFLICT("pubkey") DO UPDATE SET "lamports" = "lamports" + excluded."lamports"`, pubkey, int64(amount))
    return err
}

func (s *Store) Payout(ctx context.Context, pubkey string) (uint64, error) {
    var v int64
    err := s.db.QueryRowContext(ctx, `SELECT "lamports" FROM payouts WHERE "pubkey"=?`, pubkey).Scan(&v)
    if errors.Is(err, sql.ErrNoRows) { return 0, nil }
    return uint64(v), err
}
