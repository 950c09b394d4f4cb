package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"gradify.org/internal/ids"
	"gradify.org/internal/ledger"
)

// Store is the Postgres ledger. Amounts live in numeric(20,0) columns and
// cross the driver as decimal text so the full uint64 range round-trips.
type Store struct {
	db *sql.DB
}

var _ ledger.Service = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Vesting returns the program and record store sharing this pool.
func (s *Store) Vesting() *VestingStore { return &VestingStore{db: s.db} }

func (s *Store) OpenAccount(ctx context.Context, id string) (ledger.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ledger.Account{}, ledger.ErrInvalidAccount
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into accounts(id, created_at) values ($1, now())
		on conflict (id) do nothing
	`, id); err != nil {
		return ledger.Account{}, err
	}
	return s.GetAccount(ctx, id)
}

func (s *Store) GetAccount(ctx context.Context, id string) (ledger.Account, error) {
	var created time.Time
	err := s.db.QueryRowContext(ctx, `select created_at from accounts where id=$1`, id).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Account{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Account{}, err
	}

	rows, err := s.db.QueryContext(ctx, `select currency, amount::text from balances where account_id=$1`, id)
	if err != nil {
		return ledger.Account{}, err
	}
	defer rows.Close()

	bals := map[string]uint64{}
	for rows.Next() {
		var c, raw string
		if err := rows.Scan(&c, &raw); err != nil {
			return ledger.Account{}, err
		}
		a, err := parseAmount(raw)
		if err != nil {
			return ledger.Account{}, err
		}
		bals[c] = a
	}
	if err := rows.Err(); err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{ID: id, CreatedAt: created, Balances: bals}, nil
}

func (s *Store) GetBalance(ctx context.Context, id, currency string) (ledger.Money, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `
		select coalesce(b.amount,0)::text
		from accounts a
		left join balances b on b.account_id=a.id and b.currency=$2
		where a.id=$1
	`, id, currency).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Money{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Money{}, err
	}
	amt, err := parseAmount(raw)
	if err != nil {
		return ledger.Money{}, err
	}
	return ledger.Money{Currency: currency, Amount: amt}, nil
}

func (s *Store) Deposit(ctx context.Context, toID string, amt ledger.Money, idemKey string) (ledger.Transaction, error) {
	return s.apply(ctx, "", toID, amt, idemKey)
}

func (s *Store) Transfer(ctx context.Context, fromID, toID string, amt ledger.Money, idemKey string) (ledger.Transaction, error) {
	if strings.TrimSpace(fromID) == "" {
		return ledger.Transaction{}, ledger.ErrInvalidAccount
	}
	return s.apply(ctx, fromID, toID, amt, idemKey)
}

func (s *Store) apply(ctx context.Context, fromID, toID string, amt ledger.Money, idemKey string) (ledger.Transaction, error) {
	if !amt.IsPositive() {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	if amt.Currency == "" {
		return ledger.Transaction{}, ledger.ErrInvalidCurrency
	}
	if strings.TrimSpace(toID) == "" || fromID == toID {
		return ledger.Transaction{}, ledger.ErrInvalidAccount
	}
	amount := strconv.FormatUint(amt.Amount, 10)

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return ledger.Transaction{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return existing tx if idemKey already recorded
	if idemKey != "" {
		t, err := scanTransaction(tx.QueryRowContext(ctx, `
			select id, created_at, coalesce(from_account_id,''), to_account_id, currency, amount::text, sequence, coalesce(idempotency_key,'')
			from transactions where idempotency_key=$1
		`, idemKey))
		if err == nil {
			return t, nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return ledger.Transaction{}, err
		}
	}

	// Lock accounts to ensure existence and stable ordering to avoid deadlocks
	for _, acc := range sorted(fromID, toID) {
		if acc == "" {
			continue
		}
		var dummy int
		if err := tx.QueryRowContext(ctx, `select 1 from accounts where id=$1 for update`, acc).Scan(&dummy); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ledger.Transaction{}, ledger.ErrNotFound
			}
			return ledger.Transaction{}, err
		}
	}

	for _, acc := range []string{fromID, toID} {
		if acc == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			insert into balances(account_id, currency, amount)
			values ($1,$2,0) on conflict do nothing
		`, acc, amt.Currency); err != nil {
			return ledger.Transaction{}, err
		}
	}

	if fromID != "" {
		var raw string
		if err := tx.QueryRowContext(ctx, `
			select amount::text from balances where account_id=$1 and currency=$2 for update
		`, fromID, amt.Currency).Scan(&raw); err != nil {
			return ledger.Transaction{}, ledger.ErrNotFound
		}
		fromBal, err := parseAmount(raw)
		if err != nil {
			return ledger.Transaction{}, err
		}
		if fromBal < amt.Amount {
			return ledger.Transaction{}, ledger.ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx, `
			update balances set amount = amount - $3::numeric
			where account_id=$1 and currency=$2
		`, fromID, amt.Currency, amount); err != nil {
			return ledger.Transaction{}, err
		}
	}

	var raw string
	if err := tx.QueryRowContext(ctx, `
		select amount::text from balances where account_id=$1 and currency=$2 for update
	`, toID, amt.Currency).Scan(&raw); err != nil {
		return ledger.Transaction{}, err
	}
	toBal, err := parseAmount(raw)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if toBal+amt.Amount < toBal {
		return ledger.Transaction{}, ledger.ErrBalanceOverflow
	}
	if _, err := tx.ExecContext(ctx, `
		update balances set amount = amount + $3::numeric
		where account_id=$1 and currency=$2
	`, toID, amt.Currency, amount); err != nil {
		return ledger.Transaction{}, err
	}

	// Record transaction
	tid := ids.New()
	var (
		seq     uint64
		created time.Time
	)
	if err := tx.QueryRowContext(ctx, `
		insert into transactions(id, from_account_id, to_account_id, currency, amount, idempotency_key)
		values ($1,nullif($2,''),$3,$4,$5::numeric,nullif($6,'')) returning sequence, created_at
	`, tid, fromID, toID, amt.Currency, amount, idemKey).Scan(&seq, &created); err != nil {
		return ledger.Transaction{}, err
	}

	if err := tx.Commit(); err != nil {
		return ledger.Transaction{}, err
	}

	return ledger.Transaction{
		ID:             tid,
		CreatedAt:      created,
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Currency:       amt.Currency,
		Amount:         amt.Amount,
		IdempotencyKey: idemKey,
		Sequence:       seq,
	}, nil
}

func (s *Store) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]ledger.Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, created_at, coalesce(from_account_id,''), to_account_id, currency, amount::text, sequence, coalesce(idempotency_key,'')
		from transactions
		where sequence > $1
		order by sequence asc
		limit $2
	`, int64(afterSeq), limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var res []ledger.Transaction
	var last uint64
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, tx)
		last = tx.Sequence
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return res, last, nil
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		t   ledger.Transaction
		raw string
	)
	if err := row.Scan(&t.ID, &t.CreatedAt, &t.FromAccountID, &t.ToAccountID, &t.Currency, &raw, &t.Sequence, &t.IdempotencyKey); err != nil {
		return ledger.Transaction{}, err
	}
	amt, err := parseAmount(raw)
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.Amount = amt
	return t, nil
}

func parseAmount(raw string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}

func sorted(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
