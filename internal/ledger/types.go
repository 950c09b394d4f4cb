package ledger

import (
	"errors"
	"time"

	"gradify.org/internal/ids"
)

// Money is an amount of a single token in its smallest unit. No floats.
type Money struct {
	Currency string `json:"currency"`
	Amount   uint64 `json:"amount"`
}

func (m Money) IsPositive() bool { return m.Amount > 0 }
func (m Money) IsZero() bool     { return m.Amount == 0 }

// Account holds per-currency balances. Vesting opens accounts under derived
// addresses (treasuries, escrows) and wallet addresses (beneficiaries).
type Account struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Balances  map[string]uint64 `json:"balances"` // currency -> units
}

// Transaction is a double-entry move. FromAccountID is empty for deposits
// that bring new units into the ledger.
type Transaction struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	FromAccountID  string    `json:"from_account_id,omitempty"`
	ToAccountID    string    `json:"to_account_id"`
	Currency       string    `json:"currency"`
	Amount         uint64    `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Sequence       uint64    `json:"sequence"` // monotonic sequence number
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount (must be > 0)")
	ErrInvalidCurrency   = errors.New("invalid currency")
	ErrInvalidAccount    = errors.New("invalid account id")
	ErrBalanceOverflow   = errors.New("balance overflow")
)

func newID() string {
	return ids.New()
}
