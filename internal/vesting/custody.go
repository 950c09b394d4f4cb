package vesting

import (
	"context"
	"errors"
	"fmt"

	"gradify.org/internal/ledger"
)

// Custody moves tokens between treasuries, escrows and beneficiaries.
// Every move carries an idempotency key so a retried operation never moves
// value twice.
type Custody interface {
	Open(ctx context.Context, account string) error
	Deposit(ctx context.Context, account string, amount uint64, key string) (string, error)
	Move(ctx context.Context, from, to string, amount uint64, key string) (string, error)
	Balance(ctx context.Context, account string) (uint64, error)
}

// LedgerCustody backs Custody with a single-token ledger.
type LedgerCustody struct {
	Ledger ledger.Service
	Token  string
}

var _ Custody = LedgerCustody{}

func (c LedgerCustody) Open(ctx context.Context, account string) error {
	_, err := c.Ledger.OpenAccount(ctx, account)
	return err
}

func (c LedgerCustody) Deposit(ctx context.Context, account string, amount uint64, key string) (string, error) {
	tx, err := c.Ledger.Deposit(ctx, account, ledger.Money{Currency: c.Token, Amount: amount}, key)
	if err != nil {
		return "", err
	}
	return tx.ID, nil
}

func (c LedgerCustody) Move(ctx context.Context, from, to string, amount uint64, key string) (string, error) {
	tx, err := c.Ledger.Transfer(ctx, from, to, ledger.Money{Currency: c.Token, Amount: amount}, key)
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return "", fmt.Errorf("%w: %v", ErrTreasuryUnderfunded, err)
	}
	if err != nil {
		return "", err
	}
	return tx.ID, nil
}

func (c LedgerCustody) Balance(ctx context.Context, account string) (uint64, error) {
	m, err := c.Ledger.GetBalance(ctx, account, c.Token)
	if errors.Is(err, ledger.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Amount, nil
}
