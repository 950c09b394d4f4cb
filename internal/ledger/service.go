package ledger

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Service defines ledger operations.
type Service interface {
	// OpenAccount creates the account if it does not exist yet and returns it.
	OpenAccount(ctx context.Context, id string) (Account, error)
	GetAccount(ctx context.Context, id string) (Account, error)
	GetBalance(ctx context.Context, id, currency string) (Money, error)
	Deposit(ctx context.Context, toID string, amt Money, idemKey string) (Transaction, error)
	Transfer(ctx context.Context, fromID, toID string, amt Money, idemKey string) (Transaction, error)
	ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error)
}

// InMemory implements Service with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	accts map[string]*Account
	seq   uint64
	txs   []Transaction
	idem  map[string]Transaction // idemKey -> tx
}

// NewInMemory creates a fresh ledger.
func NewInMemory() *InMemory {
	return &InMemory{
		accts: make(map[string]*Account),
		idem:  make(map[string]Transaction),
	}
}

func (s *InMemory) OpenAccount(ctx context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Account{}, ErrInvalidAccount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accts[id]
	if !ok {
		acc = &Account{
			ID:        id,
			CreatedAt: time.Now().UTC(),
			Balances:  map[string]uint64{},
		}
		s.accts[id] = acc
	}
	return copyAccount(acc), nil
}

func (s *InMemory) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return copyAccount(acc), nil
}

func (s *InMemory) GetBalance(ctx context.Context, id, currency string) (Money, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accts[id]
	if !ok {
		return Money{}, ErrNotFound
	}
	return Money{Currency: currency, Amount: acc.Balances[currency]}, nil
}

func (s *InMemory) Deposit(ctx context.Context, toID string, amt Money, idemKey string) (Transaction, error) {
	return s.apply(ctx, "", toID, amt, idemKey)
}

func (s *InMemory) Transfer(ctx context.Context, fromID, toID string, amt Money, idemKey string) (Transaction, error) {
	if strings.TrimSpace(fromID) == "" {
		return Transaction{}, ErrInvalidAccount
	}
	return s.apply(ctx, fromID, toID, amt, idemKey)
}

func (s *InMemory) apply(ctx context.Context, fromID, toID string, amt Money, idemKey string) (Transaction, error) {
	if !amt.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if amt.Currency == "" {
		return Transaction{}, ErrInvalidCurrency
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Idempotency
	if idemKey != "" {
		if tx, ok := s.idem[idemKey]; ok {
			return tx, nil
		}
	}

	to, ok := s.accts[toID]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	var from *Account
	if fromID != "" {
		from, ok = s.accts[fromID]
		if !ok {
			return Transaction{}, ErrNotFound
		}
		if from.Balances[amt.Currency] < amt.Amount {
			return Transaction{}, ErrInsufficientFunds
		}
	}
	if to.Balances[amt.Currency]+amt.Amount < amt.Amount {
		return Transaction{}, ErrBalanceOverflow
	}

	// Apply mutation
	if from != nil {
		from.Balances[amt.Currency] -= amt.Amount
	}
	to.Balances[amt.Currency] += amt.Amount

	s.seq++
	tx := Transaction{
		ID:             newID(),
		CreatedAt:      time.Now().UTC(),
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Currency:       amt.Currency,
		Amount:         amt.Amount,
		IdempotencyKey: idemKey,
		Sequence:       s.seq,
	}
	s.txs = append(s.txs, tx)
	if idemKey != "" {
		s.idem[idemKey] = tx
	}
	return tx, nil
}

func (s *InMemory) ListTransactions(ctx context.Context, limit int, afterSeq uint64) ([]Transaction, uint64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Transaction
	var last uint64
	for _, tx := range s.txs {
		if tx.Sequence <= afterSeq {
			continue
		}
		res = append(res, tx)
		last = tx.Sequence
		if len(res) >= limit {
			break
		}
	}
	return res, last, nil
}

func copyAccount(acc *Account) Account {
	out := *acc
	out.Balances = make(map[string]uint64, len(acc.Balances))
	for k, v := range acc.Balances {
		out.Balances[k] = v
	}
	return out
}
