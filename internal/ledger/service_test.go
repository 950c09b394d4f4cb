package ledger

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

func openFunded(t *testing.T, s *InMemory, id string, amount uint64) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.OpenAccount(ctx, id); err != nil {
		t.Fatal(err)
	}
	if amount == 0 {
		return
	}
	if _, err := s.Deposit(ctx, id, Money{Currency: "GRAD", Amount: amount}, ""); err != nil {
		t.Fatal(err)
	}
}

func TestTransferSuccessAndBalance(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	openFunded(t, s, "a", 1000)
	openFunded(t, s, "b", 0)

	_, err := s.Transfer(ctx, "a", "b", Money{Currency: "GRAD", Amount: 600}, "k1")
	if err != nil {
		t.Fatal(err)
	}
	ba, _ := s.GetBalance(ctx, "a", "GRAD")
	bb, _ := s.GetBalance(ctx, "b", "GRAD")

	if ba.Amount != 400 || bb.Amount != 600 {
		t.Fatalf("unexpected balances: a=%d b=%d", ba.Amount, bb.Amount)
	}
}

func TestOpenAccountIsIdempotent(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	openFunded(t, s, "treasury", 50)

	acc, err := s.OpenAccount(ctx, "treasury")
	if err != nil {
		t.Fatal(err)
	}
	if acc.Balances["GRAD"] != 50 {
		t.Fatalf("reopening reset the balance: %v", acc.Balances)
	}
	if _, err := s.OpenAccount(ctx, "  "); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestInsufficientFunds(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	openFunded(t, s, "a", 100)
	openFunded(t, s, "b", 0)

	if _, err := s.Transfer(ctx, "a", "b", Money{Currency: "GRAD", Amount: 200}, "k2"); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestDepositOverflowRejected(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	openFunded(t, s, "a", math.MaxUint64)

	if _, err := s.Deposit(ctx, "a", Money{Currency: "GRAD", Amount: 1}, ""); err != ErrBalanceOverflow {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
}

func TestIdempotency(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	openFunded(t, s, "a", 1000)
	openFunded(t, s, "b", 0)

	tx1, err := s.Transfer(ctx, "a", "b", Money{Currency: "GRAD", Amount: 100}, "same-key")
	if err != nil {
		t.Fatal(err)
	}
	tx2, err := s.Transfer(ctx, "a", "b", Money{Currency: "GRAD", Amount: 100}, "same-key")
	if err != nil {
		t.Fatal(err)
	}
	if tx1.ID != tx2.ID || tx1.Sequence != tx2.Sequence {
		t.Fatalf("idempotency violated: %#v != %#v", tx1, tx2)
	}
	bb, _ := s.GetBalance(ctx, "b", "GRAD")
	if bb.Amount != 100 {
		t.Fatalf("replayed transfer moved funds twice: %d", bb.Amount)
	}
}

func TestListTransactionsPaginates(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	openFunded(t, s, "a", 10)
	openFunded(t, s, "b", 0)
	for i := 0; i < 5; i++ {
		if _, err := s.Transfer(ctx, "a", "b", Money{Currency: "GRAD", Amount: 1}, ""); err != nil {
			t.Fatal(err)
		}
	}

	page, next, err := s.ListTransactions(ctx, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || next != page[2].Sequence {
		t.Fatalf("unexpected first page: %d items, next=%d", len(page), next)
	}
	rest, _, err := s.ListTransactions(ctx, 100, next)
	if err != nil {
		t.Fatal(err)
	}
	// one deposit + five transfers
	if len(rest) != 3 {
		t.Fatalf("expected 3 remaining transactions, got %d", len(rest))
	}
}

func TestConcurrentTransfers(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	openFunded(t, s, "a", 10000)
	openFunded(t, s, "b", 0)

	var wg sync.WaitGroup
	N := 50
	for i := 0; i < N; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Transfer(ctx, "a", "b", Money{Currency: "GRAD", Amount: 100}, "")
		}(i)
	}
	wg.Wait()

	ba, _ := s.GetBalance(ctx, "a", "GRAD")
	bb, _ := s.GetBalance(ctx, "b", "GRAD")
	if ba.Amount+bb.Amount != 10000 {
		t.Fatalf("conservation violated: a+b=%d", ba.Amount+bb.Amount)
	}
}
