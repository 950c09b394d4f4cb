//go:build integration

package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"gradify.org/internal/ledger"
	"gradify.org/internal/migrate"
	"gradify.org/internal/vesting"
)

func startPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gradify"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
		tcpostgres.WithSQLDriver("pgx"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	store, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, migrate.NewManager(store.DB(), nil).Up(ctx))
	return store
}

func TestPostgresLedgerAndVestingFlow(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()

	_, err := store.OpenAccount(ctx, "treasury")
	require.NoError(t, err)
	_, err = store.OpenAccount(ctx, "escrow")
	require.NoError(t, err)

	const big = uint64(18446744073709551000)
	_, err = store.Deposit(ctx, "treasury", ledger.Money{Currency: "GRAD", Amount: big}, "seed")
	require.NoError(t, err)
	_, err = store.Transfer(ctx, "treasury", "escrow", ledger.Money{Currency: "GRAD", Amount: big - 1}, "reserve")
	require.NoError(t, err)
	_, err = store.Transfer(ctx, "treasury", "escrow", ledger.Money{Currency: "GRAD", Amount: 2}, "")
	require.True(t, errors.Is(err, ledger.ErrInsufficientFunds), "got %v", err)

	bal, err := store.GetBalance(ctx, "escrow", "GRAD")
	require.NoError(t, err)
	require.Equal(t, big-1, bal.Amount)

	vs := store.Vesting()
	prog := vesting.Program{Address: "p1", Owner: "o1", CompanyName: "Acme", Treasury: "treasury", Token: "GRAD"}
	require.NoError(t, vs.InsertProgram(ctx, prog))
	require.ErrorIs(t, vs.InsertProgram(ctx, vesting.Program{Address: "p2", Owner: "o1", CompanyName: "Acme", Treasury: "t2", Token: "GRAD"}), vesting.ErrProgramExists)

	rec := vesting.EmployeeRecord{
		Address:     "escrow",
		Program:     "p1",
		Beneficiary: "b1",
		Schedule:    vesting.Schedule{StartTime: 0, CliffTime: 100, EndTime: 1000, TotalAmount: big - 1},
	}
	require.NoError(t, vs.InsertEmployee(ctx, rec))
	require.ErrorIs(t, vs.InsertEmployee(ctx, rec), vesting.ErrEmployeeExists)

	got, err := vs.GetProgram(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.EmployeeCount)

	require.NoError(t, vs.UpdateWithdrawn(ctx, "escrow", 0, 100))
	require.ErrorIs(t, vs.UpdateWithdrawn(ctx, "escrow", 0, 200), vesting.ErrConcurrentUpdate)

	e, err := vs.GetEmployee(ctx, "escrow")
	require.NoError(t, err)
	require.Equal(t, uint64(100), e.TotalWithdrawn)
	require.Equal(t, big-1, e.Schedule.TotalAmount)

	progs, err := vs.ListPrograms(ctx, "", "Acme")
	require.NoError(t, err)
	require.Len(t, progs, 1)
}
