package vesting

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gradify.org/internal/ledger"
	"gradify.org/internal/stream"
)

const epoch = int64(1_767_225_600) // 2026-01-01T00:00:00Z

type harness struct {
	svc     *Service
	clock   *clockwork.FakeClock
	store   Store
	ledger  *ledger.InMemory
	custody Custody
	events  *recorder
}

type recorder struct {
	mu     sync.Mutex
	events []stream.Event
}

func (r *recorder) Publish(evt stream.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harnessOption func(*harness)

func withStore(wrap func(Store) Store) harnessOption {
	return func(h *harness) { h.store = wrap(h.store) }
}

func withCustody(wrap func(Custody) Custody) harnessOption {
	return func(h *harness) { h.custody = wrap(h.custody) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		clock:  clockwork.NewFakeClockAt(time.Unix(epoch, 0)),
		store:  NewMemoryStore(),
		ledger: ledger.NewInMemory(),
		events: &recorder{},
	}
	h.custody = LedgerCustody{Ledger: h.ledger, Token: DefaultToken}
	for _, opt := range opts {
		opt(h)
	}
	svc, err := New(Config{
		Clock:   h.clock,
		Store:   h.store,
		Custody: h.custody,
		Events:  h.events,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

// at moves the fake clock to epoch+offset seconds.
func (h *harness) at(offset int64) {
	h.clock.Advance(time.Unix(epoch+offset, 0).Sub(h.clock.Now()))
}

func (h *harness) balance(t *testing.T, account string) uint64 {
	t.Helper()
	b, err := h.custody.Balance(context.Background(), account)
	require.NoError(t, err)
	return b
}

func wallet() string { return solana.NewWallet().PublicKey().String() }

// exampleGrant is the worked schedule shifted onto the fake clock.
func exampleGrant() Schedule {
	return Schedule{StartTime: epoch, CliffTime: epoch + 100, EndTime: epoch + 1000, TotalAmount: 1000}
}

func (h *harness) fundedProgram(t *testing.T, owner, name string, amount uint64) Program {
	t.Helper()
	ctx := context.Background()
	prog, err := h.svc.CreateProgram(ctx, owner, name)
	require.NoError(t, err)
	if amount > 0 {
		_, err = h.svc.FundTreasury(ctx, owner, prog.Address, amount, "seed:"+prog.Address)
		require.NoError(t, err)
	}
	return prog
}

func TestNewRequiresStoreAndCustody(t *testing.T) {
	_, err := New(Config{Custody: LedgerCustody{Ledger: ledger.NewInMemory()}})
	require.Error(t, err)
	_, err = New(Config{Store: NewMemoryStore()})
	require.Error(t, err)
}

func TestCreateProgram(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := wallet()

	prog, err := h.svc.CreateProgram(ctx, owner, "Acme")
	require.NoError(t, err)
	assert.Equal(t, owner, prog.Owner)
	assert.Equal(t, "Acme", prog.CompanyName)
	assert.Equal(t, uint64(0), prog.EmployeeCount)
	assert.Equal(t, DefaultToken, prog.Token)

	want, err := h.svc.Deriver().ProgramAddress(solana.MustPublicKeyFromBase58(owner), "Acme")
	require.NoError(t, err)
	assert.Equal(t, want.String(), prog.Address)

	_, err = h.svc.CreateProgram(ctx, owner, "Acme")
	require.ErrorIs(t, err, ErrProgramExists)

	// Another owner may reuse the name.
	_, err = h.svc.CreateProgram(ctx, wallet(), "Acme")
	require.NoError(t, err)

	_, err = h.svc.CreateProgram(ctx, owner, strings.Repeat("n", MaxCompanyNameLength+1))
	require.ErrorIs(t, err, ErrInvalidCompanyName)
	_, err = h.svc.CreateProgram(ctx, "nope", "Acme")
	require.ErrorIs(t, err, ErrInvalidIdentity)

	list, err := h.svc.ListPrograms(ctx, owner, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, prog.Address, list[0].Address)
}

func TestCreateProgramConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t)
	owner := wallet()

	const n = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CreateProgram(context.Background(), owner, "Race")
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrProgramExists)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 0, h.svc.locks.size())
}

func TestCreateEmployee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 5000)

	rec, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)
	assert.Equal(t, prog.Address, rec.Program)
	assert.Equal(t, ben, rec.Beneficiary)
	assert.Equal(t, uint64(0), rec.TotalWithdrawn)

	got, err := h.svc.GetProgram(ctx, prog.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.EmployeeCount)

	assert.Equal(t, uint64(4000), h.balance(t, prog.Treasury))
	assert.Equal(t, uint64(1000), h.balance(t, rec.Address))

	_, err = h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.ErrorIs(t, err, ErrEmployeeExists)
	assert.Equal(t, uint64(4000), h.balance(t, prog.Treasury))

	assert.Equal(t, []string{
		stream.TypeProgramCreated,
		stream.TypeTreasuryFunded,
		stream.TypeEmployeeCreated,
	}, h.events.types())
}

func TestCreateEmployeeRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := wallet()
	prog := h.fundedProgram(t, owner, "Acme", 5000)

	bad := exampleGrant()
	bad.CliffTime = bad.EndTime + 1
	_, err := h.svc.CreateEmployee(ctx, owner, prog.Address, wallet(), bad)
	require.ErrorIs(t, err, ErrInvalidVestingPeriod)

	_, err = h.svc.CreateEmployee(ctx, wallet(), prog.Address, wallet(), exampleGrant())
	require.ErrorIs(t, err, ErrNotProgramOwner)

	_, err = h.svc.CreateEmployee(ctx, owner, wallet(), wallet(), exampleGrant())
	require.ErrorIs(t, err, ErrProgramNotFound)

	_, err = h.svc.CreateEmployee(ctx, owner, prog.Address, "bogus", exampleGrant())
	require.ErrorIs(t, err, ErrInvalidIdentity)

	got, err := h.svc.GetProgram(ctx, prog.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.EmployeeCount)
	assert.Equal(t, uint64(5000), h.balance(t, prog.Treasury))
}

func TestCreateEmployeeUnderfundedTreasury(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 999)

	_, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.ErrorIs(t, err, ErrTreasuryUnderfunded)

	emps, err := h.svc.ListEmployees(ctx, prog.Address)
	require.NoError(t, err)
	assert.Empty(t, emps)
	assert.Equal(t, uint64(999), h.balance(t, prog.Treasury))

	// Neither the escrow nor the beneficiary account was opened.
	escrow, err := h.svc.Deriver().EmployeeAddress(
		solana.MustPublicKeyFromBase58(prog.Address), solana.MustPublicKeyFromBase58(ben))
	require.NoError(t, err)
	for _, acct := range []string{escrow.String(), ben} {
		_, err = h.ledger.GetAccount(ctx, acct)
		require.ErrorIs(t, err, ledger.ErrNotFound, acct)
	}
	txs, _, err := h.ledger.ListTransactions(ctx, 100, 0)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	// Topping up lets the same grant through.
	_, err = h.svc.FundTreasury(ctx, owner, prog.Address, 1, "")
	require.NoError(t, err)
	_, err = h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.balance(t, prog.Treasury))
}

type failingInsertStore struct {
	Store
	fail bool
}

func (s *failingInsertStore) InsertEmployee(ctx context.Context, e EmployeeRecord) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.InsertEmployee(ctx, e)
}

func TestCreateEmployeeReleasesReservationOnInsertFailure(t *testing.T) {
	var fs *failingInsertStore
	h := newHarness(t, withStore(func(s Store) Store {
		fs = &failingInsertStore{Store: s, fail: true}
		return fs
	}))
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 1000)

	_, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.EqualError(t, err, "disk full")
	assert.Equal(t, uint64(1000), h.balance(t, prog.Treasury))

	fs.fail = false
	rec, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), h.balance(t, prog.Treasury))
	assert.Equal(t, uint64(1000), h.balance(t, rec.Address))
}

func TestServiceClaimWorkedScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 1000)
	rec, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)

	h.at(50)
	_, err = h.svc.Claim(ctx, ben, "Acme", "")
	require.ErrorIs(t, err, ErrClaimNotAvailableYet)

	h.at(100)
	r, err := h.svc.Claim(ctx, ben, "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), r.Amount)
	assert.Equal(t, rec.Address, r.Employee)
	assert.NotEmpty(t, r.TransactionID)

	h.at(550)
	r, err = h.svc.Claim(ctx, ben, "Acme", owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(450), r.Amount)
	assert.Equal(t, uint64(550), r.TotalWithdrawn)

	_, err = h.svc.Claim(ctx, ben, "Acme", "")
	require.ErrorIs(t, err, ErrNothingToClaim)

	h.at(1000)
	r, err = h.svc.Claim(ctx, ben, "Acme", "")
	require.NoError(t, err)
	assert.Equal(t, uint64(450), r.Amount)

	h.at(2000)
	_, err = h.svc.Claim(ctx, ben, "Acme", "")
	require.ErrorIs(t, err, ErrNothingToClaim)

	// Conservation: the whole grant reached the beneficiary, escrow is empty.
	assert.Equal(t, uint64(1000), h.balance(t, ben))
	assert.Equal(t, uint64(0), h.balance(t, rec.Address))

	view, err := h.svc.GetEmployee(ctx, rec.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), view.TotalWithdrawn)
	assert.Equal(t, uint64(0), view.Claimable)
	assert.Equal(t, "completed", view.Status)
}

func TestClaimResolution(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ownerA, ownerB, ben := wallet(), wallet(), wallet()
	progA := h.fundedProgram(t, ownerA, "Shared", 2000)
	progB := h.fundedProgram(t, ownerB, "Shared", 2000)
	h.at(500)

	_, err := h.svc.Claim(ctx, ben, "Unknown", "")
	require.ErrorIs(t, err, ErrProgramNotFound)
	_, err = h.svc.Claim(ctx, ben, "Shared", "")
	require.ErrorIs(t, err, ErrEmployeeNotFound)

	_, err = h.svc.CreateEmployee(ctx, ownerA, progA.Address, ben, exampleGrant())
	require.NoError(t, err)
	_, err = h.svc.CreateEmployee(ctx, ownerB, progB.Address, ben, exampleGrant())
	require.NoError(t, err)

	_, err = h.svc.Claim(ctx, ben, "Shared", "")
	require.ErrorIs(t, err, ErrAmbiguousProgram)

	r, err := h.svc.Claim(ctx, ben, "Shared", ownerB)
	require.NoError(t, err)
	assert.Equal(t, progB.Address, r.Program)
	assert.Equal(t, uint64(500), r.Amount)

	// A stranger has no record.
	_, err = h.svc.Claim(ctx, wallet(), "Shared", ownerA)
	require.ErrorIs(t, err, ErrEmployeeNotFound)
}

func TestClaimRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 1000)
	rec, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)
	h.at(1000)

	_, err = h.svc.ClaimRecord(ctx, wallet(), rec.Address)
	require.ErrorIs(t, err, ErrEmployeeNotFound)

	r, err := h.svc.ClaimRecord(ctx, ben, rec.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), r.Amount)
	assert.Equal(t, "Acme", r.CompanyName)
}

type failingMoveCustody struct {
	Custody
	failPrefix string
}

func (c failingMoveCustody) Move(ctx context.Context, from, to string, amount uint64, key string) (string, error) {
	if strings.HasPrefix(key, c.failPrefix) {
		return "", errors.New("custody unavailable")
	}
	return c.Custody.Move(ctx, from, to, amount, key)
}

func TestClaimRevertsWithdrawnWhenTransferFails(t *testing.T) {
	h := newHarness(t, withCustody(func(c Custody) Custody {
		return failingMoveCustody{Custody: c, failPrefix: "claim:"}
	}))
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 1000)
	rec, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)
	h.at(550)

	_, err = h.svc.Claim(ctx, ben, "Acme", "")
	require.ErrorContains(t, err, "custody unavailable")

	view, err := h.svc.GetEmployee(ctx, rec.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), view.TotalWithdrawn)
	assert.Equal(t, uint64(550), view.Claimable)
	assert.Equal(t, uint64(1000), h.balance(t, rec.Address))
}

func TestConcurrentClaimsReleaseOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 1000)
	_, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)
	h.at(700)

	const n = 20
	var wg sync.WaitGroup
	amounts := make(chan uint64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.svc.Claim(ctx, ben, "Acme", "")
			if err != nil {
				assert.ErrorIs(t, err, ErrNothingToClaim)
				return
			}
			amounts <- r.Amount
		}()
	}
	wg.Wait()
	close(amounts)

	var total uint64
	for a := range amounts {
		total += a
	}
	assert.Equal(t, uint64(700), total)
	assert.Equal(t, uint64(700), h.balance(t, ben))
}

func TestClaimPanicsOnCorruptRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 1000)
	rec, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateWithdrawn(ctx, rec.Address, 0, 900))
	h.at(500)

	assert.Panics(t, func() { _, _ = h.svc.Claim(ctx, ben, "Acme", "") })
	// The record lock was released by the panic.
	assert.Equal(t, 0, h.svc.locks.size())
}

func TestProgramMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := wallet()
	prog := h.fundedProgram(t, owner, "Acme", 5000)

	early := exampleGrant()
	late := Schedule{StartTime: epoch + 600, CliffTime: epoch + 800, EndTime: epoch + 1600, TotalAmount: 2000}
	done := Schedule{StartTime: epoch - 1000, CliffTime: epoch - 1000, EndTime: epoch, TotalAmount: 500}
	for _, s := range []Schedule{early, late, done} {
		_, err := h.svc.CreateEmployee(ctx, owner, prog.Address, wallet(), s)
		require.NoError(t, err)
	}
	h.at(500)

	m, err := h.svc.ProgramMetrics(ctx, prog.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), m.TotalEmployees)
	assert.Equal(t, uint64(3500), m.TokensGranted)
	assert.Equal(t, uint64(500+0+500), m.TokensVested)
	assert.Equal(t, uint64(0), m.TokensWithdrawn)
	assert.Equal(t, uint64(3500), m.TokensRemaining)
	assert.Equal(t, 1, m.PendingSchedules)
	assert.Equal(t, 1, m.ActiveSchedules)
	assert.Equal(t, 1, m.CompletedSchedules)
	assert.Equal(t, uint64(1500), m.TreasuryBalance)
	assert.Equal(t, uint64(5000), m.TotalValueLocked)

	_, err = h.svc.ProgramMetrics(ctx, wallet())
	require.ErrorIs(t, err, ErrProgramNotFound)
}

func TestFundTreasury(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := wallet()
	prog := h.fundedProgram(t, owner, "Acme", 0)

	_, err := h.svc.FundTreasury(ctx, owner, prog.Address, 0, "")
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = h.svc.FundTreasury(ctx, wallet(), prog.Address, 10, "")
	require.ErrorIs(t, err, ErrNotProgramOwner)

	tx1, err := h.svc.FundTreasury(ctx, owner, prog.Address, 10, "k1")
	require.NoError(t, err)
	tx2, err := h.svc.FundTreasury(ctx, owner, prog.Address, 10, "k1")
	require.NoError(t, err)
	assert.Equal(t, tx1, tx2)
	assert.Equal(t, uint64(10), h.balance(t, prog.Treasury))
}

func TestViewsSurviveOverflowingGrant(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner := wallet()
	prog := h.fundedProgram(t, owner, "Acme", math.MaxUint64)

	normal, err := h.svc.CreateEmployee(ctx, owner, prog.Address, wallet(), exampleGrant())
	require.NoError(t, err)
	huge, err := h.svc.CreateEmployee(ctx, owner, prog.Address, wallet(), Schedule{
		StartTime: epoch, CliffTime: epoch, EndTime: epoch + 1000, TotalAmount: math.MaxUint64 - 1000,
	})
	require.NoError(t, err)
	h.at(500)

	view, err := h.svc.GetEmployee(ctx, huge.Address)
	require.NoError(t, err)
	assert.Equal(t, "calculation_overflow", view.Error)
	assert.Equal(t, "active", view.Status)
	assert.Equal(t, uint64(0), view.Claimable)

	views, err := h.svc.ListEmployees(ctx, prog.Address)
	require.NoError(t, err)
	require.Len(t, views, 2)
	byAddr := map[string]EmployeeView{}
	for _, v := range views {
		byAddr[v.Address] = v
	}
	assert.Empty(t, byAddr[normal.Address].Error)
	assert.Equal(t, uint64(500), byAddr[normal.Address].Vested)
	assert.Equal(t, "calculation_overflow", byAddr[huge.Address].Error)

	m, err := h.svc.ProgramMetrics(ctx, prog.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), m.TokensVested)
	assert.Equal(t, 1, m.UnevaluatedSchedules)
	assert.Equal(t, 2, m.ActiveSchedules)
	assert.Equal(t, uint64(math.MaxUint64), m.TokensGranted)

	// Claims still refuse the overflowing grant.
	_, err = h.svc.ClaimRecord(ctx, huge.Beneficiary, huge.Address)
	require.ErrorIs(t, err, ErrCalculationOverflow)
}

func TestViewsToleratePastClockAfterClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	owner, ben := wallet(), wallet()
	prog := h.fundedProgram(t, owner, "Acme", 1000)
	rec, err := h.svc.CreateEmployee(ctx, owner, prog.Address, ben, exampleGrant())
	require.NoError(t, err)

	h.at(550)
	_, err = h.svc.Claim(ctx, ben, "Acme", "")
	require.NoError(t, err)

	h.clock = clockwork.NewFakeClockAt(time.Unix(epoch+450, 0))
	h.svc.cfg.Clock = h.clock

	view, err := h.svc.GetEmployee(ctx, rec.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(450), view.Vested)
	assert.Equal(t, uint64(550), view.TotalWithdrawn)
	assert.Equal(t, uint64(0), view.Claimable)
	assert.Equal(t, uint64(450), view.Remaining)

	_, err = h.svc.ProgramMetrics(ctx, prog.Address)
	require.NoError(t, err)

	// The claim path keeps the strict check.
	assert.Panics(t, func() { _, _ = h.svc.Claim(ctx, ben, "Acme", "") })
}
