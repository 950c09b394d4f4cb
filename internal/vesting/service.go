package vesting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"

	"gradify.org/internal/audit"
	"gradify.org/internal/ids"
	"gradify.org/internal/obs"
	"gradify.org/internal/stream"
)

const DefaultToken = "GRAD"

// Publisher receives state-change events after they are committed.
type Publisher interface {
	Publish(evt stream.Event)
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Store     Store
	Custody   Custody
	ProgramID solana.PublicKey
	Token     string
	Events    Publisher
}

func (cfg *Config) Validate() error {
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Custody == nil {
		return errors.New("custody is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = obs.Logger()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ProgramID.IsZero() {
		cfg.ProgramID = DefaultProgramID
	}
	if strings.TrimSpace(cfg.Token) == "" {
		cfg.Token = DefaultToken
	}
	return nil
}

// Service runs the vesting lifecycle: programs, employee grants and claims.
// Mutations of one record address are serialized; everything else runs in
// parallel.
type Service struct {
	log     *slog.Logger
	cfg     Config
	deriver Deriver
	locks   *keyedMutex
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Service{
		log:     cfg.Logger,
		cfg:     cfg,
		deriver: Deriver{ProgramID: cfg.ProgramID},
		locks:   newKeyedMutex(),
	}, nil
}

// Token returns the symbol custody moves are denominated in.
func (s *Service) Token() string { return s.cfg.Token }

// Deriver exposes the address scheme used by the service.
func (s *Service) Deriver() Deriver { return s.deriver }

func (s *Service) now() time.Time { return s.cfg.Clock.Now().UTC() }

// CreateProgram registers a vesting program for (owner, companyName) and
// opens its treasury account.
func (s *Service) CreateProgram(ctx context.Context, owner, companyName string) (prog Program, err error) {
	defer func() { obs.RecordOp("create_program", result(err)) }()

	ownerKey, err := ParseIdentity(owner)
	if err != nil {
		return Program{}, err
	}
	addr, err := s.deriver.ProgramAddress(ownerKey, companyName)
	if err != nil {
		return Program{}, err
	}
	treasury, err := s.deriver.TreasuryAddress(addr.Key)
	if err != nil {
		return Program{}, err
	}

	unlock := s.locks.Lock(addr.String())
	defer unlock()

	if _, err := s.cfg.Store.GetProgram(ctx, addr.String()); err == nil {
		return Program{}, ErrProgramExists
	} else if !errors.Is(err, ErrProgramNotFound) {
		return Program{}, fmt.Errorf("lookup program: %w", err)
	}

	if err := s.cfg.Custody.Open(ctx, treasury.String()); err != nil {
		return Program{}, fmt.Errorf("open treasury: %w", err)
	}

	prog = Program{
		Address:      addr.String(),
		Owner:        ownerKey.String(),
		CompanyName:  companyName,
		Treasury:     treasury.String(),
		Token:        s.cfg.Token,
		Bump:         addr.Bump,
		TreasuryBump: treasury.Bump,
		CreatedAt:    s.now(),
	}
	if err := s.cfg.Store.InsertProgram(ctx, prog); err != nil {
		return Program{}, err
	}

	s.log.Info("vesting: program created", "program", prog.Address, "owner", prog.Owner, "company", companyName)
	_ = audit.LogEvent(ctx, "vesting.program.created", map[string]any{
		"program": prog.Address,
		"owner":   prog.Owner,
		"company": companyName,
	})
	s.publish(stream.Event{Type: stream.TypeProgramCreated, Program: prog.Address})
	return prog, nil
}

// FundTreasury deposits amount into the program treasury. Only the owner may
// fund. An empty key makes the deposit non-repeatable by generating one.
func (s *Service) FundTreasury(ctx context.Context, caller, program string, amount uint64, key string) (txID string, err error) {
	defer func() { obs.RecordOp("fund_treasury", result(err)) }()

	if amount == 0 {
		return "", ErrInvalidAmount
	}
	prog, err := s.ownedProgram(ctx, caller, program)
	if err != nil {
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "fund:" + prog.Address + ":" + ids.NewAt(s.now())
	}
	txID, err = s.cfg.Custody.Deposit(ctx, prog.Treasury, amount, key)
	if err != nil {
		return "", fmt.Errorf("fund treasury: %w", err)
	}

	s.log.Info("vesting: treasury funded", "program", prog.Address, "amount", amount, "tx", txID)
	_ = audit.LogEvent(ctx, "vesting.treasury.funded", map[string]any{
		"program": prog.Address,
		"amount":  strconv.FormatUint(amount, 10),
		"tx_id":   txID,
	})
	s.publish(stream.Event{Type: stream.TypeTreasuryFunded, Program: prog.Address, Amount: amount, TransactionID: txID})
	return txID, nil
}

// CreateEmployee grants sched to beneficiary under program. The grant is
// reserved from the treasury into the record's escrow before the record is
// written; a failed write returns the reservation.
func (s *Service) CreateEmployee(ctx context.Context, caller, program, beneficiary string, sched Schedule) (rec EmployeeRecord, err error) {
	defer func() { obs.RecordOp("create_employee", result(err)) }()

	if err := sched.Validate(); err != nil {
		return EmployeeRecord{}, err
	}
	prog, err := s.ownedProgram(ctx, caller, program)
	if err != nil {
		return EmployeeRecord{}, err
	}
	benKey, err := ParseIdentity(beneficiary)
	if err != nil {
		return EmployeeRecord{}, err
	}
	progKey, err := solana.PublicKeyFromBase58(prog.Address)
	if err != nil {
		return EmployeeRecord{}, fmt.Errorf("stored program address: %w", err)
	}
	addr, err := s.deriver.EmployeeAddress(progKey, benKey)
	if err != nil {
		return EmployeeRecord{}, err
	}

	unlock := s.locks.Lock(addr.String())
	defer unlock()

	if _, err := s.cfg.Store.GetEmployee(ctx, addr.String()); err == nil {
		return EmployeeRecord{}, ErrEmployeeExists
	} else if !errors.Is(err, ErrEmployeeNotFound) {
		return EmployeeRecord{}, fmt.Errorf("lookup employee: %w", err)
	}

	escrow := addr.String()

	// The treasury lock makes the balance check and the reservation one step
	// for this process, so an underfunded grant opens no escrow account.
	unlockTreasury := s.locks.Lock(prog.Treasury)
	defer unlockTreasury()
	available, err := s.cfg.Custody.Balance(ctx, prog.Treasury)
	if err != nil {
		return EmployeeRecord{}, fmt.Errorf("treasury balance: %w", err)
	}
	if available < sched.TotalAmount {
		return EmployeeRecord{}, fmt.Errorf("%w: have %d, need %d", ErrTreasuryUnderfunded, available, sched.TotalAmount)
	}
	if err := s.cfg.Custody.Open(ctx, escrow); err != nil {
		return EmployeeRecord{}, fmt.Errorf("open escrow: %w", err)
	}

	// Each attempt reserves under its own key so a retry after a compensated
	// failure moves funds again instead of replaying the first reservation.
	attempt := ids.NewAt(s.now())
	reserveTx, err := s.cfg.Custody.Move(ctx, prog.Treasury, escrow, sched.TotalAmount, "reserve:"+escrow+":"+attempt)
	if err != nil {
		return EmployeeRecord{}, fmt.Errorf("reserve grant: %w", err)
	}

	rec = EmployeeRecord{
		Address:     escrow,
		Program:     prog.Address,
		Beneficiary: benKey.String(),
		Schedule:    sched,
		Bump:        addr.Bump,
		CreatedAt:   s.now(),
	}
	if err := s.cfg.Store.InsertEmployee(ctx, rec); err != nil {
		if _, cerr := s.cfg.Custody.Move(ctx, escrow, prog.Treasury, sched.TotalAmount, "release:"+escrow+":"+attempt); cerr != nil {
			s.log.Error("vesting: failed to release reservation", "employee", escrow, "reserve_tx", reserveTx, "error", cerr)
			return EmployeeRecord{}, errors.Join(err, cerr)
		}
		return EmployeeRecord{}, err
	}

	obs.RecordReserved(sched.TotalAmount)
	s.log.Info("vesting: employee created", "program", prog.Address, "employee", escrow, "beneficiary", rec.Beneficiary, "total", sched.TotalAmount)
	_ = audit.LogEvent(ctx, "vesting.employee.created", map[string]any{
		"program":     prog.Address,
		"employee":    escrow,
		"beneficiary": rec.Beneficiary,
		"total":       strconv.FormatUint(sched.TotalAmount, 10),
		"reserve_tx":  reserveTx,
	})
	s.publish(stream.Event{
		Type:          stream.TypeEmployeeCreated,
		Program:       prog.Address,
		Employee:      escrow,
		Beneficiary:   rec.Beneficiary,
		Amount:        sched.TotalAmount,
		TransactionID: reserveTx,
	})
	return rec, nil
}

// Claim releases everything vested and not yet withdrawn to the caller. The
// program is found by company name; owner narrows the search when several
// owners use the same name.
func (s *Service) Claim(ctx context.Context, caller, companyName, owner string) (ClaimReceipt, error) {
	benKey, err := ParseIdentity(caller)
	if err != nil {
		obs.RecordOp("claim", result(err))
		return ClaimReceipt{}, err
	}
	prog, addr, err := s.resolveClaim(ctx, benKey, companyName, owner)
	if err != nil {
		obs.RecordOp("claim", result(err))
		return ClaimReceipt{}, err
	}
	return s.claim(ctx, prog, addr)
}

// ClaimRecord is Claim for a caller that already knows its record address.
func (s *Service) ClaimRecord(ctx context.Context, caller, employee string) (ClaimReceipt, error) {
	rec, err := s.cfg.Store.GetEmployee(ctx, employee)
	if err == nil && rec.Beneficiary != caller {
		err = ErrEmployeeNotFound
	}
	var prog Program
	if err == nil {
		prog, err = s.cfg.Store.GetProgram(ctx, rec.Program)
	}
	if err != nil {
		obs.RecordOp("claim", result(err))
		return ClaimReceipt{}, err
	}
	return s.claim(ctx, prog, employee)
}

func (s *Service) claim(ctx context.Context, prog Program, employee string) (receipt ClaimReceipt, err error) {
	defer func() { obs.RecordOp("claim", result(err)) }()

	unlock := s.locks.Lock(employee)
	defer unlock()

	rec, err := s.cfg.Store.GetEmployee(ctx, employee)
	if err != nil {
		return ClaimReceipt{}, err
	}
	at := s.now()
	res, err := Claim(rec.Schedule, rec.TotalWithdrawn, at.Unix())
	if err != nil {
		return ClaimReceipt{}, err
	}

	if err := s.cfg.Store.UpdateWithdrawn(ctx, rec.Address, rec.TotalWithdrawn, res.TotalWithdrawn); err != nil {
		return ClaimReceipt{}, err
	}
	if err := s.cfg.Custody.Open(ctx, rec.Beneficiary); err != nil {
		return ClaimReceipt{}, fmt.Errorf("open beneficiary: %w", err)
	}
	key := "claim:" + rec.Address + ":" + strconv.FormatUint(res.TotalWithdrawn, 10)
	txID, err := s.cfg.Custody.Move(ctx, rec.Address, rec.Beneficiary, res.Amount, key)
	if err != nil {
		if rerr := s.cfg.Store.UpdateWithdrawn(ctx, rec.Address, res.TotalWithdrawn, rec.TotalWithdrawn); rerr != nil {
			s.log.Error("vesting: failed to revert withdrawn total", "employee", rec.Address, "error", rerr)
			return ClaimReceipt{}, errors.Join(err, rerr)
		}
		return ClaimReceipt{}, fmt.Errorf("transfer claim: %w", err)
	}

	receipt = ClaimReceipt{
		Program:        prog.Address,
		CompanyName:    prog.CompanyName,
		Employee:       rec.Address,
		Beneficiary:    rec.Beneficiary,
		Amount:         res.Amount,
		Vested:         res.Vested,
		TotalWithdrawn: res.TotalWithdrawn,
		ClaimedAt:      at.Unix(),
		TransactionID:  txID,
	}
	obs.RecordClaimed(res.Amount)
	s.log.Info("vesting: tokens claimed", "employee", rec.Address, "amount", res.Amount, "total_withdrawn", res.TotalWithdrawn)
	_ = audit.LogEvent(ctx, "vesting.tokens.claimed", map[string]any{
		"program":         prog.Address,
		"employee":        rec.Address,
		"amount":          strconv.FormatUint(res.Amount, 10),
		"total_withdrawn": strconv.FormatUint(res.TotalWithdrawn, 10),
		"tx_id":           txID,
	})
	s.publish(stream.Event{
		Type:           stream.TypeTokensClaimed,
		Program:        prog.Address,
		Employee:       rec.Address,
		Beneficiary:    rec.Beneficiary,
		Amount:         res.Amount,
		TotalWithdrawn: res.TotalWithdrawn,
		TransactionID:  txID,
		Timestamp:      at,
	})
	return receipt, nil
}

func (s *Service) resolveClaim(ctx context.Context, beneficiary solana.PublicKey, companyName, owner string) (Program, string, error) {
	if err := ValidateCompanyName(companyName); err != nil {
		return Program{}, "", err
	}
	var candidates []Program
	if strings.TrimSpace(owner) != "" {
		ownerKey, err := ParseIdentity(owner)
		if err != nil {
			return Program{}, "", err
		}
		addr, err := s.deriver.ProgramAddress(ownerKey, companyName)
		if err != nil {
			return Program{}, "", err
		}
		prog, err := s.cfg.Store.GetProgram(ctx, addr.String())
		if err != nil {
			return Program{}, "", err
		}
		candidates = []Program{prog}
	} else {
		progs, err := s.cfg.Store.ListPrograms(ctx, "", companyName)
		if err != nil {
			return Program{}, "", err
		}
		if len(progs) == 0 {
			return Program{}, "", ErrProgramNotFound
		}
		candidates = progs
	}

	var (
		found   Program
		address string
		matches int
	)
	for _, prog := range candidates {
		progKey, err := solana.PublicKeyFromBase58(prog.Address)
		if err != nil {
			return Program{}, "", fmt.Errorf("stored program address: %w", err)
		}
		addr, err := s.deriver.EmployeeAddress(progKey, beneficiary)
		if err != nil {
			return Program{}, "", err
		}
		if _, err := s.cfg.Store.GetEmployee(ctx, addr.String()); err != nil {
			if errors.Is(err, ErrEmployeeNotFound) {
				continue
			}
			return Program{}, "", err
		}
		found, address = prog, addr.String()
		matches++
	}
	switch {
	case matches == 0:
		return Program{}, "", ErrEmployeeNotFound
	case matches > 1:
		return Program{}, "", ErrAmbiguousProgram
	}
	return found, address, nil
}

func (s *Service) GetProgram(ctx context.Context, address string) (Program, error) {
	return s.cfg.Store.GetProgram(ctx, address)
}

func (s *Service) ListPrograms(ctx context.Context, owner, companyName string) ([]Program, error) {
	return s.cfg.Store.ListPrograms(ctx, owner, companyName)
}

// GetEmployee evaluates a record against the current clock. A schedule whose
// vested amount cannot be computed right now still reads back, with Error set.
func (s *Service) GetEmployee(ctx context.Context, address string) (EmployeeView, error) {
	rec, err := s.cfg.Store.GetEmployee(ctx, address)
	if err != nil {
		return EmployeeView{}, err
	}
	return s.View(rec), nil
}

// View evaluates rec at the current clock.
func (s *Service) View(rec EmployeeRecord) EmployeeView {
	return viewOf(rec, s.now().Unix())
}

// ListEmployees returns every record of program evaluated at one instant.
func (s *Service) ListEmployees(ctx context.Context, program string) ([]EmployeeView, error) {
	recs, err := s.cfg.Store.ListEmployees(ctx, program)
	if err != nil {
		return nil, err
	}
	now := s.now().Unix()
	out := make([]EmployeeView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, viewOf(rec, now))
	}
	return out, nil
}

// ProgramMetrics aggregates the program's records and custody balances.
func (s *Service) ProgramMetrics(ctx context.Context, program string) (ProgramMetrics, error) {
	prog, err := s.cfg.Store.GetProgram(ctx, program)
	if err != nil {
		return ProgramMetrics{}, err
	}
	views, err := s.ListEmployees(ctx, program)
	if err != nil {
		return ProgramMetrics{}, err
	}
	m := ProgramMetrics{Program: prog.Address, AsOf: s.now().Unix(), TotalEmployees: prog.EmployeeCount}

	var sum checkedSum
	for _, v := range views {
		m.TokensGranted = sum.add(m.TokensGranted, v.Schedule.TotalAmount)
		if v.Error != "" {
			m.UnevaluatedSchedules++
		} else {
			m.TokensVested = sum.add(m.TokensVested, v.Vested)
		}
		m.TokensWithdrawn = sum.add(m.TokensWithdrawn, v.TotalWithdrawn)
		m.TokensRemaining = sum.add(m.TokensRemaining, v.Remaining)
		switch v.Schedule.PhaseAt(m.AsOf) {
		case Unvested:
			m.PendingSchedules++
		case PartiallyVested:
			m.ActiveSchedules++
		case FullyVested:
			m.CompletedSchedules++
		}
		escrow, err := s.cfg.Custody.Balance(ctx, v.Address)
		if err != nil {
			return ProgramMetrics{}, err
		}
		m.TotalValueLocked = sum.add(m.TotalValueLocked, escrow)
	}
	if m.TreasuryBalance, err = s.cfg.Custody.Balance(ctx, prog.Treasury); err != nil {
		return ProgramMetrics{}, err
	}
	m.TotalValueLocked = sum.add(m.TotalValueLocked, m.TreasuryBalance)
	if sum.overflow {
		return ProgramMetrics{}, newError(KindCalculationOverflow, "program %s totals exceed 64 bits", program)
	}
	return m, nil
}

func (s *Service) ownedProgram(ctx context.Context, caller, program string) (Program, error) {
	prog, err := s.cfg.Store.GetProgram(ctx, program)
	if err != nil {
		return Program{}, err
	}
	if prog.Owner != caller {
		return Program{}, ErrNotProgramOwner
	}
	return prog, nil
}

func (s *Service) publish(evt stream.Event) {
	if s.cfg.Events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.now()
	}
	s.cfg.Events.Publish(evt)
}

// viewOf never fails: a vested amount that overflows is reported through
// Error, and a clock behind the last claim reads as nothing claimable.
// Claims keep the strict checks.
func viewOf(rec EmployeeRecord, now int64) EmployeeView {
	v := EmployeeView{
		EmployeeRecord: rec,
		AsOf:           now,
		Status:         rec.Schedule.PhaseAt(now).String(),
	}
	if rec.TotalWithdrawn <= rec.Schedule.TotalAmount {
		v.Remaining = rec.Schedule.TotalAmount - rec.TotalWithdrawn
	}
	vested, err := VestedAmount(rec.Schedule, now)
	if err != nil {
		v.Error = Reason(err)
		if v.Error == "" {
			v.Error = err.Error()
		}
		return v
	}
	v.Vested = vested
	if vested > rec.TotalWithdrawn {
		v.Claimable = vested - rec.TotalWithdrawn
	}
	return v
}

type checkedSum struct{ overflow bool }

func (c *checkedSum) add(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		c.overflow = true
	}
	return sum
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	if kind, ok := KindOf(err); ok {
		return kind.String()
	}
	return "error"
}
