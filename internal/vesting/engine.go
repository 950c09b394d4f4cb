package vesting

import (
	"github.com/holiman/uint256"
)

// Schedule is the immutable part of an employee grant. Times are unix seconds.
type Schedule struct {
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	CliffTime   int64  `json:"cliff_time"`
	TotalAmount uint64 `json:"total_amount"`
}

// Validate enforces start < end, start <= cliff <= end and a positive grant.
func (s Schedule) Validate() error {
	switch {
	case s.EndTime <= s.StartTime:
		return newError(KindInvalidVestingPeriod, "end_time %d must be after start_time %d", s.EndTime, s.StartTime)
	case s.CliffTime < s.StartTime || s.CliffTime > s.EndTime:
		return newError(KindInvalidVestingPeriod, "cliff_time %d must lie within [%d, %d]", s.CliffTime, s.StartTime, s.EndTime)
	case s.TotalAmount == 0:
		return newError(KindInvalidVestingPeriod, "total_amount must be > 0")
	}
	return nil
}

// Phase is the vesting state derived from the clock; it is never stored.
type Phase uint8

const (
	Unvested Phase = iota
	PartiallyVested
	FullyVested
)

func (p Phase) String() string {
	switch p {
	case Unvested:
		return "pending"
	case PartiallyVested:
		return "active"
	case FullyVested:
		return "completed"
	default:
		return "unknown"
	}
}

// PhaseAt reports where now falls relative to the cliff and the end.
func (s Schedule) PhaseAt(now int64) Phase {
	switch {
	case now < s.CliffTime:
		return Unvested
	case now >= s.EndTime:
		return FullyVested
	default:
		return PartiallyVested
	}
}

// VestedAmount returns how much of the grant has vested at now. Vesting is
// linear over [start, end]; the cliff only withholds release until it passes.
func VestedAmount(s Schedule, now int64) (uint64, error) {
	if err := s.Validate(); err != nil {
		return 0, err
	}
	if now < s.CliffTime {
		return 0, nil
	}
	if now >= s.EndTime {
		return s.TotalAmount, nil
	}

	// start <= cliff <= now < end, so both differences are non-negative and
	// exact in uint64 even when the int64 subtraction would overflow.
	elapsed := uint64(now) - uint64(s.StartTime)
	duration := uint64(s.EndTime) - uint64(s.StartTime)

	product := new(uint256.Int).Mul(uint256.NewInt(s.TotalAmount), uint256.NewInt(elapsed))
	if !product.IsUint64() {
		return 0, newError(KindCalculationOverflow, "total_amount %d * elapsed %d exceeds 64 bits", s.TotalAmount, elapsed)
	}
	vested := product.Uint64() / duration
	if vested > s.TotalAmount {
		invariant("vested %d exceeds total %d", vested, s.TotalAmount)
	}
	return vested, nil
}

// Claimable returns vested minus already withdrawn at now.
func Claimable(s Schedule, withdrawn uint64, now int64) (uint64, error) {
	vested, err := VestedAmount(s, now)
	if err != nil {
		return 0, err
	}
	checkWithdrawn(s, withdrawn, vested)
	return vested - withdrawn, nil
}

// ClaimResult is the state delta of a successful claim.
type ClaimResult struct {
	Vested         uint64 `json:"vested"`
	Amount         uint64 `json:"amount"`
	TotalWithdrawn uint64 `json:"total_withdrawn"`
}

// Claim computes the claim transition for a record that has already withdrawn
// `withdrawn` tokens. It mutates nothing; the caller commits TotalWithdrawn and
// transfers Amount as one unit.
func Claim(s Schedule, withdrawn uint64, now int64) (ClaimResult, error) {
	vested, err := VestedAmount(s, now)
	if err != nil {
		return ClaimResult{}, err
	}
	if now < s.CliffTime {
		return ClaimResult{}, newError(KindClaimNotAvailableYet, "cliff at %d, now %d", s.CliffTime, now)
	}
	checkWithdrawn(s, withdrawn, vested)

	claimable := vested - withdrawn
	if claimable == 0 {
		return ClaimResult{}, ErrNothingToClaim
	}
	next := withdrawn + claimable
	if next < withdrawn || next > s.TotalAmount {
		invariant("withdrawn %d + claimable %d overflows total %d", withdrawn, claimable, s.TotalAmount)
	}
	return ClaimResult{Vested: vested, Amount: claimable, TotalWithdrawn: next}, nil
}

func checkWithdrawn(s Schedule, withdrawn, vested uint64) {
	if withdrawn > s.TotalAmount {
		invariant("withdrawn %d exceeds total %d", withdrawn, s.TotalAmount)
	}
	if vested < withdrawn {
		invariant("withdrawn %d is ahead of vested %d", withdrawn, vested)
	}
}
