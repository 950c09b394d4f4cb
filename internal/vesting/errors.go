package vesting

import (
	"errors"
	"fmt"
)

// Kind is the closed set of expected vesting failures.
type Kind uint8

const (
	KindInvalidVestingPeriod Kind = iota + 1
	KindCalculationOverflow
	KindClaimNotAvailableYet
	KindNothingToClaim
)

func (k Kind) String() string {
	switch k {
	case KindInvalidVestingPeriod:
		return "invalid_vesting_period"
	case KindCalculationOverflow:
		return "calculation_overflow"
	case KindClaimNotAvailableYet:
		return "claim_not_available_yet"
	case KindNothingToClaim:
		return "nothing_to_claim"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is returned for every expected vesting failure. Detail is optional
// context; two errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	msg := kindMessages[e.Kind]
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Detail == "" {
		return msg
	}
	return msg + ": " + e.Detail
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var kindMessages = map[Kind]string{
	KindInvalidVestingPeriod: "invalid vesting period",
	KindCalculationOverflow:  "calculation overflow occurred",
	KindClaimNotAvailableYet: "claim not available yet",
	KindNothingToClaim:       "nothing to claim",
}

var (
	ErrInvalidVestingPeriod = &Error{Kind: KindInvalidVestingPeriod}
	ErrCalculationOverflow  = &Error{Kind: KindCalculationOverflow}
	ErrClaimNotAvailableYet = &Error{Kind: KindClaimNotAvailableYet}
	ErrNothingToClaim       = &Error{Kind: KindNothingToClaim}
)

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// KindOf reports the vesting kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}

// Lifecycle and lookup failures outside the engine.
var (
	ErrInvalidCompanyName  = errors.New("invalid company name")
	ErrInvalidIdentity     = errors.New("invalid identity")
	ErrInvalidAmount       = errors.New("invalid amount (must be > 0)")
	ErrProgramExists       = errors.New("vesting program already exists")
	ErrProgramNotFound     = errors.New("vesting program not found")
	ErrEmployeeExists      = errors.New("employee vesting record already exists")
	ErrEmployeeNotFound    = errors.New("employee vesting record not found")
	ErrAmbiguousProgram    = errors.New("company name matches several programs; owner is required")
	ErrNotProgramOwner     = errors.New("caller does not own the vesting program")
	ErrConcurrentUpdate    = errors.New("employee vesting record changed concurrently")
	ErrTreasuryUnderfunded = errors.New("treasury balance is below the requested grant")
)

// InvariantError reports a broken internal invariant. It is raised with panic,
// never returned: reaching it means state or code is corrupt.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "vesting invariant violated: " + e.Msg }

func invariant(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}

// reasons gives every expected failure a stable wire code.
var reasons = []struct {
	code string
	err  error
}{
	{KindInvalidVestingPeriod.String(), ErrInvalidVestingPeriod},
	{KindCalculationOverflow.String(), ErrCalculationOverflow},
	{KindClaimNotAvailableYet.String(), ErrClaimNotAvailableYet},
	{KindNothingToClaim.String(), ErrNothingToClaim},
	{"invalid_company_name", ErrInvalidCompanyName},
	{"invalid_identity", ErrInvalidIdentity},
	{"invalid_amount", ErrInvalidAmount},
	{"program_exists", ErrProgramExists},
	{"program_not_found", ErrProgramNotFound},
	{"employee_exists", ErrEmployeeExists},
	{"employee_not_found", ErrEmployeeNotFound},
	{"ambiguous_program", ErrAmbiguousProgram},
	{"not_program_owner", ErrNotProgramOwner},
	{"concurrent_update", ErrConcurrentUpdate},
	{"treasury_underfunded", ErrTreasuryUnderfunded},
}

// Reason returns the wire code for err, or "" when err is not a vesting failure.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ""
}

// ErrorForReason maps a wire code back to its sentinel, or nil when unknown.
func ErrorForReason(code string) error {
	for _, r := range reasons {
		if r.code == code {
			return r.err
		}
	}
	return nil
}
