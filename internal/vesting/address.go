package vesting

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// MaxCompanyNameLength is the seed budget of a derived address.
const MaxCompanyNameLength = 32

const (
	treasurySeed = "vesting_treasury"
	employeeSeed = "employee_vesting"
)

// DefaultProgramID namespaces every derived address when no program id is configured.
var DefaultProgramID = solana.MustPublicKeyFromBase58("Gradify1111111111111111111111111111111111111")

// Address is a derived record location together with its bump seed.
type Address struct {
	Key  solana.PublicKey
	Bump uint8
}

func (a Address) String() string { return a.Key.String() }

// ParseIdentity validates a base58 wallet address used as owner or beneficiary.
func ParseIdentity(raw string) (solana.PublicKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return pk, nil
}

// ValidateCompanyName checks the name fits the fixed seed budget.
func ValidateCompanyName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCompanyName)
	}
	if len(name) > MaxCompanyNameLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidCompanyName, len(name), MaxCompanyNameLength)
	}
	return nil
}

// Deriver maps identities to record locations. One (owner, company name)
// pair yields exactly one program address, and one (program, beneficiary)
// pair exactly one employee address, so duplicates collide on the address.
type Deriver struct {
	ProgramID solana.PublicKey
}

func (d Deriver) programID() solana.PublicKey {
	if d.ProgramID.IsZero() {
		return DefaultProgramID
	}
	return d.ProgramID
}

// ProgramAddress derives the VestingProgram location.
func (d Deriver) ProgramAddress(owner solana.PublicKey, companyName string) (Address, error) {
	if err := ValidateCompanyName(companyName); err != nil {
		return Address{}, err
	}
	return d.find(owner.Bytes(), []byte(companyName))
}

// TreasuryAddress derives the ledger account that funds a program.
func (d Deriver) TreasuryAddress(program solana.PublicKey) (Address, error) {
	return d.find([]byte(treasurySeed), program.Bytes())
}

// EmployeeAddress derives the EmployeeVestingRecord location. The same key
// names the escrow account holding the reserved grant.
func (d Deriver) EmployeeAddress(program, beneficiary solana.PublicKey) (Address, error) {
	return d.find([]byte(employeeSeed), beneficiary.Bytes(), program.Bytes())
}

func (d Deriver) find(seeds ...[]byte) (Address, error) {
	key, bump, err := solana.FindProgramAddress(seeds, d.programID())
	if err != nil {
		return Address{}, fmt.Errorf("derive address: %w", err)
	}
	return Address{Key: key, Bump: bump}, nil
}
