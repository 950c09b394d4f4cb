package vesting

import "time"

// Program is a company vesting program. Owner and CompanyName never change;
// EmployeeCount only grows.
type Program struct {
	Address       string    `json:"address"`
	Owner         string    `json:"owner"`
	CompanyName   string    `json:"company_name"`
	Treasury      string    `json:"treasury"`
	Token         string    `json:"token"`
	EmployeeCount uint64    `json:"employee_count"`
	Bump          uint8     `json:"bump"`
	TreasuryBump  uint8     `json:"treasury_bump"`
	CreatedAt     time.Time `json:"created_at"`
}

// EmployeeRecord is one beneficiary's grant under a program. Program holds
// the parent address only; the record is looked up, never embedded.
type EmployeeRecord struct {
	Address        string    `json:"address"`
	Program        string    `json:"program"`
	Beneficiary    string    `json:"beneficiary"`
	Schedule       Schedule  `json:"schedule"`
	TotalWithdrawn uint64    `json:"total_withdrawn"`
	Bump           uint8     `json:"bump"`
	CreatedAt      time.Time `json:"created_at"`
}

// EmployeeView is a record evaluated against the clock.
type EmployeeView struct {
	EmployeeRecord
	AsOf      int64  `json:"as_of"`
	Vested    uint64 `json:"vested"`
	Claimable uint64 `json:"claimable"`
	Remaining uint64 `json:"remaining"`
	Status    string `json:"status"`
	// Error is the reason code when the vested amount could not be computed.
	Error string `json:"error,omitempty"`
}

// ProgramMetrics aggregates every record of a program at one instant.
type ProgramMetrics struct {
	Program            string `json:"program"`
	AsOf               int64  `json:"as_of"`
	TotalEmployees     uint64 `json:"total_employees"`
	TokensGranted      uint64 `json:"tokens_granted"`
	TokensVested       uint64 `json:"tokens_vested"`
	TokensWithdrawn    uint64 `json:"tokens_withdrawn"`
	TokensRemaining    uint64 `json:"tokens_remaining"`
	PendingSchedules   int    `json:"pending_schedules"`
	ActiveSchedules    int    `json:"active_schedules"`
	CompletedSchedules int    `json:"completed_schedules"`
	// UnevaluatedSchedules counts records left out of TokensVested.
	UnevaluatedSchedules int    `json:"unevaluated_schedules"`
	TreasuryBalance      uint64 `json:"treasury_balance"`
	TotalValueLocked     uint64 `json:"total_value_locked"`
}

// ClaimReceipt describes a committed claim.
type ClaimReceipt struct {
	Program        string `json:"program"`
	CompanyName    string `json:"company_name"`
	Employee       string `json:"employee"`
	Beneficiary    string `json:"beneficiary"`
	Amount         uint64 `json:"amount"`
	Vested         uint64 `json:"vested"`
	TotalWithdrawn uint64 `json:"total_withdrawn"`
	ClaimedAt      int64  `json:"claimed_at"`
	TransactionID  string `json:"transaction_id"`
}
