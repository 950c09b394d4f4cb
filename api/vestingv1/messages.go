package vestingv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type CreateVestingAccountRequest struct {
	CompanyName string `json:"company_name"`
}

type Program struct {
	Address       string `json:"address"`
	Owner         string `json:"owner"`
	CompanyName   string `json:"company_name"`
	Treasury      string `json:"treasury"`
	Token         string `json:"token"`
	EmployeeCount uint64 `json:"employee_count,string"`
}

type CreateEmployeeAccountRequest struct {
	Program     string `json:"program"`
	Beneficiary string `json:"beneficiary"`
	StartTime   int64  `json:"start_time,string"`
	EndTime     int64  `json:"end_time,string"`
	CliffTime   int64  `json:"cliff_time,string"`
	TotalAmount uint64 `json:"total_amount,string"`
}

type Employee struct {
	Address        string `json:"address"`
	Program        string `json:"program"`
	Beneficiary    string `json:"beneficiary"`
	StartTime      int64  `json:"start_time,string"`
	EndTime        int64  `json:"end_time,string"`
	CliffTime      int64  `json:"cliff_time,string"`
	TotalAmount    uint64 `json:"total_amount,string"`
	TotalWithdrawn uint64 `json:"total_withdrawn,string"`
	Vested         uint64 `json:"vested,string"`
	Claimable      uint64 `json:"claimable,string"`
	Status         string `json:"status"`
	Error          string `json:"error,omitempty"`
}

type ClaimTokenRequest struct {
	CompanyName string `json:"company_name"`
	Owner       string `json:"owner,omitempty"`
}

type ClaimTokenResponse struct {
	Program        string `json:"program"`
	Employee       string `json:"employee"`
	Beneficiary    string `json:"beneficiary"`
	Amount         uint64 `json:"amount,string"`
	Vested         uint64 `json:"vested,string"`
	TotalWithdrawn uint64 `json:"total_withdrawn,string"`
	ClaimedAt      int64  `json:"claimed_at,string"`
	TransactionID  string `json:"transaction_id"`
}

type GetEmployeeRequest struct {
	Address string `json:"address"`
}

// Encode converts a message into its wire Struct.
func Encode(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// Decode fills v from a wire Struct.
func Decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
