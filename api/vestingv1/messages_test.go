package vestingv1

import (
	"math"
	"testing"
)

func TestEncodeKeepsFullWidthIntegers(t *testing.T) {
	req := CreateEmployeeAccountRequest{
		Program:     "prog",
		Beneficiary: "ben",
		StartTime:   math.MinInt64,
		EndTime:     math.MaxInt64,
		CliffTime:   0,
		TotalAmount: math.MaxUint64,
	}
	st, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if got := st.Fields["total_amount"].GetStringValue(); got != "18446744073709551615" {
		t.Fatalf("total_amount on the wire = %q", got)
	}

	var back CreateEmployeeAccountRequest
	if err := Decode(st, &back); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if back != req {
		t.Fatalf("round trip mismatch: %+v != %+v", back, req)
	}
}

func TestDecodeRejectsNumericAmounts(t *testing.T) {
	st, err := Encode(map[string]any{"company_name": "Acme", "amount": 5})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var resp ClaimTokenResponse
	if err := Decode(st, &resp); err == nil {
		t.Fatal("expected error for unquoted amount")
	}
}

func TestDecodeNil(t *testing.T) {
	var req ClaimTokenRequest
	if err := Decode(nil, &req); err != nil {
		t.Fatalf("Decode(nil): %v", err)
	}
	if req.CompanyName != "" {
		t.Fatalf("unexpected value: %+v", req)
	}
}
