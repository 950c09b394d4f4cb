package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"gradify.org/internal/auth"
	"gradify.org/internal/ids"
	"gradify.org/internal/vesting"
	"gradify.org/internal/vesting/remote"
)

// smoke-vesting drives one grant end to end against a running API: program
// over gRPC, treasury funding over HTTP, then grant, claim and read back.
func main() {
	grpcAddr := envOr("VESTING_GRPC_ADDR", "localhost:9090")
	httpURL := strings.TrimRight(envOr("VESTING_HTTP_URL", "http://localhost:8080"), "/")
	secret := envOr("VESTING_AUTH_SECRET", "dev-secret-change-me")

	tokens, err := auth.NewTokens(secret)
	if err != nil {
		log.Fatalf("token authority: %v", err)
	}
	owner := solana.NewWallet().PublicKey().String()
	employee := solana.NewWallet().PublicKey().String()
	ownerTok := mustToken(tokens, owner, auth.RoleEmployer)
	empTok := mustToken(tokens, employee, auth.RoleEmployee)

	client, err := remote.Dial(grpcAddr)
	if err != nil {
		log.Fatalf("dial vesting at %s: %v", grpcAddr, err)
	}
	defer client.Close()

	ctx, cancel := remote.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	company := "smoke-" + strings.ToLower(ids.New()[16:])
	asOwner := client.WithToken(ownerTok)
	prog, err := asOwner.CreateVestingAccount(ctx, company)
	if err != nil {
		log.Fatalf("create vesting account: %v", err)
	}

	const grant = uint64(1_000)
	if err := fundTreasury(ctx, httpURL, ownerTok, prog.Address, grant); err != nil {
		log.Fatalf("fund treasury: %v", err)
	}

	// A schedule that already ended vests the full grant.
	now := time.Now().Unix()
	view, err := asOwner.CreateEmployeeAccount(ctx, prog.Address, employee, vesting.Schedule{
		StartTime:   now - 200,
		CliffTime:   now - 150,
		EndTime:     now - 100,
		TotalAmount: grant,
	})
	if err != nil {
		log.Fatalf("create employee account: %v", err)
	}

	asEmployee := client.WithToken(empTok)
	receipt, err := asEmployee.ClaimToken(ctx, company, owner)
	if err != nil {
		log.Fatalf("claim: %v", err)
	}
	if receipt.Amount != grant || receipt.TotalWithdrawn != grant {
		log.Fatalf("unexpected receipt: %+v", receipt)
	}
	if _, err := asEmployee.ClaimToken(ctx, company, owner); !errors.Is(err, vesting.ErrNothingToClaim) {
		log.Fatalf("second claim: expected nothing to claim, got %v", err)
	}

	after, err := asEmployee.GetEmployee(ctx, view.Address)
	if err != nil {
		log.Fatalf("get employee: %v", err)
	}
	if after.TotalWithdrawn != grant || after.Claimable != 0 || after.Status != "completed" {
		log.Fatalf("unexpected record after claim: %+v", after)
	}

	fmt.Printf("vesting smoke test passed: program=%s employee=%s tx=%s\n", prog.Address, view.Address, receipt.TransactionID)
}

func fundTreasury(ctx context.Context, baseURL, token, program string, amount uint64) error {
	body, err := json.Marshal(map[string]any{"amount": amount})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/programs/"+program+"/treasury/deposits", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", "smoke:"+program)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		var payload map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return fmt.Errorf("status %d: %v", resp.StatusCode, payload["error"])
	}
	return nil
}

func mustToken(tokens *auth.Tokens, subject, role string) string {
	tok, _, err := tokens.GenerateToken(subject, []string{role}, 5*time.Minute)
	if err != nil {
		log.Fatalf("issue token for %s: %v", subject, err)
	}
	return tok
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
