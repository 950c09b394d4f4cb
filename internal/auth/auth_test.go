package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokensRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens, err := NewTokens("secret", WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}

	tok, exp, err := tokens.GenerateToken("wallet-1", []string{"Employer", "employer", " "}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected exp: %v", exp)
	}

	p, err := tokens.Authenticate(context.Background(), tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.Subject != "wallet-1" {
		t.Fatalf("unexpected subject: %q", p.Subject)
	}
	if len(p.Roles) != 1 || p.Roles[0] != RoleEmployer {
		t.Fatalf("unexpected roles: %v", p.Roles)
	}
	if !p.HasPermission(PermProgramCreate) || p.HasPermission(PermClaim) {
		t.Fatalf("unexpected permissions: %v", p.Permissions)
	}
}

func TestTokensRejectExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	tokens, err := NewTokens("secret", WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	tok, _, err := tokens.GenerateToken("wallet-1", []string{RoleEmployee}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	clock = now.Add(2 * time.Minute)
	if _, err := tokens.ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokensRejectForeignSecret(t *testing.T) {
	a, _ := NewTokens("secret-a")
	b, _ := NewTokens("secret-b")
	tok, _, err := a.GenerateToken("wallet-1", nil, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := b.ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := b.ParseAndValidate("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens("   "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestContextPrincipal(t *testing.T) {
	ctx := ContextWithPrincipal(context.Background(), NewPrincipal("wallet-9", []string{RoleAdmin}))
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Subject != "wallet-9" {
		t.Fatalf("principal missing: %+v", p)
	}
	if id, ok := UserIDFromContext(ctx); !ok || id != "wallet-9" {
		t.Fatalf("user id missing: %q", id)
	}
	if !HasRole(ctx, "ADMIN") {
		t.Fatal("expected admin role")
	}
	if !p.HasPermission(PermLedgerRead) {
		t.Fatal("admin should read ledger")
	}
}

func TestCheckRoles(t *testing.T) {
	if err := CheckRoles([]string{"employer", "employee"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckRoles([]string{"root"}); !errors.Is(err, ErrUnknownRole) {
		t.Fatalf("expected ErrUnknownRole, got %v", err)
	}
}

func TestContextUserAndToken(t *testing.T) {
	ctx := ContextWithUser(context.Background(), " wallet-3 ", []string{"Employee", "employee"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Subject != "wallet-3" {
		t.Fatalf("principal missing: %+v", p)
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != RoleEmployee {
		t.Fatalf("unexpected roles: %v", roles)
	}
	if !p.HasPermission(PermClaim) || p.HasPermission(PermProgramCreate) {
		t.Fatalf("unexpected permissions: %v", p.Permissions)
	}

	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("empty context has no user")
	}
	if _, ok := TokenFromContext(ContextWithToken(context.Background(), "")); ok {
		t.Fatal("empty token should not be stored")
	}
	if tok, ok := TokenFromContext(ContextWithToken(ctx, "abc")); !ok || tok != "abc" {
		t.Fatalf("token = %q, %v", tok, ok)
	}
}
