package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"gradify.org/internal/auth"
	"gradify.org/internal/loadgen"
	"gradify.org/internal/vesting"
)

type grant struct {
	company  string
	owner    string
	record   string
	token    string
	ownerTok string
}

type client struct {
	base string
	http *http.Client
}

func main() {
	var (
		baseURL   = pflag.String("base-url", "http://localhost:8080", "API base URL")
		workers   = pflag.Int("workers", 4, "Concurrent claim workers")
		duration  = pflag.Duration("duration", 2*time.Minute, "Length of the claim phase")
		programs  = pflag.Int("programs", 3, "Vesting programs to create")
		employees = pflag.Int("employees", 5, "Grants per program")
		seed      = pflag.Int64("seed", 0, "Schedule generator seed (0 picks one)")
	)
	pflag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	c := &client{base: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}
	gen := loadgen.NewGenerator(loadgen.StartupScenario(), *seed)
	sc := gen.Scenario()
	log.Printf("Launching %s: base=%s workers=%d duration=%s programs=%d employees=%d",
		sc.Name, c.base, *workers, *duration, *programs, *employees)

	grants, err := setup(ctx, c, gen, *programs, *employees)
	if err != nil {
		log.Fatalf("setup: %v", err)
	}
	log.Printf("Created %d grants", len(grants))

	var counter loadgen.Counter
	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				g := grants[rnd.Intn(len(grants))]
				var receipt vesting.ClaimReceipt
				status, code, err := c.do(ctx, http.MethodPost, "/v1/claims", g.token, "",
					map[string]string{"company_name": g.company, "owner": g.owner}, &receipt)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Printf("worker %d claim: %v", id, err)
					counter.Observe(0, "", 0)
					time.Sleep(200 * time.Millisecond)
					continue
				}
				counter.Observe(status, code, receipt.Amount)
				switch status {
				case http.StatusTooManyRequests:
					time.Sleep(250 * time.Millisecond)
				case http.StatusOK, http.StatusUnprocessableEntity, http.StatusConflict:
				default:
					log.Printf("worker %d claim failed: status=%d code=%s", id, status, code)
				}
				time.Sleep(gen.Jitter(50*time.Millisecond, 120*time.Millisecond))
			}
		}(i)
	}
	wg.Wait()

	snap := counter.Snapshot()
	log.Printf("Run complete: claims=%d claimed=%d not_yet=%d nothing=%d conflicts=%d rate_limited=%d failures=%d",
		snap.Claims, snap.Claimed, snap.NotYet, snap.Nothing, snap.Conflicts, snap.RateLimited, snap.Failures)

	// Every committed claim must show up in some record's withdrawn total.
	withdrawn, err := totalWithdrawn(context.Background(), c, grants)
	if err != nil {
		log.Fatalf("read back: %v", err)
	}
	if withdrawn != snap.Claimed {
		log.Fatalf("conservation check failed: records show %d withdrawn, responses reported %d", withdrawn, snap.Claimed)
	}
	log.Printf("Conservation check passed: %d tokens withdrawn", withdrawn)
}

func setup(ctx context.Context, c *client, gen *loadgen.Generator, programs, employees int) ([]grant, error) {
	if programs <= 0 || employees <= 0 {
		return nil, errors.New("programs and employees must be positive")
	}
	sc := gen.Scenario()
	var out []grant
	for i := 0; i < programs; i++ {
		owner := solana.NewWallet().PublicKey().String()
		ownerTok, err := c.issueToken(ctx, owner, auth.RoleEmployer)
		if err != nil {
			return nil, err
		}
		company := fmt.Sprintf("%s-%s", sc.Companies[i%len(sc.Companies)], uuid.NewString()[:8])

		var prog vesting.Program
		if err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/v1/programs", ownerTok, "",
			map[string]string{"company_name": company}, &prog); err != nil {
			return nil, fmt.Errorf("create program %s: %w", company, err)
		}

		now := time.Now()
		schedules := make([]vesting.Schedule, employees)
		var total uint64
		for j := range schedules {
			schedules[j] = gen.NextSchedule(now)
			total += schedules[j].TotalAmount
		}
		if err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/v1/programs/"+prog.Address+"/treasury/deposits",
			ownerTok, uuid.NewString(), map[string]uint64{"amount": total}, nil); err != nil {
			return nil, fmt.Errorf("fund %s: %w", prog.Address, err)
		}

		for _, s := range schedules {
			ben := solana.NewWallet().PublicKey().String()
			benTok, err := c.issueToken(ctx, ben, auth.RoleEmployee)
			if err != nil {
				return nil, err
			}
			var rec vesting.EmployeeRecord
			if err := c.expect(ctx, http.StatusCreated, http.MethodPost, "/v1/programs/"+prog.Address+"/employees", ownerTok, "",
				map[string]any{
					"beneficiary":  ben,
					"start_time":   s.StartTime,
					"end_time":     s.EndTime,
					"cliff_time":   s.CliffTime,
					"total_amount": s.TotalAmount,
				}, &rec); err != nil {
				return nil, fmt.Errorf("create employee under %s: %w", prog.Address, err)
			}
			out = append(out, grant{company: company, owner: owner, record: rec.Address, token: benTok, ownerTok: ownerTok})
		}
	}
	return out, nil
}

func totalWithdrawn(ctx context.Context, c *client, grants []grant) (uint64, error) {
	var sum uint64
	for _, g := range grants {
		var view vesting.EmployeeView
		if err := c.expect(ctx, http.StatusOK, http.MethodGet, "/v1/employees/"+g.record, g.ownerTok, "", nil, &view); err != nil {
			return 0, err
		}
		sum += view.TotalWithdrawn
	}
	return sum, nil
}

func (c *client) issueToken(ctx context.Context, subject string, roles ...string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.expect(ctx, http.StatusOK, http.MethodPost, "/v1/auth/token", "", "",
		map[string]any{"subject": subject, "roles": roles}, &out); err != nil {
		return "", fmt.Errorf("token endpoint: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("empty token returned")
	}
	return out.Token, nil
}

func (c *client) expect(ctx context.Context, want int, method, path, token, idem string, body, out any) error {
	status, code, err := c.do(ctx, method, path, token, idem, body, out)
	if err != nil {
		return err
	}
	if status != want {
		return fmt.Errorf("%s %s: status %d (code %q)", method, path, status, code)
	}
	return nil
}

// do sends one request. Successful bodies decode into out; error bodies yield
// their reason code.
func (c *client) do(ctx context.Context, method, path, token, idem string, body, out any) (int, string, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, "", err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Code string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, e.Code, nil
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, "", err
		}
	}
	return resp.StatusCode, "", nil
}
