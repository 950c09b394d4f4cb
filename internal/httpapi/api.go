package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"gradify.org/internal/auth"
	"gradify.org/internal/ledger"
	"gradify.org/internal/obs"
	"gradify.org/internal/stream"
	"gradify.org/internal/vesting"
)

const serviceName = "gradify-vesting"

const defaultMaxBodyBytes = 1 << 20

// ReadyProbe is a simple readiness check (database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// VestingService is the part of vesting.Service the transports drive.
type VestingService interface {
	Token() string
	CreateProgram(ctx context.Context, owner, companyName string) (vesting.Program, error)
	FundTreasury(ctx context.Context, caller, program string, amount uint64, key string) (string, error)
	CreateEmployee(ctx context.Context, caller, program, beneficiary string, sched vesting.Schedule) (vesting.EmployeeRecord, error)
	Claim(ctx context.Context, caller, companyName, owner string) (vesting.ClaimReceipt, error)
	ClaimRecord(ctx context.Context, caller, employee string) (vesting.ClaimReceipt, error)
	GetProgram(ctx context.Context, address string) (vesting.Program, error)
	ListPrograms(ctx context.Context, owner, companyName string) ([]vesting.Program, error)
	GetEmployee(ctx context.Context, address string) (vesting.EmployeeView, error)
	View(rec vesting.EmployeeRecord) vesting.EmployeeView
	ListEmployees(ctx context.Context, program string) ([]vesting.EmployeeView, error)
	ProgramMetrics(ctx context.Context, program string) (vesting.ProgramMetrics, error)
}

var _ VestingService = (*vesting.Service)(nil)

// Options wires the HTTP layer.
type Options struct {
	Version string
	Vesting VestingService
	Ledger  ledger.Service
	Stream  *stream.Stream
	Tokens  *auth.Tokens
	Ready   readinessChecker

	// DevTokens mounts POST /v1/auth/token, which signs a token for any
	// subject. Never enable it outside development.
	DevTokens bool
	TokenTTL  time.Duration

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
	MaxBodyBytes   int64
}

// API is the HTTP layer.
type API struct {
	opts   Options
	router chi.Router
}

func New(opts Options) (*API, error) {
	if opts.Vesting == nil {
		return nil, errors.New("httpapi: vesting service is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("httpapi: token authority is required")
	}
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 15 * time.Minute
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	a := &API{opts: opts}
	a.router = a.routes()
	return a, nil
}

// Handler returns the root handler with the full middleware chain.
func (a *API) Handler() http.Handler { return a.router }

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(LoggingJSON)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	if len(a.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   a.opts.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key", requestIDHeader},
			ExposedHeaders:   []string{requestIDHeader, "Retry-After", "Location"},
			AllowCredentials: false,
			MaxAge:           600,
		}))
	}
	r.Use(RateLimit(a.opts.RateLimitRPS, a.opts.RateLimitBurst))
	r.Use(MaxBodyBytes(a.opts.MaxBodyBytes))
	r.Use(obs.Instrument)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	if a.opts.DevTokens {
		r.Post("/v1/auth/token", a.handleAuthToken)
	}

	r.Group(func(r chi.Router) {
		r.Use(a.authenticate)

		r.With(RequirePermission(auth.PermProgramCreate)).Post("/v1/programs", a.createProgram)
		r.Get("/v1/programs", a.listPrograms)
		r.Route("/v1/programs/{program}", func(r chi.Router) {
			r.Get("/", a.getProgram)
			r.Get("/metrics", a.programMetrics)
			r.With(RequirePermission(auth.PermTreasuryFund)).Post("/treasury/deposits", a.fundTreasury)
			r.With(RequirePermission(auth.PermEmployeeCreate)).Post("/employees", a.createEmployee)
			r.Get("/employees", a.listEmployees)
		})
		r.Get("/v1/employees/{employee}", a.getEmployee)
		r.With(RequirePermission(auth.PermClaim)).Post("/v1/claims", a.claim)

		r.With(RequirePermission(auth.PermLedgerRead)).Get("/v1/ledger/transactions", a.listTransactions)
		r.Get("/v1/stream", a.Stream)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.opts.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.opts.Version,
		"token":   a.opts.Vesting.Token(),
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorCode(w, r, code, msg, "")
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, code int, msg, reason string) {
	payload := map[string]any{
		"error": msg,
	}
	if reason != "" {
		payload["code"] = reason
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads exactly one JSON object; the body size is capped by
// MaxBodyBytes.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
