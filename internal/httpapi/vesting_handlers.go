package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gradify.org/internal/vesting"
)

type createProgramRequest struct {
	CompanyName string `json:"company_name"`
}

type fundTreasuryRequest struct {
	Amount         uint64 `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type fundTreasuryResponse struct {
	Program       string `json:"program"`
	Amount        uint64 `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

type createEmployeeRequest struct {
	Beneficiary string `json:"beneficiary"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	CliffTime   int64  `json:"cliff_time"`
	TotalAmount uint64 `json:"total_amount"`
}

type claimRequest struct {
	CompanyName string `json:"company_name"`
	Owner       string `json:"owner"`
	Employee    string `json:"employee"`
}

type listProgramsResponse struct {
	Items []vesting.Program `json:"items"`
}

type listEmployeesResponse struct {
	Items []vesting.EmployeeView `json:"items"`
	AsOf  time.Time              `json:"as_of"`
}

func (a *API) createProgram(w http.ResponseWriter, r *http.Request) {
	p, _ := caller(r)
	var req createProgramRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	prog, err := a.opts.Vesting.CreateProgram(r.Context(), p.Subject, req.CompanyName)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/programs/"+prog.Address)
	writeJSON(w, http.StatusCreated, prog)
}

func (a *API) listPrograms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	progs, err := a.opts.Vesting.ListPrograms(r.Context(), strings.TrimSpace(q.Get("owner")), q.Get("company_name"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if progs == nil {
		progs = []vesting.Program{}
	}
	writeJSON(w, http.StatusOK, listProgramsResponse{Items: progs})
}

func (a *API) getProgram(w http.ResponseWriter, r *http.Request) {
	prog, err := a.opts.Vesting.GetProgram(r.Context(), chi.URLParam(r, "program"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (a *API) programMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := a.opts.Vesting.ProgramMetrics(r.Context(), chi.URLParam(r, "program"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) fundTreasury(w http.ResponseWriter, r *http.Request) {
	p, _ := caller(r)
	var req fundTreasuryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	idem := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if req.IdempotencyKey != "" {
		bodyKey := strings.TrimSpace(req.IdempotencyKey)
		if idem == "" {
			idem = bodyKey
		} else if idem != bodyKey {
			writeError(w, r, http.StatusBadRequest, "Idempotency-Key header and body value must match")
			return
		}
	}
	if len(idem) > 128 {
		writeError(w, r, http.StatusBadRequest, "Idempotency-Key too long")
		return
	}

	program := chi.URLParam(r, "program")
	txID, err := a.opts.Vesting.FundTreasury(r.Context(), p.Subject, program, req.Amount, idem)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if idem != "" {
		w.Header().Set("Idempotency-Key", idem)
	}
	writeJSON(w, http.StatusCreated, fundTreasuryResponse{
		Program:       program,
		Amount:        req.Amount,
		TransactionID: txID,
	})
}

func (a *API) createEmployee(w http.ResponseWriter, r *http.Request) {
	p, _ := caller(r)
	var req createEmployeeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.opts.Vesting.CreateEmployee(r.Context(), p.Subject, chi.URLParam(r, "program"), req.Beneficiary, vesting.Schedule{
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		CliffTime:   req.CliffTime,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/employees/"+rec.Address)
	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) listEmployees(w http.ResponseWriter, r *http.Request) {
	views, err := a.opts.Vesting.ListEmployees(r.Context(), chi.URLParam(r, "program"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	resp := listEmployeesResponse{Items: views, AsOf: time.Now().UTC()}
	if len(views) > 0 {
		resp.AsOf = time.Unix(views[0].AsOf, 0).UTC()
	}
	if resp.Items == nil {
		resp.Items = []vesting.EmployeeView{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getEmployee(w http.ResponseWriter, r *http.Request) {
	v, err := a.opts.Vesting.GetEmployee(r.Context(), chi.URLParam(r, "employee"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// claim releases the caller's vested tokens. The record is addressed either
// directly or through the company name (plus owner when it is ambiguous).
func (a *API) claim(w http.ResponseWriter, r *http.Request) {
	p, _ := caller(r)
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var (
		receipt vesting.ClaimReceipt
		err     error
	)
	if employee := strings.TrimSpace(req.Employee); employee != "" {
		receipt, err = a.opts.Vesting.ClaimRecord(r.Context(), p.Subject, employee)
	} else {
		receipt, err = a.opts.Vesting.Claim(r.Context(), p.Subject, req.CompanyName, req.Owner)
	}
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
