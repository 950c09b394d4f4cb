package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"gradify.org/internal/vesting"
)

const uniqueViolation = "23505"

// VestingStore persists programs and employee records.
type VestingStore struct {
	db *sql.DB
}

var _ vesting.Store = (*VestingStore)(nil)

// NewVestingStore wraps an existing handle.
func NewVestingStore(db *sql.DB) *VestingStore { return &VestingStore{db: db} }

const programColumns = `address, owner, company_name, treasury, token, employee_count, bump, treasury_bump, created_at`

const employeeColumns = `address, program, beneficiary, start_time, end_time, cliff_time,
	total_amount::text, total_withdrawn::text, bump, created_at`

func (s *VestingStore) InsertProgram(ctx context.Context, p vesting.Program) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into vesting_programs(`+programColumns+`)
		values ($1,$2,$3,$4,$5,0,$6,$7,$8)
	`, p.Address, p.Owner, p.CompanyName, p.Treasury, p.Token, int16(p.Bump), int16(p.TreasuryBump), created)
	if isUniqueViolation(err) {
		return vesting.ErrProgramExists
	}
	return err
}

func (s *VestingStore) GetProgram(ctx context.Context, address string) (vesting.Program, error) {
	p, err := scanProgram(s.db.QueryRowContext(ctx, `
		select `+programColumns+` from vesting_programs where address=$1
	`, address))
	if errors.Is(err, sql.ErrNoRows) {
		return vesting.Program{}, vesting.ErrProgramNotFound
	}
	return p, err
}

func (s *VestingStore) ListPrograms(ctx context.Context, owner, companyName string) ([]vesting.Program, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+programColumns+` from vesting_programs
		where ($1 = '' or owner = $1) and ($2 = '' or company_name = $2)
		order by created_at asc, address asc
	`, owner, companyName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vesting.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *VestingStore) InsertEmployee(ctx context.Context, e vesting.EmployeeRecord) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The parent row lock orders concurrent inserts under one program.
	res, err := tx.ExecContext(ctx, `
		update vesting_programs set employee_count = employee_count + 1 where address=$1
	`, e.Program)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return vesting.ErrProgramNotFound
	}

	s0 := e.Schedule
	if _, err := tx.ExecContext(ctx, `
		insert into employee_vesting(address, program, beneficiary, start_time, end_time, cliff_time,
			total_amount, total_withdrawn, bump, created_at)
		values ($1,$2,$3,$4,$5,$6,$7::numeric,$8::numeric,$9,$10)
	`, e.Address, e.Program, e.Beneficiary, s0.StartTime, s0.EndTime, s0.CliffTime,
		strconv.FormatUint(s0.TotalAmount, 10), strconv.FormatUint(e.TotalWithdrawn, 10), int16(e.Bump), created); err != nil {
		if isUniqueViolation(err) {
			return vesting.ErrEmployeeExists
		}
		return err
	}
	return tx.Commit()
}

func (s *VestingStore) GetEmployee(ctx context.Context, address string) (vesting.EmployeeRecord, error) {
	e, err := scanEmployee(s.db.QueryRowContext(ctx, `
		select `+employeeColumns+` from employee_vesting where address=$1
	`, address))
	if errors.Is(err, sql.ErrNoRows) {
		return vesting.EmployeeRecord{}, vesting.ErrEmployeeNotFound
	}
	return e, err
}

func (s *VestingStore) ListEmployees(ctx context.Context, program string) ([]vesting.EmployeeRecord, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from vesting_programs where address=$1)
	`, program).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, vesting.ErrProgramNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		select `+employeeColumns+` from employee_vesting
		where program=$1
		order by created_at asc, address asc
	`, program)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vesting.EmployeeRecord
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *VestingStore) UpdateWithdrawn(ctx context.Context, address string, from, to uint64) error {
	res, err := s.db.ExecContext(ctx, `
		update employee_vesting set total_withdrawn = $3::numeric
		where address=$1 and total_withdrawn = $2::numeric
	`, address, strconv.FormatUint(from, 10), strconv.FormatUint(to, 10))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from employee_vesting where address=$1)
	`, address).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return vesting.ErrEmployeeNotFound
	}
	return vesting.ErrConcurrentUpdate
}

func scanProgram(row scanner) (vesting.Program, error) {
	var (
		p            vesting.Program
		count        int64
		bump, tbBump int16
	)
	if err := row.Scan(&p.Address, &p.Owner, &p.CompanyName, &p.Treasury, &p.Token, &count, &bump, &tbBump, &p.CreatedAt); err != nil {
		return vesting.Program{}, err
	}
	p.EmployeeCount = uint64(count)
	p.Bump = uint8(bump)
	p.TreasuryBump = uint8(tbBump)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func scanEmployee(row scanner) (vesting.EmployeeRecord, error) {
	var (
		e                  vesting.EmployeeRecord
		totalRaw, withdRaw string
		bump               int16
	)
	if err := row.Scan(&e.Address, &e.Program, &e.Beneficiary,
		&e.Schedule.StartTime, &e.Schedule.EndTime, &e.Schedule.CliffTime,
		&totalRaw, &withdRaw, &bump, &e.CreatedAt); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	var err error
	if e.Schedule.TotalAmount, err = parseAmount(totalRaw); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	if e.TotalWithdrawn, err = parseAmount(withdRaw); err != nil {
		return vesting.EmployeeRecord{}, err
	}
	e.Bump = uint8(bump)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return err != nil && strings.Contains(err.Error(), "SQLSTATE "+uniqueViolation)
}
