package vesting

import (
	"context"
	"sort"
	"sync"
)

// Store persists programs and employee records.
type Store interface {
	// InsertProgram fails with ErrProgramExists when the address or the
	// (owner, company name) pair is taken.
	InsertProgram(ctx context.Context, p Program) error
	GetProgram(ctx context.Context, address string) (Program, error)
	// ListPrograms returns programs ordered by creation; empty filters match all.
	ListPrograms(ctx context.Context, owner, companyName string) ([]Program, error)
	// InsertEmployee stores the record and increments the parent's
	// EmployeeCount atomically.
	InsertEmployee(ctx context.Context, e EmployeeRecord) error
	GetEmployee(ctx context.Context, address string) (EmployeeRecord, error)
	ListEmployees(ctx context.Context, program string) ([]EmployeeRecord, error)
	// UpdateWithdrawn moves TotalWithdrawn from `from` to `to`, failing with
	// ErrConcurrentUpdate when the stored value is not `from`.
	UpdateWithdrawn(ctx context.Context, address string, from, to uint64) error
}

// MemoryStore implements Store in process.
type MemoryStore struct {
	mu        sync.RWMutex
	programs  map[string]*Program
	byName    map[string]string // owner + "/" + company name -> address
	employees map[string]*EmployeeRecord
	seq       uint64
	order     map[string]uint64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		programs:  make(map[string]*Program),
		byName:    make(map[string]string),
		employees: make(map[string]*EmployeeRecord),
		order:     make(map[string]uint64),
	}
}

func (m *MemoryStore) InsertProgram(ctx context.Context, p Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.Owner + "/" + p.CompanyName
	if _, ok := m.programs[p.Address]; ok {
		return ErrProgramExists
	}
	if _, ok := m.byName[key]; ok {
		return ErrProgramExists
	}
	cp := p
	m.programs[p.Address] = &cp
	m.byName[key] = p.Address
	m.seq++
	m.order[p.Address] = m.seq
	return nil
}

func (m *MemoryStore) GetProgram(ctx context.Context, address string) (Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.programs[address]
	if !ok {
		return Program{}, ErrProgramNotFound
	}
	return *p, nil
}

func (m *MemoryStore) ListPrograms(ctx context.Context, owner, companyName string) ([]Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Program
	for _, p := range m.programs {
		if owner != "" && p.Owner != owner {
			continue
		}
		if companyName != "" && p.CompanyName != companyName {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].Address] < m.order[out[j].Address] })
	return out, nil
}

func (m *MemoryStore) InsertEmployee(ctx context.Context, e EmployeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.programs[e.Program]
	if !ok {
		return ErrProgramNotFound
	}
	if _, ok := m.employees[e.Address]; ok {
		return ErrEmployeeExists
	}
	cp := e
	m.employees[e.Address] = &cp
	m.seq++
	m.order[e.Address] = m.seq
	parent.EmployeeCount++
	return nil
}

func (m *MemoryStore) GetEmployee(ctx context.Context, address string) (EmployeeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.employees[address]
	if !ok {
		return EmployeeRecord{}, ErrEmployeeNotFound
	}
	return *e, nil
}

func (m *MemoryStore) ListEmployees(ctx context.Context, program string) ([]EmployeeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.programs[program]; !ok {
		return nil, ErrProgramNotFound
	}
	var out []EmployeeRecord
	for _, e := range m.employees {
		if e.Program == program {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.order[out[i].Address] < m.order[out[j].Address] })
	return out, nil
}

func (m *MemoryStore) UpdateWithdrawn(ctx context.Context, address string, from, to uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.employees[address]
	if !ok {
		return ErrEmployeeNotFound
	}
	if e.TotalWithdrawn != from {
		return ErrConcurrentUpdate
	}
	e.TotalWithdrawn = to
	return nil
}
