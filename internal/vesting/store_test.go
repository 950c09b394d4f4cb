package vesting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePrograms(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.InsertProgram(ctx, Program{Address: "p1", Owner: "o1", CompanyName: "Acme"}))
	require.NoError(t, s.InsertProgram(ctx, Program{Address: "p2", Owner: "o2", CompanyName: "Acme"}))
	require.NoError(t, s.InsertProgram(ctx, Program{Address: "p3", Owner: "o1", CompanyName: "Beta"}))

	require.ErrorIs(t, s.InsertProgram(ctx, Program{Address: "p1", Owner: "o9", CompanyName: "X"}), ErrProgramExists)
	require.ErrorIs(t, s.InsertProgram(ctx, Program{Address: "p4", Owner: "o1", CompanyName: "Acme"}), ErrProgramExists)

	byName, err := s.ListPrograms(ctx, "", "Acme")
	require.NoError(t, err)
	require.Len(t, byName, 2)
	assert.Equal(t, "p1", byName[0].Address)
	assert.Equal(t, "p2", byName[1].Address)

	byOwner, err := s.ListPrograms(ctx, "o1", "")
	require.NoError(t, err)
	require.Len(t, byOwner, 2)
	assert.Equal(t, "p3", byOwner[1].Address)

	_, err = s.GetProgram(ctx, "missing")
	require.ErrorIs(t, err, ErrProgramNotFound)
}

func TestMemoryStoreEmployees(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertProgram(ctx, Program{Address: "p1", Owner: "o1", CompanyName: "Acme"}))

	require.ErrorIs(t, s.InsertEmployee(ctx, EmployeeRecord{Address: "e0", Program: "nope"}), ErrProgramNotFound)
	require.NoError(t, s.InsertEmployee(ctx, EmployeeRecord{Address: "e1", Program: "p1"}))
	require.NoError(t, s.InsertEmployee(ctx, EmployeeRecord{Address: "e2", Program: "p1"}))
	require.ErrorIs(t, s.InsertEmployee(ctx, EmployeeRecord{Address: "e1", Program: "p1"}), ErrEmployeeExists)

	p, err := s.GetProgram(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p.EmployeeCount)

	emps, err := s.ListEmployees(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, emps, 2)
	assert.Equal(t, "e1", emps[0].Address)

	require.NoError(t, s.UpdateWithdrawn(ctx, "e1", 0, 10))
	require.ErrorIs(t, s.UpdateWithdrawn(ctx, "e1", 0, 20), ErrConcurrentUpdate)
	require.ErrorIs(t, s.UpdateWithdrawn(ctx, "missing", 0, 1), ErrEmployeeNotFound)

	e, err := s.GetEmployee(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), e.TotalWithdrawn)
}
