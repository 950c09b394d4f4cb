package auth

const (
	PermProgramCreate  = "vesting.program.create"
	PermEmployeeCreate = "vesting.employee.create"
	PermTreasuryFund   = "vesting.treasury.fund"
	PermClaim          = "vesting.claim"
	PermLedgerRead     = "ledger.read"
)

const (
	RoleAdmin    = "admin"
	RoleEmployer = "employer"
	RoleEmployee = "employee"
)

var rolePermissions = map[string][]string{
	RoleAdmin:    {PermProgramCreate, PermEmployeeCreate, PermTreasuryFund, PermClaim, PermLedgerRead},
	RoleEmployer: {PermProgramCreate, PermEmployeeCreate, PermTreasuryFund},
	RoleEmployee: {PermClaim},
}

// KnownRole reports whether role grants any permission.
func KnownRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// PermissionsForRoles flattens the permissions granted by roles.
func PermissionsForRoles(roles []string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, role := range dedupeRoles(roles) {
		for _, p := range rolePermissions[role] {
			set[p] = struct{}{}
		}
	}
	return set
}
