package auth

// Principal is an authenticated caller. Subject is a wallet address.
type Principal struct {
	Subject     string
	Roles       []string
	Permissions map[string]struct{}
}

// NewPrincipal constructs a principal with permissions resolved from roles.
func NewPrincipal(subject string, roles []string) Principal {
	roles = dedupeRoles(roles)
	return Principal{Subject: subject, Roles: roles, Permissions: PermissionsForRoles(roles)}
}

// HasPermission reports whether the principal can execute action identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}
