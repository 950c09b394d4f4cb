package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrUnknownRole  = errors.New("auth: unknown role")
)

// CheckRoles rejects role names that grant nothing.
func CheckRoles(roles []string) error {
	for _, r := range dedupeRoles(roles) {
		if !KnownRole(r) {
			return ErrUnknownRole
		}
	}
	return nil
}
