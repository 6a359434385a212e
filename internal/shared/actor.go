package shared

import "strings"

// Roles understood by the core.
const (
	RoleAdmin     = "admin"
	RoleTreasurer = "treasurer"
	RoleAuditor   = "auditor"
)

// Actor is the authenticated member performing an operation. It is passed
// explicitly to every mutating call.
type Actor struct {
	ID    int64    `json:"user_id"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the actor carries role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// RequireActor rejects anonymous calls.
func RequireActor(a Actor) error {
	if a.ID <= 0 {
		return ErrForbidden
	}
	return nil
}
