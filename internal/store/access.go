package store

import (
	"errors"

	"agora/api/internal/rbac"
)

var (
	// ErrPermissionDenied is returned when the caller's role does not allow
	// the operation. Absent records are reported as sql.ErrNoRows instead.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrSlugTaken is returned when a slug write loses to the unique index.
	ErrSlugTaken = errors.New("slug already taken")
)

// Principal is the caller an access rule is evaluated for. An empty UserID
// is an anonymous caller.
type Principal struct {
	UserID string
}

func (p Principal) Anonymous() bool {
	return p.UserID == ""
}

type AccessRules struct {
	AnonymousRead bool
}

func (r AccessRules) Allows(roles map[string]string, p Principal, action rbac.Action) bool {
	role := rbac.Effective(roles, p.UserID, r.AnonymousRead)
	return rbac.Can(role, action)
}

func (r AccessRules) check(roles map[string]string, p Principal, action rbac.Action) error {
	if !r.Allows(roles, p, action) {
		return ErrPermissionDenied
	}
	return nil
}
