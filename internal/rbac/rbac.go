package rbac

type Role string
type Action string

const (
	RoleOwner       Role = "owner"
	RoleContributor Role = "contributor"
	RoleViewer      Role = "viewer"
	RoleBlocked     Role = "blocked"
)

const (
	ActionRead       Action = "read"
	ActionContribute Action = "contribute"
	ActionAdmin      Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleContributor:
		return action == ActionRead || action == ActionContribute
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown role tags to contributor, the role an authenticated
// caller holds when a conversation does not list them.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleOwner, RoleContributor, RoleViewer, RoleBlocked:
		return Role(role)
	default:
		return RoleContributor
	}
}

// Effective returns the role a caller holds on a conversation. Anonymous
// callers are viewers when anonymous reads are enabled and blocked otherwise.
func Effective(participantRoles map[string]string, userID string, anonymousRead bool) Role {
	if userID == "" {
		if anonymousRead {
			return RoleViewer
		}
		return RoleBlocked
	}
	tag, ok := participantRoles[userID]
	if !ok {
		return RoleContributor
	}
	return Normalize(tag)
}
