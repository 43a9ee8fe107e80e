package db

// Actor identifies who performed a workflow action: a real user, or the
// system itself (SLA scanner, scheduled jobs). System actions are stored
// with a NULL actor_id on the audit event, not with a reserved user id.
type Actor struct {
	UserID string
	Role   UserRole
	system bool
}

// UserActor builds an actor for an authenticated user with its resolved role.
func UserActor(userID string, role UserRole) Actor {
	return Actor{UserID: userID, Role: role}
}

// SystemActor builds the sentinel actor for automated actions.
func SystemActor() Actor {
	return Actor{Role: RoleBot, system: true}
}

// IsSystem reports whether the action is automated rather than user-driven.
func (a Actor) IsSystem() bool {
	return a.system || a.UserID == ""
}
