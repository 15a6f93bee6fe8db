package types

// Permission is an access tag an endpoint can require.
type Permission string

const (
	PermAnyone    Permission = "ANYONE"
	PermUser      Permission = "USER"
	PermHuman     Permission = "HUMAN"
	PermBot       Permission = "BOT"
	PermEvaluator Permission = "EVALUATOR"
	PermAdmin     Permission = "ADMIN"
)

// PermissionSet is the set of tags a session satisfies.
type PermissionSet map[Permission]struct{}

// Has reports whether p is in the set.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

func newPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// PermissionsFor maps a stored role to every tag it satisfies.
// HUMAN, BOT and EVALUATOR are each USERs; ADMIN satisfies everything.
// An empty role (no session) only satisfies ANYONE.
func PermissionsFor(role Role) PermissionSet {
	switch role {
	case RoleHuman:
		return newPermissionSet(PermHuman, PermUser, PermAnyone)
	case RoleBot:
		return newPermissionSet(PermBot, PermUser, PermAnyone)
	case RoleEvaluator:
		return newPermissionSet(PermEvaluator, PermUser, PermAnyone)
	case RoleAdmin:
		return newPermissionSet(PermAdmin, PermHuman, PermBot, PermEvaluator, PermUser, PermAnyone)
	default:
		return newPermissionSet(PermAnyone)
	}
}
