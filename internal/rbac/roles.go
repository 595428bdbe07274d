package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOperator = "operator"
	RoleAuditor  = "auditor"
	// RoleGlobalAuditor reads and verifies any tenant's chain. It never
	// writes and its token carries no tenant.
	RoleGlobalAuditor = "global_auditor"
	RoleSystem        = "system" // hidden role
)

func IsHiddenRole(role string) bool { return role == RoleSystem }

// IsCrossTenant reports whether role may name the tenant it acts on.
func IsCrossTenant(role string) bool { return role == RoleGlobalAuditor }

func IsKnownRole(role string) bool {
	switch role {
	case RoleOperator, RoleAuditor, RoleGlobalAuditor, RoleSystem:
		return true
	}
	return false
}
