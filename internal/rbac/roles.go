package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleCaller     = "caller"
	RoleCallee     = "callee"
	RoleSupport    = "support"
	RoleAdmin      = "admin"
	RoleReconciler = "reconciler" // hidden role
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsHiddenRole(role string) bool { return role == RoleReconciler }
