package auth

import "context"

const (
	// RoleMaster is a platform operator that may act on any tenant.
	RoleMaster = "master"
	RoleAdmin  = "admin"
)

type contextKey struct{}

type AuthContext struct {
	UserID   string
	TenantID string
	Role     string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func TenantID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.TenantID
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

func IsMaster(ctx context.Context) bool {
	ac, ok := FromContext(ctx)
	if !ok {
		return false
	}
	return ac.Role == RoleMaster
}

// CanAccessTenant reports whether the caller belongs to tenantID or is a
// platform operator.
func CanAccessTenant(ctx context.Context, tenantID string) bool {
	if tenantID == "" {
		return false
	}
	return IsMaster(ctx) || TenantID(ctx) == tenantID
}
