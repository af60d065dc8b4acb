package rbac

import (
	"context"

	"tenant-auth/internal/apperr"
	"tenant-auth/internal/auth"
)

var ErrCrossTenant = apperr.New(apperr.KindForbidden, "Access denied: cross-tenant access")

// RequireSameTenantOrSuper passes when the caller is a super-admin or belongs
// to target.
func RequireSameTenantOrSuper(ctx context.Context, target int64) error {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	return CheckTenant(p, target)
}

// CheckTenant is RequireSameTenantOrSuper for an explicit principal.
func CheckTenant(p auth.Principal, target int64) error {
	if p.IsSuperAdmin() {
		return nil
	}
	if p.TenantID != nil && *p.TenantID == target {
		return nil
	}
	return ErrCrossTenant
}
