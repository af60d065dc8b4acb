package rbac

import (
	"context"

	"tenant-auth/internal/apperr"
	"tenant-auth/internal/auth"
)

var (
	ErrUnauthenticated  = apperr.New(apperr.KindUnauthorized, "authentication required")
	ErrInsufficientRole = apperr.New(apperr.KindForbidden, "insufficient role")
)

// HasAnyAuthority reports whether the caller's expanded authorities include
// any of roles.
func HasAnyAuthority(ctx context.Context, roles ...string) error {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	for _, r := range roles {
		if p.HasAuthority(r) {
			return nil
		}
	}
	return ErrInsufficientRole
}
