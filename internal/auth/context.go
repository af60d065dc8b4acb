package auth

import (
	"context"

	"tenant-auth/internal/apperr"
)

// Principal is the authenticated caller of one request.
type Principal struct {
	Username   string   `json:"username"`
	TenantID   *int64   `json:"tenantId,omitempty"`
	IdentityID *int64   `json:"identityId,omitempty"`
	Roles      []string `json:"roles"`
	// Authorities is Roles expanded through the role hierarchy.
	Authorities []string `json:"authorities"`
	SessionID   string   `json:"sessionId"`
}

func (p Principal) IsSuperAdmin() bool { return hasRole(p.Roles, RoleSuperAdmin) }

// HasAuthority reports whether role is among the expanded authorities.
func (p Principal) HasAuthority(role string) bool { return hasRole(p.Authorities, role) }

// TenantScope is the data-access scope of a request. AllTenants is set for
// super-admins, who carry no tenant.
type TenantScope struct {
	TenantID   int64
	AllTenants bool
}

var ErrNoTenantScope = apperr.New(apperr.KindInternal, "tenant scope not established")

type ctxKey int

const (
	ctxPrincipal ctxKey = iota
	ctxTenantScope
)

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	return p, ok
}

func WithTenantScope(ctx context.Context, s TenantScope) context.Context {
	return context.WithValue(ctx, ctxTenantScope, s)
}

// TenantScopeFrom returns the scope established for the request. Business code
// that needs tenant scoping treats a missing scope as an internal fault.
func TenantScopeFrom(ctx context.Context) (TenantScope, error) {
	s, ok := ctx.Value(ctxTenantScope).(TenantScope)
	if !ok {
		return TenantScope{}, ErrNoTenantScope
	}
	return s, nil
}

// scopeFor derives the tenant scope for p.
func scopeFor(p Principal) (TenantScope, error) {
	if p.IsSuperAdmin() {
		return TenantScope{AllTenants: true}, nil
	}
	if p.TenantID == nil {
		return TenantScope{}, ErrNoTenantScope
	}
	return TenantScope{TenantID: *p.TenantID}, nil
}
