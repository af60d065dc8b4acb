package rbac

import (
	"strconv"

	"tenant-auth/internal/apperr"
	"tenant-auth/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireTenant enforces that the caller has a tenant scope. Super-admins
// pass with an all-tenants scope.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := auth.TenantScopeFrom(c.Request.Context()); err != nil {
			apperr.Abort(c, err)
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller's expanded authorities contain
// any of allowed. With the role hierarchy, RequireAnyRole(auth.RoleAdmin)
// admits ADMIN, CLIENT and SUPER_ADMIN.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := HasAnyAuthority(c.Request.Context(), allowed...); err != nil {
			apperr.Abort(c, err)
			return
		}
		c.Next()
	}
}

// RequireTenantParam applies the tenant guard to a numeric path parameter.
func RequireTenantParam(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		target, err := strconv.ParseInt(c.Param(name), 10, 64)
		if err != nil {
			apperr.Abort(c, apperr.New(apperr.KindBadRequest, "invalid "+name))
			return
		}
		if err := RequireSameTenantOrSuper(c.Request.Context(), target); err != nil {
			apperr.Abort(c, err)
			return
		}
		c.Next()
	}
}
