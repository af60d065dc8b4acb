package httpapi

import (
	"tenant-auth/internal/auth"
	"tenant-auth/internal/metrics"
	"tenant-auth/internal/rbac"
	"tenant-auth/internal/refresh"

	"github.com/gin-gonic/gin"
)

// Mount wires the auth routes onto r. The authentication gate runs ahead of
// r; routes listed as public there reach their handlers without a principal.
func Mount(r gin.IRouter, h Handlers) {
	r.GET("/actuator/health", h.Health)
	r.GET("/actuator/health/jwt-key", h.KeyHealth)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api")
	{
		api.POST("/super-admin/login", h.LoginAs(refresh.OwnerSuperAdmin))
		api.POST("/super-admin/register", h.RegisterAs(refresh.OwnerSuperAdmin))
		api.POST("/super-admin/rotate-key", rbac.RequireAnyRole(auth.RoleSuperAdmin), h.RotateKey)

		api.POST("/client/login", h.LoginAs(refresh.OwnerClient))
		api.POST("/client/register", h.RegisterAs(refresh.OwnerClient))

		api.POST("/user/login", h.LoginAs(refresh.OwnerUser))
		api.POST("/user/register", rbac.RequireAnyRole(auth.RoleAdmin), h.RegisterAs(refresh.OwnerUser))

		api.POST("/auth/login", h.LoginAs(""))
		api.POST("/auth/refresh", h.RefreshToken)
		api.POST("/auth/logout", h.Logout)

		api.GET("/clients/:clientId/me", rbac.RequireTenant(), rbac.RequireTenantParam("clientId"), h.Me)
	}
	r.GET("/debug/me", h.Me)
}
