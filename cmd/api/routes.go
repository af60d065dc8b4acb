package main

import (
	"context"
	"log/slog"
	"net/http"

	"tenant-auth/internal/audit"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/config"
	"tenant-auth/internal/httpapi"
	"tenant-auth/internal/login"
	"tenant-auth/internal/metrics"
	"tenant-auth/internal/refresh"
	"tenant-auth/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
)

type routerDeps struct {
	gate    *auth.Authenticator
	login   *login.Service
	refresh *refresh.Service
	keys    httpapi.KeyAdmin
	audit   *audit.Service
	ping    func(ctx context.Context) error
}

// newRouter builds the gin engine. Keep this file free of business logic.
func newRouter(cfg config.Config, log *slog.Logger, d routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(metrics.Middleware())
	r.Use(d.gate.Middleware(auth.NewPublicPaths(cfg.HTTP.PublicPaths)))

	httpapi.Mount(r, httpapi.Handlers{
		Login:   d.login,
		Refresh: d.refresh,
		Keys:    d.keys,
		Audit:   d.audit,
		Ping:    d.ping,
	})
	return r
}

// withCORS answers preflights ahead of the router. No origins means no
// cross-origin access.
func withCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return h
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})(h)
}
