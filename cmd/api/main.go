package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tenant-auth/internal/account"
	"tenant-auth/internal/audit"
	"tenant-auth/internal/auth"
	"tenant-auth/internal/config"
	"tenant-auth/internal/keys"
	"tenant-auth/internal/login"
	"tenant-auth/internal/metrics"
	"tenant-auth/internal/refresh"
	"tenant-auth/internal/session"
	"tenant-auth/pkg/logger"
	"tenant-auth/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Error("metrics init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis is optional. Without it sessions live in postgres, retired keys
	// are only held in memory and the refresh denylist is disabled.
	var rdb *redis.Client
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr, Password: cfg.Redis.Password})
		if err != nil {
			if cfg.Session.Store == config.SessionStoreFast {
				log.Error("redis init failed", "err", err)
				os.Exit(1)
			}
			log.Warn("redis unavailable; continuing without fast store", "err", err)
			rdb = nil
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var keySecondary keys.SecondaryStore = keys.NopStore{}
	if rdb != nil {
		keySecondary = keys.NewRedisStore(rdb)
	}
	keyManager, err := keys.NewManager(rootCtx, keys.Options{
		StaticSecret:    cfg.Auth.JWTSecret,
		RotationEnabled: cfg.Auth.RotationEnabled,
		RetiredTTL:      cfg.Auth.RetiredKeyTTL,
		Logger:          log,
	}, keys.NewFileStore(cfg.Auth.KeyFile), keySecondary)
	if err != nil {
		log.Error("key manager init failed", "err", err)
		os.Exit(1)
	}

	tokens, err := auth.NewTokens(keyManager, auth.TokenOptions{Issuer: cfg.Auth.JWTIssuer, AccessTTL: cfg.Auth.AccessTokenTTL})
	if err != nil {
		log.Error("token service init failed", "err", err)
		os.Exit(1)
	}

	var fast session.FastStore
	if rdb != nil {
		fast = session.NewRedisStore(rdb, cfg.Session.TTL)
	}
	sessions, err := session.Open(rootCtx, cfg.Session.Store, fast, session.NewPostgresStore(db, cfg.Session.TTL), log)
	if err != nil {
		log.Error("session registry init failed", "err", err)
		os.Exit(1)
	}
	if auto, ok := sessions.(*session.AutoStore); ok {
		go auto.Run(rootCtx, cfg.Session.ProbeInterval)
	}
	policy := session.NewPolicy(cfg.Session.SingleActive, cfg.Session.MultiLoginClients, cfg.Session.MultiLoginUsers)

	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	accounts := account.NewPostgresDirectory(db)

	var denylist refresh.Denylist = refresh.NopDenylist{}
	if rdb != nil {
		denylist = refresh.NewRedisDenylist(rdb)
	}
	refreshSvc, err := refresh.NewService(refresh.Deps{
		Repo:     refresh.NewPostgresRepo(db),
		Denylist: denylist,
		Owners:   account.Owners{Dir: accounts},
		Tokens:   tokens,
		Policy:   policy,
		Sessions: sessions,
		Audit:    auditSvc,
	}, refresh.Options{TTL: cfg.Auth.RefreshTokenTTL})
	if err != nil {
		log.Error("refresh service init failed", "err", err)
		os.Exit(1)
	}

	limiter, err := login.NewLimiter(cfg.Auth.LoginRefill, cfg.Auth.LoginBurst, 10_000)
	if err != nil {
		log.Error("login limiter init failed", "err", err)
		os.Exit(1)
	}
	loginSvc, err := login.NewService(login.Deps{
		Accounts: accounts,
		Hasher:   account.Hasher{},
		Sessions: sessions,
		Refresh:  refreshSvc,
		Tokens:   tokens,
		Audit:    auditSvc,
		Limiter:  limiter,
	})
	if err != nil {
		log.Error("login service init failed", "err", err)
		os.Exit(1)
	}

	go keyManager.Run(rootCtx, cfg.Auth.RotationInterval)

	r := newRouter(cfg, log, routerDeps{
		gate:    auth.NewAuthenticator(tokens, policy, sessions),
		login:   loginSvc,
		refresh: refreshSvc,
		keys:    keyManager,
		audit:   auditSvc,
		ping: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           withCORS(r, cfg.HTTP.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "session_store", sessions.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// Background revokes started by logouts.
	refreshSvc.Wait()

	log.Info("shutdown complete")
}
