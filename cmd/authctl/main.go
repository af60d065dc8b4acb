package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"tenant-auth/internal/config"
	"tenant-auth/internal/keys"
	"tenant-auth/pkg/logger"
	"tenant-auth/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "authctl",
	Short:         "Operator tooling for the auth service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(keysCmd, superAdminCmd, sessionsCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env is what every subcommand needs: config, a logger and the optional
// redis client.
type env struct {
	cfg config.Config
	log *slog.Logger
	rdb *redis.Client
}

func load(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	e := &env{cfg: cfg, log: logger.New(cfg.App.Env)}
	if addr := cfg.RedisAddr(); addr != "" {
		e.rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: addr, Password: cfg.Redis.Password})
		if err != nil {
			e.log.Warn("redis unavailable; secondary key store disabled", "err", err)
			e.rdb = nil
		}
	}
	return e, nil
}

func (e *env) close() {
	if e.rdb != nil {
		_ = e.rdb.Close()
	}
}

func (e *env) keyManager(ctx context.Context) (*keys.Manager, error) {
	var secondary keys.SecondaryStore = keys.NopStore{}
	if e.rdb != nil {
		secondary = keys.NewRedisStore(e.rdb)
	}
	return keys.NewManager(ctx, keys.Options{
		StaticSecret:    e.cfg.Auth.JWTSecret,
		RotationEnabled: e.cfg.Auth.RotationEnabled,
		RetiredTTL:      e.cfg.Auth.RetiredKeyTTL,
		Logger:          e.log,
	}, keys.NewFileStore(e.cfg.Auth.KeyFile), secondary)
}
