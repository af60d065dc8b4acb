package main

import (
	"fmt"

	"tenant-auth/internal/session"
	"tenant-auth/pkg/utils"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Maintain the durable session registry",
}

// The durable store has no native expiry; rows outside the TTL window are
// already ignored by reads, this only reclaims them.
var purgeSessionsCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete session rows older than SESSION_TTL",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := load(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		db, err := utils.OpenPostgres(ctx, "pgx", e.cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		n, err := session.NewPostgresStore(db, e.cfg.Session.TTL).PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("purge sessions: %w", err)
		}
		e.log.Info("expired sessions purged", "rows", n, "ttl", e.cfg.Session.TTL.String())
		fmt.Printf("Purged %d expired session(s)\n", n)
		return nil
	},
}

func init() {
	sessionsCmd.AddCommand(purgeSessionsCmd)
}
