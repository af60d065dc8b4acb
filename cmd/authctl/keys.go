package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect and rotate the JWT signing key",
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Retire the current signing key and install a new one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := load(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		m, err := e.keyManager(ctx)
		if err != nil {
			return fmt.Errorf("init key manager: %w", err)
		}
		if err := m.Rotate(ctx); err != nil {
			return fmt.Errorf("rotate: %w", err)
		}
		h := m.Health(ctx)
		fmt.Printf("Signing key rotated. Retired keys in grace window: %d\n", h.RetiredKeys)
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Print the signing key health report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := load(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		m, err := e.keyManager(ctx)
		if err != nil {
			return fmt.Errorf("init key manager: %w", err)
		}
		h := m.Health(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(h); err != nil {
			return err
		}
		if !h.Healthy {
			return fmt.Errorf("signing key unhealthy")
		}
		return nil
	},
}

var serveRotationCmd = &cobra.Command{
	Use:   "serve-rotation",
	Short: "Run the scheduled rotation loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		e, err := load(ctx)
		if err != nil {
			return err
		}
		defer e.close()

		m, err := e.keyManager(ctx)
		if err != nil {
			return fmt.Errorf("init key manager: %w", err)
		}
		if !e.cfg.Auth.RotationEnabled || m.Static() {
			return fmt.Errorf("scheduled rotation is disabled (JWT_ROTATION_ENABLED=false or JWT_SECRET set)")
		}
		e.log.Info("rotation loop started", "interval", e.cfg.Auth.RotationInterval.String())
		m.Run(ctx, e.cfg.Auth.RotationInterval)
		return nil
	},
}

func init() {
	keysCmd.AddCommand(rotateCmd, healthCmd, serveRotationCmd)
}
