package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"tenant-auth/internal/account"
	"tenant-auth/internal/refresh"
	"tenant-auth/pkg/utils"

	"github.com/spf13/cobra"
)

var (
	usernameFlag string
	passwordFlag string
	stdinFlag    bool
)

var superAdminCmd = &cobra.Command{
	Use:   "superadmin",
	Short: "Manage super-admin accounts",
}

var createSuperAdminCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a super-admin account directly in the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(usernameFlag) == "" {
			return fmt.Errorf("--username flag is required")
		}
		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

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

		hash, err := account.Hasher{Cost: 12}.Hash(password)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}
		a, err := account.NewPostgresDirectory(db).Create(ctx, account.Account{
			Kind:         refresh.OwnerSuperAdmin,
			Username:     strings.TrimSpace(usernameFlag),
			PasswordHash: hash,
		})
		if err != nil {
			return fmt.Errorf("failed to create super-admin: %w", err)
		}

		fmt.Println("Super-admin created successfully!")
		fmt.Printf("ID: %d\n", a.ID)
		fmt.Printf("Username: %s\n", a.Username)
		return nil
	},
}

func init() {
	createSuperAdminCmd.Flags().StringVar(&usernameFlag, "username", "", "Username of the super-admin")
	createSuperAdminCmd.Flags().StringVar(&passwordFlag, "password", "", "Password (use --stdin to avoid shell history)")
	createSuperAdminCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")

	superAdminCmd.AddCommand(createSuperAdminCmd)
}
