package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/qrave1/RoomCall/internal/application/constant"
	"github.com/qrave1/RoomCall/internal/infra/adapters/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <command> [args...]",
	Short: "Run database migrations (goose commands: up, down, status, ...)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db, err := postgres.NewPostgres(cmd.Context(), cfg.Postgres.DSN())
		if err != nil {
			return fmt.Errorf("goose: failed to open DB: %w", err)
		}

		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("goose: failed to close DB", slog.Any(constant.Error, err))
			}
		}()

		if err := postgres.Migrate(cmd.Context(), db.DB, args[0], args[1:]...); err != nil {
			return errors.Join(fmt.Errorf("migrate %s failed", args[0]), err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
