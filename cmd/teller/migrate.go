package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eaglebank/teller/internal/config"
	"github.com/eaglebank/teller/internal/migrations"
	"github.com/eaglebank/teller/shared/database"
	"github.com/eaglebank/teller/shared/logging"
)

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(cfg.LogLevel, cfg.Development())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			conn, err := database.Open(cmd.Context(), cfg.DatabaseURL, "")
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := migrations.Up(conn.Primary, logger); err != nil {
				return err
			}
			logger.Info("migrations complete", zap.String("database", "primary"))
			return nil
		},
	}
}
