package main

import (
	"github.com/spf13/cobra"

	"github.com/eaglebank/teller/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "teller",
		Short: "Eagle Bank teller - validates and records account transactions",
		Long: `teller accepts deposits, withdrawals, transfers and loan requests,
validates each against the bank's transaction rules, records it and applies
its balance effect asynchronously.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.DatabaseURL, "db", cfg.DatabaseURL, "Primary database connection URL")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd(cfg), newMigrateCmd(cfg))
	return root
}
