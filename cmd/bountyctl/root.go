package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	pg "carrierwave/internal/adapters/postgres"
	"carrierwave/internal/config"
	"carrierwave/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bountyctl",
		Short:         "Operator tooling for the carrierwave bounty ledger.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(newMigrateCmd(), newSettleCmd(), newBalanceCmd())
	return root
}

// connect opens the ledger database named by DATABASE_URL.
func connect(ctx context.Context) (*pg.DB, error) {
	cfg, err := config.Load()
	if errors.Is(err, config.ErrNoDatabase) {
		return nil, errors.New("DATABASE_URL is required")
	}
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return pg.Connect(ctx, cfg.DatabaseURL, 2, logger)
}
