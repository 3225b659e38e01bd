package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/internal/gateway"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [entity...]",
		Short: "Sync reference data from the finance API once",
		Long: "Sync reference data (products, customers, operators, orders) from the finance API " +
			"into the local database and print the report as JSON. Exits non-zero when any entity fails.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := gateway.RunSync(ctx, cfg, logger, args...)
			if err != nil {
				logger.Error("同期を開始できません", zap.Error(err))
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			return report.Err()
		},
	}
}
