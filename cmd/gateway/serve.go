package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/internal/gateway"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := gateway.Open(ctx, cfg, logger)
			if err != nil {
				logger.Error("Gatewayサーバーの初期化に失敗", zap.Error(err))
				return err
			}
			defer func() {
				if err := server.Close(); err != nil {
					logger.Warn("リソースの解放に失敗", zap.Error(err))
				}
			}()

			if err := server.Run(ctx); err != nil {
				logger.Error("Gatewayサービスの実行に失敗", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
