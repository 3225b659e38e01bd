package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/internal/config"
	"github.com/nao1215/fleetgate/pkg/logging"
)

// serviceName はログに付与するサービス名。
const serviceName = "fleetgate"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fleetgate",
		Short:        "Gateway for fleet backend services",
		Long:         "fleetgate proxies requests to backend services and syncs reference data from the finance API.",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newSyncCmd(), newVersionCmd())
	return root
}

// setup は環境変数から設定を読み込み、ロガーを生成する。
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Env, serviceName)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
