package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// ビルド時に -ldflags "-X main.version=..." で設定する。
var (
	version = "dev"
	commit  = "none"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fleetgate %s (commit %s, %s)\n", version, commit, runtime.Version())
		},
	}
}
