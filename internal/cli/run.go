package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ticker service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch the latest price once and print it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context())
	},
}
