package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage price alerts",
}

var alertsAddCmd = &cobra.Command{
	Use:   "add <above|below> <price>",
	Short: "Add an alert that fires once when the price crosses the threshold",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddAlert(cmd.Context(), args[1], args[0])
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlerts(cmd.Context())
	},
}

var alertsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid alert id %q", args[0])
		}
		return getApp().DeleteAlert(cmd.Context(), id)
	},
}

func init() {
	alertsCmd.AddCommand(alertsAddCmd, alertsListCmd, alertsDeleteCmd)
}
