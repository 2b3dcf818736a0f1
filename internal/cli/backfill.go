package cli

import (
	"github.com/spf13/cobra"

	"price-ticker/internal/app"
	"price-ticker/internal/market"
)

var (
	backfillPeriod string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Import provider price history into the sample table",
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := market.ParsePeriod(backfillPeriod)
		if err != nil {
			return err
		}
		return getApp().Backfill(cmd.Context(), app.BackfillOptions{Period: period, DryRun: backfillDryRun})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillPeriod, "period", string(market.Period30d), "History window to import (24h, 7d, 30d, 90d, 1y)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch without writing to storage")
}
