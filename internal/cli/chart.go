package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-ticker/internal/app"
	"price-ticker/internal/market"
)

var (
	chartPeriod string
	chartOut    string
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Render a price chart as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		period, err := market.ParsePeriod(chartPeriod)
		if err != nil {
			return err
		}
		path := chartOut
		if path == "" {
			path = fmt.Sprintf("chart-%s.png", period)
		}
		return getApp().Chart(cmd.Context(), app.ChartOptions{Period: period, Path: path})
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartPeriod, "period", string(market.Period24h), "Chart period (24h, 7d, 30d, 90d, 1y)")
	chartCmd.Flags().StringVar(&chartOut, "out", "", "Path to write the PNG (defaults to chart-<period>.png)")
}
