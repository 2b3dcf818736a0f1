package cli

import (
	"github.com/spf13/cobra"

	"price-ticker/internal/alerts"
)

var simulatePrice string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate alerts against a given price and dispatch notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := alerts.ParseThreshold(simulatePrice)
		if err != nil {
			return err
		}
		return getApp().SimulateAlert(cmd.Context(), price)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Simulated price in USD")
	_ = simulateCmd.MarkFlagRequired("price")
}
