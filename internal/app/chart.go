package app

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"price-ticker/internal/chart"
	"price-ticker/internal/format"
	"price-ticker/internal/market"
	"price-ticker/internal/storage"
)

// ChartOptions configure the chart command.
type ChartOptions struct {
	Period market.Period
	Path   string
}

// Chart writes a PNG price chart for the period and prints its summary.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	provider, err := a.newProvider()
	if err != nil {
		return err
	}

	return a.withStore(ctx, func(store *storage.Store) error {
		adapter := a.newChart(provider, store)
		series, err := adapter.Series(ctx, opts.Period)
		if err != nil {
			return err
		}

		if err := writeFile(opts.Path, func(f *os.File) error {
			return chart.RenderSeries(f, series, opts.Period, chart.RenderOptions{
				Width:  a.Config.Chart.Width,
				Height: a.Config.Chart.Height,
				Symbol: a.Config.App.Symbol,
			})
		}); err != nil {
			return err
		}

		summary, err := chart.Summarize(series)
		if err != nil {
			return err
		}
		low, high := decimal.NewFromFloat(summary.Min), decimal.NewFromFloat(summary.Max)
		change := decimal.NewFromFloat(summary.ChangePct)
		fmt.Fprintf(a.Out, "%s %s: %d points, low %s, high %s, change %s\nwrote %s\n",
			a.Config.App.Symbol, opts.Period, summary.Count,
			format.PriceUSD(&low), format.PriceUSD(&high), format.Change(&change), opts.Path)
		return nil
	})
}
