package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"

	"price-ticker/internal/chart"
	"price-ticker/internal/format"
	"price-ticker/internal/market"
	"price-ticker/internal/storage"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting historical samples.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// BackfillOptions configure the history import.
type BackfillOptions struct {
	Period market.Period
	DryRun bool
}

var errNoDatabase = errors.New("database not configured; set database.dsn")

func (a *App) requireStore(ctx context.Context, fn func(store *storage.Store) error) error {
	return a.withStore(ctx, func(store *storage.Store) error {
		if store == nil {
			return errNoDatabase
		}
		return fn(store)
	})
}

// Show prints recent samples.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	return a.requireStore(ctx, func(store *storage.Store) error {
		samples, err := store.ListRecentSamples(ctx, opts.Limit)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			fmt.Fprintln(a.Out, "no samples found")
			return nil
		}
		total, err := store.CountSamples(ctx)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(a.Out)
		table.SetAutoFormatHeaders(false)
		table.SetHeader([]string{"Time (UTC)", "Source", "Price", "Change(24h)", "Market Cap", "Volume(24h)", "Rank"})
		for _, s := range samples {
			price := s.Price
			table.Append([]string{
				s.ObservedAt.UTC().Format(time.RFC3339),
				s.Source,
				format.PriceUSD(&price),
				format.Change(s.ChangePercent24h),
				format.LargeNumber(s.MarketCapUSD),
				format.LargeNumber(s.Volume24hUSD),
				format.Rank(s.Rank),
			})
		}
		table.SetFooter([]string{"", "", "", "", "", "stored", fmt.Sprint(total)})
		table.Render()
		return nil
	})
}

// Export renders historical samples as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-market.Period30d.Lookback())
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	return a.requireStore(ctx, func(store *storage.Store) error {
		samples, err := store.ListSamplesBetween(ctx, from, to)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			a.Logger.Info().Msg("no samples found for export window")
			return nil
		}

		downsampled := downsampleSamples(samples, opts.MaxPoints)
		a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

		if opts.CSVPath != "" {
			if err := writeFile(opts.CSVPath, func(f *os.File) error { return chart.WriteCSV(f, downsampled) }); err != nil {
				return err
			}
		}
		if opts.PNGPath != "" {
			series := make([]market.SeriesPoint, 0, len(downsampled))
			for _, s := range downsampled {
				series = append(series, s.SeriesPoint())
			}
			renderOpts := chart.RenderOptions{Width: a.Config.Chart.Width, Height: a.Config.Chart.Height, Symbol: a.Config.App.Symbol}
			period := periodForSpan(to.Sub(from))
			if err := writeFile(opts.PNGPath, func(f *os.File) error {
				return chart.RenderSeries(f, series, period, renderOpts)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Prune deletes samples older than the cutoff.
func (a *App) Prune(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return errors.New("--older-than must be positive")
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	return a.requireStore(ctx, func(store *storage.Store) error {
		n, err := store.DeleteSamplesBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "deleted %d samples before %s\n", n, cutoff.Format(time.RFC3339))
		return nil
	})
}

// Backfill imports the provider's price history into the sample table.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	provider, err := a.newProvider()
	if err != nil {
		return err
	}
	history, ok := provider.(market.HistoryProvider)
	if !ok {
		return fmt.Errorf("provider %s does not serve history", provider.Name())
	}

	series, err := history.FetchHistory(ctx, opts.Period)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	series = chart.Clean(series)
	if len(series) == 0 {
		return fmt.Errorf("provider %s returned no history for %s", provider.Name(), opts.Period)
	}

	if opts.DryRun {
		a.Logger.Warn().Int("points", len(series)).Msg("backfill dry-run: nothing written")
		fmt.Fprintf(a.Out, "would import %d points from %s to %s\n", len(series),
			series[0].Timestamp.UTC().Format(time.RFC3339), series[len(series)-1].Timestamp.UTC().Format(time.RFC3339))
		return nil
	}

	return a.requireStore(ctx, func(store *storage.Store) error {
		written, failed := 0, 0
		for _, p := range series {
			if err := ctx.Err(); err != nil {
				return err
			}
			sample := storage.PriceSample{ObservedAt: p.Timestamp.UTC(), Source: provider.Name() + "_history", Price: p.Price}
			if err := store.UpsertSample(ctx, sample); err != nil {
				failed++
				a.Logger.Error().Err(err).Time("observed_at", p.Timestamp).Msg("backfill write failed")
				continue
			}
			written++
		}
		a.Logger.Info().Int("written", written).Int("failed", failed).Msg("backfill complete")
		fmt.Fprintf(a.Out, "imported %d points\n", written)
		if failed > 0 {
			return fmt.Errorf("%d points failed to import, check logs", failed)
		}
		return nil
	})
}

func downsampleSamples(samples []storage.PriceSample, max int) []storage.PriceSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}
	result := make([]storage.PriceSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(step*float64(i) + 0.5)
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

// periodForSpan picks the narrowest chart period covering span.
func periodForSpan(span time.Duration) market.Period {
	for _, p := range market.Periods() {
		if span <= p.Lookback() {
			return p
		}
	}
	return market.Period1y
}

func writeFile(path string, fn func(f *os.File) error) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
