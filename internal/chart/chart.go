// Package chart fetches price series per period and draws them.
package chart

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"price-ticker/internal/format"
	"price-ticker/internal/market"
)

// ErrEmptySeries is returned when fewer than two usable points remain.
var ErrEmptySeries = errors.New("no chart data available")

// RenderOptions size and label the image.
type RenderOptions struct {
	Width  int
	Height int
	Symbol string
}

var (
	lineColor = drawing.Color{R: 255, G: 161, B: 0, A: 255}
	fillColor = drawing.Color{R: 255, G: 161, B: 0, A: 48}
)

// Clean drops points with a zero timestamp or negative price, orders the rest
// by time and collapses duplicate timestamps keeping the last value.
func Clean(points []market.SeriesPoint) []market.SeriesPoint {
	out := make([]market.SeriesPoint, 0, len(points))
	for _, p := range points {
		if p.Timestamp.IsZero() || p.Price.IsNegative() {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	deduped := out[:0]
	for _, p := range out {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp.Equal(p.Timestamp) {
			deduped[n-1] = p
			continue
		}
		deduped = append(deduped, p)
	}
	return deduped
}

// RenderSeries draws an area chart of points as PNG.
func RenderSeries(w io.Writer, points []market.SeriesPoint, period market.Period, opts RenderOptions) error {
	points = Clean(points)
	if len(points) < 2 {
		return ErrEmptySeries
	}
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 400
	}

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, p := range points {
		x[i] = p.Timestamp
		y[i] = p.Price.InexactFloat64()
		lo = math.Min(lo, y[i])
		hi = math.Max(hi, y[i])
	}

	places := format.PricePlaces(decimal.NewFromFloat(hi))
	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, fmt.Sprintf("$%%.%df", places))
	}

	yAxis := chart.YAxis{
		Name:           "Price (USD)",
		ValueFormatter: priceFormatter,
	}
	if lo == hi {
		pad := math.Max(math.Abs(hi)*0.01, 1e-12)
		yAxis.Range = &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s %s", opts.Symbol, period),
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			ValueFormatter: timeFormatter(period),
		},
		YAxis: yAxis,
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Price",
				XValues: x,
				YValues: y,
				Style: chart.Style{
					StrokeColor: lineColor,
					StrokeWidth: 2,
					FillColor:   fillColor,
				},
			},
		},
	}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func timeFormatter(period market.Period) chart.ValueFormatter {
	if period == market.Period24h {
		return chart.TimeHourValueFormatter
	}
	return chart.TimeDateValueFormatter
}

// Downsample keeps at most max points, evenly spaced and including both ends.
func Downsample(points []market.SeriesPoint, max int) []market.SeriesPoint {
	if max <= 0 || len(points) <= max {
		return points
	}
	if max == 1 {
		return points[len(points)-1:]
	}

	result := make([]market.SeriesPoint, 0, max)
	step := float64(len(points)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(points) {
			idx = len(points) - 1
		}
		result = append(result, points[idx])
	}
	return result
}
