package chart

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"price-ticker/internal/market"
)

// Summary describes a series.
type Summary struct {
	Count     int       `json:"count"`
	First     time.Time `json:"first"`
	Last      time.Time `json:"last"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Mean      float64   `json:"mean"`
	StdDev    float64   `json:"stddev"`
	ChangePct float64   `json:"changePct"`
}

// Summarize computes range and dispersion statistics. It returns
// ErrEmptySeries when no usable point remains.
func Summarize(points []market.SeriesPoint) (Summary, error) {
	points = Clean(points)
	if len(points) == 0 {
		return Summary{}, ErrEmptySeries
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Price.InexactFloat64()
	}

	s := Summary{
		Count: len(points),
		First: points[0].Timestamp,
		Last:  points[len(points)-1].Timestamp,
		Open:  values[0],
		Close: values[len(values)-1],
		Min:   floats.Min(values),
		Max:   floats.Max(values),
	}
	if len(values) > 1 {
		s.Mean, s.StdDev = stat.MeanStdDev(values, nil)
	} else {
		s.Mean = values[0]
	}
	if s.Open != 0 {
		s.ChangePct = (s.Close - s.Open) / s.Open * 100
	}
	return s, nil
}
