package market

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one normalized snapshot of market data for the tracked asset.
// Optional fields are nil when the upstream did not report them.
type PricePoint struct {
	Price            decimal.Decimal
	MarketCapUSD     *decimal.Decimal
	Volume24hUSD     *decimal.Decimal
	Rank             *int
	ChangePercent24h *decimal.Decimal
	// ObservedAt is zero when the upstream sent no timestamp.
	ObservedAt       time.Time
	Source           string
}

// Validate reports whether the point may replace the cache.
func (p PricePoint) Validate() error {
	if p.Price.IsNegative() {
		return schemaError(p.Source, fmt.Errorf("negative price %s", p.Price.String()))
	}
	if p.Rank != nil && *p.Rank <= 0 {
		return schemaError(p.Source, fmt.Errorf("non-positive rank %d", *p.Rank))
	}
	return nil
}

// SeriesPoint is one sample of a price history series.
type SeriesPoint struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// Period selects a chart window.
type Period string

const (
	Period24h Period = "24h"
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period90d Period = "90d"
	Period1y  Period = "1y"
)

// ErrUnknownPeriod is returned by ParsePeriod.
var ErrUnknownPeriod = errors.New("unknown chart period")

// Periods lists the supported chart windows in display order.
func Periods() []Period {
	return []Period{Period24h, Period7d, Period30d, Period90d, Period1y}
}

// ParsePeriod normalises user input such as "7D" into a Period.
func ParsePeriod(raw string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Periods() {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, raw)
}

// Lookback is the time span covered by the period.
func (p Period) Lookback() time.Duration {
	switch p {
	case Period24h:
		return 24 * time.Hour
	case Period30d:
		return 30 * 24 * time.Hour
	case Period90d:
		return 90 * 24 * time.Hour
	case Period1y:
		return 365 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// Samples is the number of points requested from upstream history endpoints:
// hourly up to 90 days, daily for a year.
func (p Period) Samples() int {
	switch p {
	case Period24h:
		return 24
	case Period30d:
		return 720
	case Period90d:
		return 2160
	case Period1y:
		return 365
	default:
		return 168
	}
}

// Hourly reports whether the period uses hourly granularity.
func (p Period) Hourly() bool {
	return p != Period1y
}
