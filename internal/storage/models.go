package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"price-ticker/internal/market"
)

// PriceSample is a persisted copy of one fresh reading.
type PriceSample struct {
	ObservedAt       time.Time
	Source           string
	Price            decimal.Decimal
	MarketCapUSD     *decimal.Decimal
	Volume24hUSD     *decimal.Decimal
	Rank             *int
	ChangePercent24h *decimal.Decimal
	CreatedAt        time.Time
}

// SampleFromPoint copies a reading into its stored form.
func SampleFromPoint(p market.PricePoint) PriceSample {
	return PriceSample{
		ObservedAt:       p.ObservedAt.UTC(),
		Source:           p.Source,
		Price:            p.Price,
		MarketCapUSD:     p.MarketCapUSD,
		Volume24hUSD:     p.Volume24hUSD,
		Rank:             p.Rank,
		ChangePercent24h: p.ChangePercent24h,
	}
}

// Point converts the sample back into a reading.
func (s PriceSample) Point() market.PricePoint {
	return market.PricePoint{
		Price:            s.Price,
		MarketCapUSD:     s.MarketCapUSD,
		Volume24hUSD:     s.Volume24hUSD,
		Rank:             s.Rank,
		ChangePercent24h: s.ChangePercent24h,
		ObservedAt:       s.ObservedAt,
		Source:           s.Source,
	}
}

// SeriesPoint projects the sample onto a chart point.
func (s PriceSample) SeriesPoint() market.SeriesPoint {
	return market.SeriesPoint{Timestamp: s.ObservedAt, Price: s.Price}
}
